package adapter

import (
	"bytes"
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	m "github.com/jugglinmike/test262-harness/internal/model"
)

// HarnessTemplateVersion identifies the layout of the generated harness
// script. Bump it whenever the sentinel contract below changes.
const HarnessTemplateVersion = 1

// Sentinel lines written to stdout by the harness script.
const (
	DoneSentinel  = "test262/done"
	ErrorSentinel = "test262/error "
)

const strictDirective = `"use strict";`

//go:embed templates/harness_v1.js.tmpl
var harnessTemplateText string

var harnessTemplate = template.Must(template.New("harness_v1").Parse(harnessTemplateText))

type harnessParams struct {
	Strict        bool
	Async         bool
	NodeHooks     bool
	Print         string
	Body          string
	DoneSentinel  string
	ErrorSentinel string
}

// WrapProgram renders the program a host runs for an execution. Raw
// scenarios are returned verbatim; everything else is wrapped with the print
// routine, the $DONE handler and the completion sentinel.
func WrapProgram(exec m.Execution, host m.HostConfig) (string, error) {
	scenario := exec.Scenario
	if scenario.Metadata.Flags.Raw {
		return exec.Source, nil
	}

	body, strict := splitStrictDirective(exec.Source)

	params := harnessParams{
		Strict:        strict,
		Async:         scenario.Metadata.Flags.Async,
		NodeHooks:     host.Type == HostNode,
		Print:         printCommand(host),
		Body:          body,
		DoneSentinel:  DoneSentinel,
		ErrorSentinel: ErrorSentinel,
	}

	var buf bytes.Buffer
	if err := harnessTemplate.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("render harness v%d: %w", HarnessTemplateVersion, err)
	}

	return buf.String(), nil
}

// splitStrictDirective removes a leading "use strict" directive so the
// template can keep it as the first statement of the program.
func splitStrictDirective(source string) (string, bool) {
	trimmed := strings.TrimLeft(source, " \t\r\n")
	for _, directive := range []string{strictDirective, `'use strict';`} {
		if strings.HasPrefix(trimmed, directive) {
			return strings.TrimPrefix(trimmed, directive), true
		}
	}

	return source, false
}

var errorLinePattern = regexp.MustCompile(`^\s*(?:Uncaught\s+)?(?:[^\s:]+:\d+:\s*)?([\w$]*(?:Error|Exception))(?::\s?(.*))?$`)

// ParseErrorSentinel parses "Name: message" as written after ErrorSentinel.
func ParseErrorSentinel(text string) *m.ErrorInfo {
	name, message, found := strings.Cut(text, ":")
	if !found {
		return &m.ErrorInfo{Name: "Error", Message: strings.TrimSpace(text)}
	}

	return &m.ErrorInfo{Name: strings.TrimSpace(name), Message: strings.TrimSpace(message)}
}

// extractError derives the raised error from captured output. The error
// sentinel wins; otherwise the first line of stderr that looks like
// "SomeError: message" is used.
func extractError(stdout []string, stderr string) *m.ErrorInfo {
	for _, line := range stdout {
		if rest, ok := strings.CutPrefix(line, ErrorSentinel); ok {
			return ParseErrorSentinel(rest)
		}
	}

	lines := strings.Split(stderr, "\n")
	for i, line := range lines {
		match := errorLinePattern.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if match == nil {
			continue
		}

		return &m.ErrorInfo{
			Name:    match[1],
			Message: strings.TrimSpace(match[2]),
			Stack:   strings.TrimSpace(strings.Join(lines[i+1:], "\n")),
		}
	}

	return nil
}

// splitLines splits captured output into lines, dropping the trailing
// empty line left by a final newline.
func splitLines(output string) []string {
	if output == "" {
		return []string{}
	}

	lines := strings.Split(strings.ReplaceAll(output, "\r\n", "\n"), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	return lines
}

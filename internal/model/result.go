package model

import (
	"strings"
	"time"
)

// Completion tells whether an execution settled or was cut off.
type Completion string

// Completion values.
const (
	Completed Completion = "completed"
	TimedOut  Completion = "timedOut"
)

// ErrorInfo is the structured error raised by an execution.
type ErrorInfo struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// RawResult is the unclassified record of one execution.
type RawResult struct {
	Completion Completion    `json:"completion"`
	Stdout     []string      `json:"stdout"`
	Stderr     string        `json:"stderr"`
	Error      *ErrorInfo    `json:"error"`
	Duration   time.Duration `json:"duration"`
}

// Contains reports whether text occurs anywhere in the captured stdout,
// so hosts that prefix or pad their output lines still match.
func (r *RawResult) Contains(text string) bool {
	if r == nil {
		return false
	}

	for _, line := range r.Stdout {
		if strings.Contains(line, text) {
			return true
		}
	}

	return false
}

// Verdict is the pass/fail classification attached to a scenario.
type Verdict struct {
	Pass    bool   `json:"pass"`
	Message string `json:"message,omitempty"`
}

// Summary aggregates the verdicts of a run.
type Summary struct {
	Total    int           `json:"total"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	TimedOut int           `json:"timedOut"`
	Duration time.Duration `json:"duration"`
}

// Add folds one settled scenario into the summary.
func (s *Summary) Add(scenario *Scenario) {
	s.Total++

	if scenario.Status == StatusTimeout {
		s.TimedOut++
	}

	if scenario.Result != nil && scenario.Result.Pass {
		s.Passed++
		return
	}

	s.Failed++
}

// PassRate returns the fraction of passing scenarios. An empty run scores 1.
func (s Summary) PassRate() float64 {
	if s.Total == 0 {
		return 1
	}

	return float64(s.Passed) / float64(s.Total)
}

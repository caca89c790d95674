package adapter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "github.com/jugglinmike/test262-harness/internal/model"
)

func execution(source string, flags m.Flags) m.Execution {
	return m.Execution{
		Scenario: &m.Scenario{
			RelativePath: "test/sample.js",
			Variant:      m.VariantDefault,
			SourceText:   source,
			Metadata:     m.Metadata{Flags: flags},
		},
		Source: source,
	}
}

func TestWrapProgram(t *testing.T) {
	t.Run("raw scenarios run verbatim", func(t *testing.T) {
		source := "'use strict'; x = 1;"

		program, err := WrapProgram(execution(source, m.Flags{Raw: true}), m.HostConfig{Type: HostNode})
		require.NoError(t, err)
		assert.Equal(t, source, program)
	})

	t.Run("sync scenario ends with the done sentinel", func(t *testing.T) {
		program, err := WrapProgram(execution("var a = 1;", m.Flags{}), m.HostConfig{Type: HostD8})
		require.NoError(t, err)

		assert.Contains(t, program, "function $LOG(str) { print(String(str)); }")
		assert.Contains(t, program, "var a = 1;")
		assert.True(t, strings.HasSuffix(program, `;$LOG("test262/done");`))
		assert.NotContains(t, program, "function $DONE")
		assert.NotContains(t, program, "process.on")
	})

	t.Run("async scenario gets $DONE and no trailing sentinel", func(t *testing.T) {
		program, err := WrapProgram(execution("$DONE();", m.Flags{Async: true}), m.HostConfig{Type: HostD8})
		require.NoError(t, err)

		assert.Contains(t, program, "function $DONE(err)")
		assert.False(t, strings.HasSuffix(program, `;$LOG("test262/done");`))
	})

	t.Run("strict directive stays the first statement", func(t *testing.T) {
		program, err := WrapProgram(execution("\"use strict\";\nvar a = 1;", m.Flags{}), m.HostConfig{Type: HostD8})
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(program, `"use strict";`))
		assert.Equal(t, 1, strings.Count(program, `"use strict";`))
	})

	t.Run("node gets console.log and process hooks", func(t *testing.T) {
		program, err := WrapProgram(execution("var a;", m.Flags{}), m.HostConfig{Type: HostNode})
		require.NoError(t, err)

		assert.Contains(t, program, "console.log(String(str))")
		assert.Contains(t, program, `process.on("uncaughtException"`)
		assert.Contains(t, program, `process.on("unhandledRejection"`)
	})

	t.Run("print override wins", func(t *testing.T) {
		program, err := WrapProgram(execution("var a;", m.Flags{}), m.HostConfig{Type: HostD8, PrintCommand: "debug"})
		require.NoError(t, err)

		assert.Contains(t, program, "debug(String(str))")
	})
}

func TestExtractError(t *testing.T) {
	tests := []struct {
		name   string
		stdout []string
		stderr string
		want   *m.ErrorInfo
	}{
		{
			name:   "no error",
			stdout: []string{"hello", DoneSentinel},
		},
		{
			name:   "sentinel on stdout",
			stdout: []string{"test262/error Test262Error: expected true"},
			stderr: "TypeError: ignored",
			want:   &m.ErrorInfo{Name: "Test262Error", Message: "expected true"},
		},
		{
			name:   "stderr error line with stack",
			stderr: "/tmp/t1.js:3\nSyntaxError: Unexpected token\n    at foo\n",
			want:   &m.ErrorInfo{Name: "SyntaxError", Message: "Unexpected token", Stack: "at foo"},
		},
		{
			name:   "uncaught prefix",
			stderr: "Uncaught ReferenceError: x is not defined",
			want:   &m.ErrorInfo{Name: "ReferenceError", Message: "x is not defined"},
		},
		{
			name:   "file location prefix",
			stderr: "t1.js:1: TypeError: boom",
			want:   &m.ErrorInfo{Name: "TypeError", Message: "boom"},
		},
		{
			name:   "bare Error without message",
			stderr: "Error",
			want:   &m.ErrorInfo{Name: "Error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractError(tt.stdout, tt.stderr))
		})
	}
}

func TestParseErrorSentinel(t *testing.T) {
	assert.Equal(t, &m.ErrorInfo{Name: "RangeError", Message: "bad: worse"}, ParseErrorSentinel("RangeError: bad: worse"))
	assert.Equal(t, &m.ErrorInfo{Name: "Error", Message: "oops"}, ParseErrorSentinel("oops"))
}

func TestSplitLines(t *testing.T) {
	assert.Equal(t, []string{}, splitLines(""))
	assert.Equal(t, []string{"a", "b"}, splitLines("a\r\nb\n"))
	assert.Equal(t, []string{"a", "", "b"}, splitLines("a\n\nb"))
}

package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jugglinmike/test262-harness/internal/adapter"
	"github.com/jugglinmike/test262-harness/internal/domain"
	m "github.com/jugglinmike/test262-harness/internal/model"
)

func TestValidate(t *testing.T) {
	doneOut := []string{"prelude", adapter.DoneSentinel}
	syntaxNegative := &m.Negative{Phase: m.PhaseParse, Type: "SyntaxError"}

	tests := []struct {
		name     string
		status   m.Status
		metadata m.Metadata
		raw      *m.RawResult
		want     m.Verdict
	}{
		{
			name:   "timeout",
			status: m.StatusTimeout,
			raw:    &m.RawResult{Completion: m.TimedOut},
			want:   m.Verdict{Message: domain.MsgTimedOut},
		},
		{
			name: "no raw result",
			want: m.Verdict{Message: domain.MsgIncomplete},
		},
		{
			name: "positive completes",
			raw:  &m.RawResult{Stdout: doneOut},
			want: m.Verdict{Pass: true},
		},
		{
			name: "completion signal inside a padded line",
			raw:  &m.RawResult{Stdout: []string{"[d8] " + adapter.DoneSentinel + " "}},
			want: m.Verdict{Pass: true},
		},
		{
			name: "positive without completion signal",
			raw:  &m.RawResult{Stdout: []string{"partial"}},
			want: m.Verdict{Message: domain.MsgIncomplete},
		},
		{
			name:     "raw test needs no completion signal",
			metadata: m.Metadata{Flags: m.Flags{Raw: true}},
			raw:      &m.RawResult{Stdout: []string{}},
			want:     m.Verdict{Pass: true},
		},
		{
			name: "assertion failure message is verbatim",
			raw:  &m.RawResult{Error: &m.ErrorInfo{Name: "Test262Error", Message: "Expected SameValue(1, 2) to be true"}},
			want: m.Verdict{Message: "Expected SameValue(1, 2) to be true"},
		},
		{
			name: "unexpected error",
			raw:  &m.RawResult{Error: &m.ErrorInfo{Name: "TypeError", Message: "x is not a function"}},
			want: m.Verdict{Message: "Expected no error, got TypeError: x is not a function"},
		},
		{
			name:     "negative with matching error",
			metadata: m.Metadata{Negative: syntaxNegative},
			raw:      &m.RawResult{Error: &m.ErrorInfo{Name: "SyntaxError", Message: "unexpected token"}},
			want:     m.Verdict{Pass: true},
		},
		{
			name:     "negative without error",
			metadata: m.Metadata{Negative: syntaxNegative},
			raw:      &m.RawResult{Stdout: doneOut},
			want:     m.Verdict{Message: "Expected test to throw error of type SyntaxError, but did not throw error"},
		},
		{
			name:     "negative with wrong error",
			metadata: m.Metadata{Negative: syntaxNegative},
			raw:      &m.RawResult{Error: &m.ErrorInfo{Name: "TypeError", Message: "y"}},
			want:     m.Verdict{Message: "Expected test to throw error of type SyntaxError, got TypeError: y"},
		},
		{
			name:     "legacy negative flag with any error",
			metadata: m.Metadata{Flags: m.Flags{Negative: true}},
			raw:      &m.RawResult{Error: &m.ErrorInfo{Name: "RangeError", Message: "z"}},
			want:     m.Verdict{Pass: true},
		},
		{
			name:     "legacy negative flag without error",
			metadata: m.Metadata{Flags: m.Flags{Negative: true}},
			raw:      &m.RawResult{Stdout: doneOut},
			want:     m.Verdict{Message: domain.MsgExpectedThrow},
		},
		{
			name:     "legacy flag takes precedence over negative type",
			metadata: m.Metadata{Flags: m.Flags{Negative: true}, Negative: syntaxNegative},
			raw:      &m.RawResult{Error: &m.ErrorInfo{Name: "TypeError", Message: "w"}},
			want:     m.Verdict{Pass: true},
		},
		{
			name: "host error is an unexpected error",
			raw:  &m.RawResult{Error: &m.ErrorInfo{Name: domain.HostErrorName, Message: "exec: not found"}},
			want: m.Verdict{Message: "Expected no error, got HostError: exec: not found"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &m.Scenario{Status: tt.status, Metadata: tt.metadata, RawResult: tt.raw}
			if s.Status == m.StatusPending {
				s.Status = m.StatusComplete
			}

			assert.Equal(t, tt.want, domain.Validate(s))
		})
	}
}

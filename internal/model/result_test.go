package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRawResult_Contains(t *testing.T) {
	tests := []struct {
		name   string
		result *RawResult
		want   bool
	}{
		{"nil result", nil, false},
		{"no output", &RawResult{}, false},
		{"exact line", &RawResult{Stdout: []string{"test262/done"}}, true},
		{"padded line", &RawResult{Stdout: []string{"  test262/done\r"}}, true},
		{"prefixed line", &RawResult{Stdout: []string{"[host] test262/done"}}, true},
		{"other lines", &RawResult{Stdout: []string{"hello", "test262/error"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result.Contains("test262/done"))
		})
	}
}

func TestSummary_Add(t *testing.T) {
	var s Summary

	s.Add(&Scenario{Status: StatusComplete, Result: &Verdict{Pass: true}})
	s.Add(&Scenario{Status: StatusComplete, Result: &Verdict{Pass: false}})
	s.Add(&Scenario{Status: StatusTimeout, Result: &Verdict{Pass: false}})

	assert.Equal(t, Summary{Total: 3, Passed: 1, Failed: 2, TimedOut: 1}, s)
	assert.InDelta(t, 1.0/3.0, s.PassRate(), 1e-9)
	assert.Equal(t, 1.0, Summary{}.PassRate())
}

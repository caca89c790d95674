package controller

import (
	m "github.com/jugglinmike/test262-harness/internal/model"
)

func passing(path string, variant m.Variant) *m.Scenario {
	return &m.Scenario{
		RelativePath: m.Path(path),
		Variant:      variant,
		SourceText:   "x;",
		Metadata:     m.Metadata{Description: "a"},
		Status:       m.StatusComplete,
		RawResult: &m.RawResult{
			Completion: m.Completed,
			Stdout:     []string{"test262/done"},
		},
		Result: &m.Verdict{Pass: true},
	}
}

func failing(path string, variant m.Variant, message string) *m.Scenario {
	return &m.Scenario{
		RelativePath: m.Path(path),
		Variant:      variant,
		SourceText:   "throw 1;",
		Metadata:     m.Metadata{Flags: m.Flags{OnlyStrict: true}},
		Status:       m.StatusComplete,
		RawResult: &m.RawResult{
			Completion: m.Completed,
			Stdout:     []string{},
			Error:      &m.ErrorInfo{Name: "Test262Error", Message: message},
		},
		Result: &m.Verdict{Pass: false, Message: message},
	}
}

func timedOut(path string) *m.Scenario {
	return &m.Scenario{
		RelativePath: m.Path(path),
		Variant:      m.VariantDefault,
		Status:       m.StatusTimeout,
		RawResult:    &m.RawResult{Completion: m.TimedOut, Stdout: []string{}},
		Result:       &m.Verdict{Pass: false, Message: "Test timed out"},
	}
}

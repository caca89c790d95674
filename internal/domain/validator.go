package domain

import (
	"fmt"

	"github.com/jugglinmike/test262-harness/internal/adapter"
	m "github.com/jugglinmike/test262-harness/internal/model"
)

// AssertionErrorName is the error type thrown by the test262 assertion
// library. Its message is reported verbatim.
const AssertionErrorName = "Test262Error"

// Verdict messages.
const (
	MsgTimedOut       = "Test timed out"
	MsgIncomplete     = "Test did not run to completion"
	MsgExpectedThrow  = "Expected test to throw some error"
	msgUnexpectedErr  = "Expected no error, got %s: %s"
	msgNoThrowOfType  = "Expected test to throw error of type %s, but did not throw error"
	msgWrongErrorType = "Expected test to throw error of type %s, got %s: %s"
)

// Validate classifies a settled scenario. It only reads the scenario.
func Validate(scenario *m.Scenario) m.Verdict {
	if scenario.Status == m.StatusTimeout {
		return fail(MsgTimedOut)
	}

	raw := scenario.RawResult
	if raw == nil {
		return fail(MsgIncomplete)
	}

	md := scenario.Metadata
	err := raw.Error

	switch {
	case !md.IsNegative():
		return validatePositive(md, raw)
	case md.Flags.Negative:
		if err == nil {
			return fail(MsgExpectedThrow)
		}

		return m.Verdict{Pass: true}
	case err == nil:
		return fail(fmt.Sprintf(msgNoThrowOfType, md.Negative.Type))
	case err.Name == md.Negative.Type:
		return m.Verdict{Pass: true}
	default:
		return fail(fmt.Sprintf(msgWrongErrorType, md.Negative.Type, err.Name, err.Message))
	}
}

func validatePositive(md m.Metadata, raw *m.RawResult) m.Verdict {
	if err := raw.Error; err != nil {
		if err.Name == AssertionErrorName {
			return fail(err.Message)
		}

		return fail(fmt.Sprintf(msgUnexpectedErr, err.Name, err.Message))
	}

	if !md.Flags.Raw && !raw.Contains(adapter.DoneSentinel) {
		return fail(MsgIncomplete)
	}

	return m.Verdict{Pass: true}
}

func fail(message string) m.Verdict {
	return m.Verdict{Pass: false, Message: message}
}

// Package model defines the data structures shared by the harness core,
// the corpus source and the reporters.
package model

// Path represents a file system path.
type Path string

// Variant identifies the transformation applied when one test file produces
// several scenarios. It is used for reporting and correlation only.
type Variant string

// Known scenario variants.
const (
	VariantDefault Variant = "default"
	VariantStrict  Variant = "strict mode"
)

// Status is the dispatch state of a scenario.
type Status string

const (
	// StatusPending marks a scenario that has not settled yet.
	StatusPending Status = ""
	// StatusComplete marks a scenario whose execution settled before the timeout.
	StatusComplete Status = "complete"
	// StatusTimeout marks a scenario whose execution was cut off by the timeout.
	StatusTimeout Status = "timeout"
)

// Flags are the behavior flags declared in a test's front-matter.
type Flags struct {
	Async      bool `json:"async,omitempty"`
	Raw        bool `json:"raw,omitempty"`
	Module     bool `json:"module,omitempty"`
	OnlyStrict bool `json:"onlyStrict,omitempty"`
	NoStrict   bool `json:"noStrict,omitempty"`
	// Negative is the legacy generic "expected to throw some error" flag.
	Negative         bool `json:"negative,omitempty"`
	CanBlockIsFalse  bool `json:"CanBlockIsFalse,omitempty"`
	CanBlockIsTrue   bool `json:"CanBlockIsTrue,omitempty"`
	NonDeterministic bool `json:"non-deterministic,omitempty"`
}

// Phase is the phase in which a negative test is expected to fail.
type Phase string

// Negative test phases.
const (
	PhaseParse      Phase = "parse"
	PhaseResolution Phase = "resolution"
	PhaseRuntime    Phase = "runtime"
)

// Negative describes the error a negative test is expected to raise.
type Negative struct {
	Phase Phase  `json:"phase"`
	Type  string `json:"type"`
}

// Metadata is the immutable structured description of a test.
type Metadata struct {
	Description string    `json:"description,omitempty"`
	ESID        string    `json:"esid,omitempty"`
	Info        string    `json:"info,omitempty"`
	Flags       Flags     `json:"flags"`
	Negative    *Negative `json:"negative,omitempty"`
	Includes    []string  `json:"includes,omitempty"`
	Features    []string  `json:"features,omitempty"`
	Locale      []string  `json:"locale,omitempty"`
}

// IsNegative reports whether the test is expected to throw.
func (md Metadata) IsNegative() bool {
	return md.Flags.Negative || md.Negative != nil
}

// Scenario is one executable unit: a single variant of a test file with its
// fully assembled source text.
//
// Everything but Status, RawResult and Result is set once by the scenario
// source. The dispatcher owns those three fields while the scenario is in
// flight; after emission the scenario is read-only.
type Scenario struct {
	RelativePath Path     `json:"file"`
	Variant      Variant  `json:"scenario"`
	SourceText   string   `json:"contents"`
	Metadata     Metadata `json:"attrs"`

	Status    Status     `json:"status,omitempty"`
	RawResult *RawResult `json:"rawResult,omitempty"`
	Result    *Verdict   `json:"result,omitempty"`
}

// Key returns the correlation key of the scenario.
func (s *Scenario) Key() string {
	return string(s.RelativePath) + " (" + string(s.Variant) + ")"
}

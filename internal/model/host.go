package model

// WorkerState is the lifecycle state of a pooled worker.
type WorkerState int

// Worker states.
const (
	WorkerIdle WorkerState = iota
	WorkerBusy
	WorkerStopped
)

func (ws WorkerState) String() string {
	switch ws {
	case WorkerIdle:
		return "idle"
	case WorkerBusy:
		return "busy"
	case WorkerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SourceTransform rewrites scenario source text before execution.
type SourceTransform func(source string) (string, error)

// HostConfig selects and parameterizes the runtime under test.
type HostConfig struct {
	Type string
	Path string
	Args []string
	// Image is the container image used by the docker host.
	Image string
	// PrintCommand overrides the host's print routine (e.g. "console.log").
	PrintCommand string
	Transform    SourceTransform
}

// Execution is a scenario paired with the program text a host runs for it,
// i.e. the scenario source after the host's source transform.
type Execution struct {
	Scenario *Scenario
	Source   string
}

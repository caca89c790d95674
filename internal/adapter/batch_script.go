package adapter

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"

	m "github.com/jugglinmike/test262-harness/internal/model"
)

// BatchTemplateVersion identifies the layout of the batch harness script.
// Every test of a batch runs in a fresh realm and its output is closed by
// TestEndSentinel.
const BatchTemplateVersion = 2

// TestEndSentinel closes the output of one test in a batch.
const TestEndSentinel = "test262/test-end"

// BatchAbortedErrorName is reported for the tests of a batch the host never
// reached.
const BatchAbortedErrorName = "BatchAborted"

//go:embed templates/harness_v2.js.tmpl
var batchTemplateText string

var batchTemplate = template.Must(template.New("harness_v2").Parse(batchTemplateText))

// realmHooks are the host specific snippets that create a fresh realm
// ("env"), define a global in it and evaluate "test.source" inside it.
type realmHooks struct {
	CreateEnv string
	SetGlobal string
	Evaluate  string
}

var batchRealms = map[string]realmHooks{
	HostNode: {
		CreateEnv: `require("vm").createContext({})`,
		SetGlobal: `env[name] = value`,
		Evaluate:  `require("vm").runInContext(test.source, env)`,
	},
	HostD8: {
		CreateEnv: `Realm.createAllowCrossRealmAccess()`,
		SetGlobal: `Realm.global(env)[name] = value`,
		Evaluate:  `Realm.eval(env, test.source)`,
	},
	HostJSShell: {
		CreateEnv: `newGlobal()`,
		SetGlobal: `env[name] = value`,
		Evaluate:  `env.evaluate(test.source)`,
	},
	HostChakra: {
		CreateEnv: `WScript.LoadScript("", "samethread")`,
		SetGlobal: `env[name] = value`,
		Evaluate:  `env.eval(test.source)`,
	},
}

// BatchHostTypes lists the host types that can run batches.
func BatchHostTypes() []string {
	types := make([]string, 0, len(batchRealms))
	for name := range batchRealms {
		types = append(types, name)
	}

	sort.Strings(types)

	return types
}

type batchTest struct {
	File   string `json:"file"`
	Source string `json:"source"`
	Async  bool   `json:"async"`
}

type batchParams struct {
	realmHooks
	Print           string
	Tests           string
	DoneSentinel    string
	ErrorSentinel   string
	TestEndSentinel string
}

// WrapBatch renders one program that runs every execution in turn, each in
// a fresh realm of the host. Module scenarios cannot be evaluated that way
// and are rejected.
func WrapBatch(jobs []m.Execution, host m.HostConfig) (string, error) {
	hooks, ok := batchRealms[host.Type]
	if !ok {
		return "", fmt.Errorf("host type %q cannot run batches (supported: %v)", host.Type, BatchHostTypes())
	}

	return renderBatch(jobs, hooks, printCommand(host))
}

func renderBatch(jobs []m.Execution, hooks realmHooks, printFn string) (string, error) {
	tests := make([]batchTest, 0, len(jobs))

	for _, job := range jobs {
		flags := job.Scenario.Metadata.Flags
		if flags.Module {
			return "", fmt.Errorf("module scenario %s cannot run in a batch", job.Scenario.Key())
		}

		tests = append(tests, batchTest{
			File:   string(job.Scenario.RelativePath),
			Source: job.Source,
			Async:  flags.Async,
		})
	}

	encoded, err := json.Marshal(tests)
	if err != nil {
		return "", fmt.Errorf("encode batch: %w", err)
	}

	params := batchParams{
		realmHooks:      hooks,
		Print:           printFn,
		Tests:           string(encoded),
		DoneSentinel:    DoneSentinel,
		ErrorSentinel:   ErrorSentinel,
		TestEndSentinel: TestEndSentinel,
	}

	var buf bytes.Buffer
	if err := batchTemplate.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("render harness v%d: %w", BatchTemplateVersion, err)
	}

	return buf.String(), nil
}

// splitBatchOutput cuts the stdout of a batch at every TestEndSentinel. The
// lines after the last sentinel belong to the test that was running when
// the host exited.
func splitBatchOutput(lines []string) (settled [][]string, rest []string) {
	rest = []string{}

	for _, line := range lines {
		if strings.Contains(line, TestEndSentinel) {
			settled = append(settled, rest)
			rest = []string{}

			continue
		}

		rest = append(rest, line)
	}

	return settled, rest
}

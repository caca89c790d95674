package adapter

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	m "github.com/jugglinmike/test262-harness/internal/model"
)

// ErrTransform marks failures of the source transform command.
var ErrTransform = errors.New("source transform failed")

// CommandTransform returns a source transform that pipes scenario source
// text through a shell command, e.g. a transpiler reading stdin.
func CommandTransform(command string) m.SourceTransform {
	if strings.TrimSpace(command) == "" {
		return nil
	}

	return func(source string) (string, error) {
		cmd := exec.Command("sh", "-c", command)
		cmd.Stdin = strings.NewReader(source)

		var stdout, stderr bytes.Buffer

		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return "", fmt.Errorf("%w: %s: %v: %s", ErrTransform, command, err, strings.TrimSpace(stderr.String()))
		}

		return stdout.String(), nil
	}
}

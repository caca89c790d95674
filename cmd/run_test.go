package cmd

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jugglinmike/test262-harness/internal/controller"
	"github.com/jugglinmike/test262-harness/internal/domain"
	domainmocks "github.com/jugglinmike/test262-harness/internal/domain/mocks"
)

func newTestRunCmd(t *testing.T) (*domainmocks.MockWorkflow, func(args ...string) error) {
	t.Helper()

	mockWorkflow := domainmocks.NewMockWorkflow(t)

	originalWorkflow := workflow
	workflow = mockWorkflow
	t.Cleanup(func() { workflow = originalWorkflow })

	execute := func(args ...string) error {
		cmd := newRootCmd()
		cmd.AddCommand(newRunCmd())
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(append([]string{"run"}, args...))

		return cmd.Execute()
	}

	return mockWorkflow, execute
}

func TestRunCmd_Defaults(t *testing.T) {
	mockWorkflow, execute := newTestRunCmd(t)

	mockWorkflow.On("Test", mock.Anything, mock.MatchedBy(func(args domain.TestArgs) bool {
		_, simple := args.Reporter.(*controller.SimpleUI)

		return args.Run.PoolSize == 1 &&
			args.Run.Timeout == 10*time.Second &&
			args.Run.StopGrace == 2*time.Second &&
			args.Run.ReplaceTimedOut &&
			args.Run.BatchSize == 1 &&
			!args.SaveCompiled &&
			args.Run.Host.Type == "node" &&
			args.Run.Host.Transform == nil &&
			args.Shard == domain.Shard{Index: 0, Total: 1} &&
			len(args.Corpus.Patterns) == 1 &&
			args.Corpus.Patterns[0] == "test" &&
			simple
	})).Return(nil)

	require.NoError(t, execute())
}

func TestRunCmd_Flags(t *testing.T) {
	mockWorkflow, execute := newTestRunCmd(t)

	mockWorkflow.EXPECT().Test(mock.Anything, mock.Anything).
		Run(func(_ context.Context, args domain.TestArgs) {
			assert.Equal(t, 4, args.Run.PoolSize)
			assert.Equal(t, 500*time.Millisecond, args.Run.Timeout)
			assert.False(t, args.Run.ReplaceTimedOut)
			assert.Equal(t, "d8", args.Run.Host.Type)
			assert.Equal(t, "/opt/v8/d8", args.Run.Host.Path)
			assert.Equal(t, []string{"--harmony"}, args.Run.Host.Args)
			assert.NotNil(t, args.Run.Host.Transform)
			assert.Equal(t, domain.Shard{Index: 1, Total: 3}, args.Shard)
			assert.Equal(t, []string{"test/built-ins/Array", "test/language/**/*.js"}, args.Corpus.Patterns)
			assert.Equal(t, []string{"BigInt", "Symbol"}, args.Corpus.Features)
			assert.Equal(t, "/src/test262", args.Corpus.Test262Dir)
			assert.Equal(t, "prelude.js", args.Corpus.PreludePath)
			assert.Equal(t, 4, args.Corpus.Buffer)
		}).
		Return(nil)

	err := execute(
		"-t", "4",
		"--timeout", "500",
		"--replace-timed-out=false",
		"--host-type", "d8",
		"--host-path", "/opt/v8/d8",
		"--host-args=--harmony",
		"--transform-cmd", "cat",
		"--shard", "1/3",
		"--features", "BigInt,Symbol",
		"--test262-dir", "/src/test262",
		"--prelude", "prelude.js",
		"test/built-ins/Array", "test/language/**/*.js",
	)
	require.NoError(t, err)
}

func TestRunCmd_DefaultPatternUnderTest262Dir(t *testing.T) {
	mockWorkflow, execute := newTestRunCmd(t)

	mockWorkflow.On("Test", mock.Anything, mock.MatchedBy(func(args domain.TestArgs) bool {
		return len(args.Corpus.Patterns) == 1 &&
			args.Corpus.Patterns[0] == filepath.Join("/src/test262", "test")
	})).Return(nil)

	require.NoError(t, execute("--test262-dir", "/src/test262"))
}

func TestRunCmd_InvalidConfiguration(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"process host without path", []string{"--host-type", "d8"}, "requires --host-path"},
		{"docker without image", []string{"--host-type", "docker"}, "--host-image"},
		{"unknown host", []string{"--host-type", "rhino"}, "unknown host type"},
		{"bad shard", []string{"--shard", "3/3"}, "INDEX/TOTAL"},
		{"unknown reporter", []string{"-r", "xml"}, "unknown reporter"},
		{"keys without json", []string{"--reporter-keys", "file"}, "require the json reporter"},
		{"sort without json", []string{"--sort"}, "require the json reporter"},
		{"unknown key", []string{"-r", "json", "--reporter-keys", "file,stack"}, "unknown reporter key"},
		{"zero batch", []string{"--batch", "0"}, "must be at least 1"},
		{"batch on a host without realms", []string{"--host-type", "goja", "--batch", "4"}, "--batch requires one of the host types"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, execute := newTestRunCmd(t)

			err := execute(tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRunCmd_HostsWithoutPath(t *testing.T) {
	for _, args := range [][]string{
		{"--host-type", "node"},
		{"--host-type", "goja"},
		{"--host-type", "docker", "--host-image", "node:22-alpine"},
	} {
		t.Run(args[1], func(t *testing.T) {
			mockWorkflow, execute := newTestRunCmd(t)

			mockWorkflow.EXPECT().Test(mock.Anything, mock.Anything).Return(nil)

			require.NoError(t, execute(args...))
		})
	}
}

func TestRunCmd_JSONReporter(t *testing.T) {
	mockWorkflow, execute := newTestRunCmd(t)

	mockWorkflow.On("Test", mock.Anything, mock.MatchedBy(func(args domain.TestArgs) bool {
		_, ok := args.Reporter.(*controller.JSONReporter)
		return ok
	})).Return(nil)

	require.NoError(t, execute("-r", "json", "--reporter-keys", "file,result", "--sort"))
}

func TestRunCmd_TUIReporter(t *testing.T) {
	mockWorkflow, execute := newTestRunCmd(t)

	mockWorkflow.On("Test", mock.Anything, mock.MatchedBy(func(args domain.TestArgs) bool {
		_, ok := args.Reporter.(*controller.TUIReporter)
		return ok
	})).Return(nil)

	require.NoError(t, execute("--reporter", "tui"))
}

func TestRunCmd_StoreReporter(t *testing.T) {
	mockWorkflow, execute := newTestRunCmd(t)

	mockWorkflow.On("Test", mock.Anything, mock.MatchedBy(func(args domain.TestArgs) bool {
		_, ok := args.Reporter.(*controller.StoreReporter)
		return ok
	})).Return(nil)

	db := filepath.Join(t.TempDir(), "results.db")
	require.NoError(t, execute("-r", "store", "--db", db))
	assert.FileExists(t, db)
}

func TestRunCmd_PropagatesWorkflowError(t *testing.T) {
	mockWorkflow, execute := newTestRunCmd(t)

	mockWorkflow.EXPECT().Test(mock.Anything, mock.Anything).
		Return(fmt.Errorf("run: %w", domain.ErrTestsFailed))

	err := execute()
	require.ErrorIs(t, err, domain.ErrTestsFailed)
	assert.Equal(t, ExitTestsFailed, exitCode(err))
}

func TestRunCmd_BatchAndSaveCompiled(t *testing.T) {
	mockWorkflow, execute := newTestRunCmd(t)

	mockWorkflow.EXPECT().Test(mock.Anything, mock.Anything).
		Run(func(_ context.Context, args domain.TestArgs) {
			assert.Equal(t, 16, args.Run.BatchSize)
			assert.Equal(t, "d8", args.Run.Host.Type)
			assert.True(t, args.SaveCompiled)
		}).
		Return(nil)

	require.NoError(t, execute("--host-type", "d8", "--host-path", "/opt/v8/d8", "--batch", "16", "--save-compiled"))
}

func TestRunCmd_DepletedPoolNamesTheFlag(t *testing.T) {
	mockWorkflow, execute := newTestRunCmd(t)

	mockWorkflow.EXPECT().Test(mock.Anything, mock.Anything).Return(domain.ErrPoolDepleted)

	err := execute("--replace-timed-out=false")
	require.ErrorIs(t, err, domain.ErrPoolDepleted)
	assert.Contains(t, err.Error(), "--replace-timed-out")
	assert.Equal(t, ExitCommandError, exitCode(err))
}

package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "github.com/jugglinmike/test262-harness/internal/model"
)

func newGoja(t *testing.T) Worker {
	t.Helper()

	w, err := NewGojaWorker(context.Background(), m.HostConfig{Type: HostGoja})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Destroy(context.Background()) })

	return w
}

func TestGojaWorker_Execute(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		flags    m.Flags
		wantErr  *m.ErrorInfo
		wantDone bool
	}{
		{
			name:     "passing script prints the done sentinel",
			source:   "var x = 1 + 1; print('two is ' + x);",
			wantDone: true,
		},
		{
			name:    "thrown TypeError",
			source:  "null.foo;",
			wantErr: &m.ErrorInfo{Name: "TypeError"},
		},
		{
			name:    "syntax error",
			source:  "var = ;",
			wantErr: &m.ErrorInfo{Name: "SyntaxError"},
		},
		{
			name:    "harness error without a name property",
			source:  "function Test262Error(message) { this.message = message; }\nthrow new Test262Error('nope');",
			wantErr: &m.ErrorInfo{Name: "Test262Error", Message: "nope"},
		},
		{
			name:     "async completion through $DONE",
			source:   "Promise.resolve().then(function () { $DONE(); });",
			flags:    m.Flags{Async: true},
			wantDone: true,
		},
		{
			name:    "async failure through $DONE",
			source:  "Promise.resolve().then(function () { $DONE(new RangeError('late')); });",
			flags:   m.Flags{Async: true},
			wantErr: &m.ErrorInfo{Name: "RangeError", Message: "late"},
		},
		{
			name:    "modules are not supported",
			source:  "export default 1;",
			flags:   m.Flags{Module: true},
			wantErr: &m.ErrorInfo{Name: "Error", Message: errModulesUnsupported.Error()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newGoja(t)

			result, err := w.Execute(context.Background(), execution(tt.source, tt.flags))
			require.NoError(t, err)

			assert.Equal(t, m.Completed, result.Completion)
			assert.Equal(t, tt.wantDone, result.Contains(DoneSentinel))

			if tt.wantErr == nil {
				assert.Nil(t, result.Error)
				return
			}

			require.NotNil(t, result.Error)
			assert.Equal(t, tt.wantErr.Name, result.Error.Name)

			if tt.wantErr.Message != "" {
				assert.Equal(t, tt.wantErr.Message, result.Error.Message)
			}
		})
	}
}

func TestGojaWorker_FreshRuntimePerExecution(t *testing.T) {
	w := newGoja(t)

	_, err := w.Execute(context.Background(), execution("var leaked = 1;", m.Flags{}))
	require.NoError(t, err)

	result, err := w.Execute(context.Background(), execution("leaked;", m.Flags{}))
	require.NoError(t, err)
	require.NotNil(t, result.Error)
	assert.Equal(t, "ReferenceError", result.Error.Name)
}

func TestGojaWorker_InterruptedByContext(t *testing.T) {
	w := newGoja(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := w.Execute(ctx, execution("while (true) {}", m.Flags{}))
	assert.Error(t, err)
}

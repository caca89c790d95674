package adapter

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "github.com/jugglinmike/test262-harness/internal/model"
)

func TestNewWorkerFactory(t *testing.T) {
	for _, hostType := range HostTypes() {
		t.Run(hostType, func(t *testing.T) {
			factory, err := NewWorkerFactory(hostType)
			require.NoError(t, err)
			assert.NotNil(t, factory)
		})
	}

	t.Run("unknown host", func(t *testing.T) {
		_, err := NewWorkerFactory("netscape")
		assert.ErrorContains(t, err, `unknown host type "netscape"`)
	})
}

func TestHostTypes(t *testing.T) {
	types := HostTypes()

	assert.True(t, sort.StringsAreSorted(types))
	assert.Contains(t, types, HostGoja)
	assert.Contains(t, types, HostDocker)
	assert.Contains(t, types, HostNode)
}

func TestPrintCommand(t *testing.T) {
	tests := []struct {
		name string
		host m.HostConfig
		want string
	}{
		{name: "node", host: m.HostConfig{Type: HostNode}, want: "console.log"},
		{name: "d8", host: m.HostConfig{Type: HostD8}, want: "print"},
		{name: "override", host: m.HostConfig{Type: HostNode, PrintCommand: "$262.log"}, want: "$262.log"},
		{name: "docker running node", host: m.HostConfig{Type: HostDocker, Path: "/usr/local/bin/node"}, want: "console.log"},
		{name: "docker running unknown", host: m.HostConfig{Type: HostDocker, Path: "qjs"}, want: "print"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, printCommand(tt.host))
		})
	}
}

func TestNewBatchWorkerFactory(t *testing.T) {
	for _, hostType := range BatchHostTypes() {
		t.Run(hostType, func(t *testing.T) {
			factory, err := NewBatchWorkerFactory(hostType)
			require.NoError(t, err)
			assert.NotNil(t, factory)
		})
	}

	t.Run("host without realms", func(t *testing.T) {
		_, err := NewBatchWorkerFactory(HostGoja)
		assert.ErrorContains(t, err, "cannot run batches")
	})
}

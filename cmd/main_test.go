package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "test262-harness-cmd-*")
	if err != nil {
		panic(err)
	}

	viper.Set(logFilenameKey, filepath.Join(dir, "test.log"))

	code := m.Run()

	_ = os.RemoveAll(dir)
	os.Exit(code)
}

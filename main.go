// Package main is the entry point for the test262-harness CLI.
package main

import "github.com/jugglinmike/test262-harness/cmd"

func main() {
	cmd.Execute()
}

// Package main is the entry point for the shuttle CLI.
package main

import (
	"github.com/mathew-j-davis/shuttle/cmd/shuttle/cmd"
)

func main() {
	cmd.Execute()
}

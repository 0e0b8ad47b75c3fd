// Package actions holds the side-effecting collaborators of the engine: the
// shell command runner and the registry of named custom step objects.
package actions

import (
	"context"
)

// CommandResult is the outcome of one shell command.
type CommandResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitStatus int    `json:"exit_status"`
}

// Success reports a zero exit status.
func (r CommandResult) Success() bool {
	return r.ExitStatus == 0
}

// RunnerFunc adapts a function to schema.Runner.
type RunnerFunc func(ctx context.Context) (any, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context) (any, error) {
	return f(ctx)
}

// StepInfo is a summary of a registered custom step for listing.
type StepInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

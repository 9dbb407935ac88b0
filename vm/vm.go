// Package vm defines the transient verification machine facade. A circuit
// configured for remote verification owns one instance; the verifier starts
// it, runs the verification command on it and stops it again.
package vm

import "context"

// CommandStatus is the lifecycle state of a command issued to an instance.
type CommandStatus string

// Command statuses as reported by the executor backend.
const (
	StatusPending    CommandStatus = "Pending"
	StatusInProgress CommandStatus = "InProgress"
	StatusDelayed    CommandStatus = "Delayed"
	StatusSuccess    CommandStatus = "Success"
	StatusCancelled  CommandStatus = "Cancelled"
	StatusCancelling CommandStatus = "Cancelling"
	StatusTimedOut   CommandStatus = "TimedOut"
	StatusFailed     CommandStatus = "Failed"
)

// Aborted reports whether the status makes the coordinator give up on the
// command. Delayed counts: a delayed delivery means the instance stopped
// responding, and the contributor's verification deadline keeps running.
func (s CommandStatus) Aborted() bool {
	switch s {
	case StatusCancelled, StatusCancelling, StatusDelayed, StatusTimedOut, StatusFailed:
		return true
	default:
		return false
	}
}

// Executor drives the lifecycle of verification instances.
type Executor interface {
	// Start powers the instance on. Starting a running instance is a no-op.
	Start(ctx context.Context, instanceID string) error
	// Stop powers the instance off.
	Stop(ctx context.Context, instanceID string) error
	// IsRunning reports whether the instance reached the running state.
	IsRunning(ctx context.Context, instanceID string) (bool, error)
	// RunCommand executes a shell script on the instance and returns the
	// command id used to poll its status.
	RunCommand(ctx context.Context, instanceID string, commands []string) (string, error)
	// CommandStatus returns the current status of an issued command.
	CommandStatus(ctx context.Context, instanceID, commandID string) (CommandStatus, error)
	// CommandOutput returns the standard output of a finished command.
	CommandOutput(ctx context.Context, instanceID, commandID string) (string, error)
}

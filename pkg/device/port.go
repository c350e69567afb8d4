package device

import (
	"context"
	"fmt"
)

// Command is one operation against a managed device's command plane. The path
// vocabulary is resource-style (/interface, /ip/route, /ping, ...) and each
// transport maps it to whatever the platform actually speaks.
type Command struct {
	Path   string            `json:"path"`
	Action string            `json:"action"` // print / execute / set / add / enable / disable / remove
	Query  string            `json:"query,omitempty"`
	Args   map[string]string `json:"args,omitempty"`
}

// CommandResult is the uniform outcome shape for every device command. A
// command that ran but found nothing returns Success=true with empty Data;
// transport-level problems surface as the error return, never a panic.
type CommandResult struct {
	Success bool                `json:"success"`
	Data    []map[string]string `json:"data,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// Port is the remote command-execution boundary consumed by the troubleshoot
// engine. Implementations must honor ctx cancellation and bound their own
// wait; the engine treats a returned error as a timeout/transport failure.
type Port interface {
	ExecuteCommand(ctx context.Context, cmd Command) (*CommandResult, error)
}

// String renders a command for logs and the op log.
func (c Command) String() string {
	s := c.Path + "/" + c.Action
	if c.Query != "" {
		s += " " + c.Query
	}
	for k, v := range c.Args {
		s += fmt.Sprintf(" %s=%s", k, v)
	}
	return s
}

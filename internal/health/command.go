package health

import (
	"context"
	"fmt"
)

// CommandProbe runs an argv inside the service's container. A zero exit
// status is success, anything else is a failure.
type CommandProbe struct {
	Execer    ContainerExecer
	Container string
	Argv      []string
}

// Check implements Probe.
func (p *CommandProbe) Check(ctx context.Context) error {
	if p.Execer == nil {
		return fmt.Errorf("container execer is not configured")
	}
	if len(p.Argv) == 0 {
		return fmt.Errorf("probe command is empty")
	}
	if err := p.Execer.ExecInContainer(ctx, p.Container, p.Argv); err != nil {
		return fmt.Errorf("probe command: %w", err)
	}
	return nil
}

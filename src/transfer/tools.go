package transfer

import (
	"context"
	"errors"
	"fmt"
)

// Tool names offered to the conversation engine
const (
	ToolInitiateWarmTransfer = "initiate_warm_transfer"
	ToolTerminateCall        = "terminate_call"
)

// Tools executes the conversation engine's function calls against a
// Coordinator. Results are returned to the engine as the function response.
type Tools struct {
	coordinator *Coordinator
}

func NewTools(c *Coordinator) *Tools {
	return &Tools{coordinator: c}
}

// Call runs the named tool. Unknown tools return an error result rather
// than failing the turn.
func (t *Tools) Call(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	switch name {
	case ToolInitiateWarmTransfer:
		return t.initiateWarmTransfer(ctx, args)
	case ToolTerminateCall:
		if err := t.coordinator.EndCall(ctx, "agent ended call"); err != nil && !errors.Is(err, ErrSessionClosed) {
			return nil, err
		}
		return map[string]any{"status": "ending"}, nil
	default:
		return map[string]any{"error": fmt.Sprintf("unknown function %q", name)}, nil
	}
}

func (t *Tools) initiateWarmTransfer(ctx context.Context, args map[string]any) (map[string]any, error) {
	targetName, _ := args["target_name"].(string)
	summary, _ := args["summary"].(string)

	err := t.coordinator.InitiateTransfer(ctx, targetName, summary)
	switch {
	case err == nil:
		return map[string]any{"status": "transferring", "target": targetName}, nil
	case errors.Is(err, ErrUnknownTarget):
		return map[string]any{"status": "unknown_target", "available": t.coordinator.Config().TargetNames()}, nil
	case errors.Is(err, ErrTransferInProgress):
		return map[string]any{"status": "transfer_in_progress"}, nil
	default:
		return nil, err
	}
}

package transfer

import "errors"

var (
	// ErrUnknownTarget means the requested target name is not configured
	ErrUnknownTarget = errors.New("unknown transfer target")
	// ErrTransferInProgress means a transfer is already running for the session
	ErrTransferInProgress = errors.New("transfer already in progress")
	// ErrSessionClosed means the call has ended
	ErrSessionClosed = errors.New("session closed")
	// ErrDialBudgetExhausted means every dial attempt was used
	ErrDialBudgetExhausted = errors.New("dial attempts exhausted")
)

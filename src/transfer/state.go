package transfer

// TransferState is the coordinator's position in the warm transfer flow
type TransferState int

const (
	// TalkingToCustomer is the normal conversation with the caller
	TalkingToCustomer TransferState = iota
	// HoldingCustomer covers the hold message and the dial-out
	HoldingCustomer
	// TalkingToAgent covers the briefing of the specialist
	TalkingToAgent
	// Connected means caller and specialist share the call
	Connected
	// TransferFailed is transient; the coordinator resets to TalkingToCustomer
	TransferFailed
)

func (s TransferState) String() string {
	switch s {
	case TalkingToCustomer:
		return "talking_to_customer"
	case HoldingCustomer:
		return "holding_customer"
	case TalkingToAgent:
		return "talking_to_agent"
	case Connected:
		return "connected"
	case TransferFailed:
		return "transfer_failed"
	default:
		return "unknown"
	}
}

// Session is a snapshot of the per-call transfer state
type Session struct {
	ID              string
	State           TransferState
	Target          *TransferTarget
	Summary         string
	DialoutAttempts int
	Closed          bool
}

package frames

// Telephony and call-presence events. They are control frames so they stay
// ordered with speech events on their way to the transfer coordinator.

// CustomerJoinedFrame signals the caller leg is connected
type CustomerJoinedFrame struct {
	*ControlFrame
	CallID string
	From   string
}

func NewCustomerJoinedFrame(callID, from string) *CustomerJoinedFrame {
	return &CustomerJoinedFrame{
		ControlFrame: NewControlFrame("CustomerJoinedFrame"),
		CallID:       callID,
		From:         from,
	}
}

// CustomerLeftFrame signals the caller hung up or the caller leg dropped
type CustomerLeftFrame struct {
	*ControlFrame
	Reason string
}

func NewCustomerLeftFrame(reason string) *CustomerLeftFrame {
	return &CustomerLeftFrame{
		ControlFrame: NewControlFrame("CustomerLeftFrame"),
		Reason:       reason,
	}
}

// DialoutConnectedFrame signals the outbound call is ringing
type DialoutConnectedFrame struct {
	*ControlFrame
	CallID string
}

func NewDialoutConnectedFrame(callID string) *DialoutConnectedFrame {
	return &DialoutConnectedFrame{
		ControlFrame: NewControlFrame("DialoutConnectedFrame"),
		CallID:       callID,
	}
}

// DialoutAnsweredFrame signals the specialist picked up
type DialoutAnsweredFrame struct {
	*ControlFrame
	CallID string
}

func NewDialoutAnsweredFrame(callID string) *DialoutAnsweredFrame {
	return &DialoutAnsweredFrame{
		ControlFrame: NewControlFrame("DialoutAnsweredFrame"),
		CallID:       callID,
	}
}

// DialoutStoppedFrame signals the outbound call ended
type DialoutStoppedFrame struct {
	*ControlFrame
	CallID string
}

func NewDialoutStoppedFrame(callID string) *DialoutStoppedFrame {
	return &DialoutStoppedFrame{
		ControlFrame: NewControlFrame("DialoutStoppedFrame"),
		CallID:       callID,
	}
}

// DialoutErrorFrame signals the outbound call could not be completed
type DialoutErrorFrame struct {
	*ControlFrame
	CallID string
	Reason string
}

func NewDialoutErrorFrame(callID, reason string) *DialoutErrorFrame {
	return &DialoutErrorFrame{
		ControlFrame: NewControlFrame("DialoutErrorFrame"),
		CallID:       callID,
		Reason:       reason,
	}
}

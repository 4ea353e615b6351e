// Package interruptions decides when caller speech may cut the agent off.
package interruptions

// Strategy decides whether the speech the caller just started should
// interrupt the agent. A nil Strategy interrupts as soon as speech starts.
type Strategy interface {
	// AppendText adds transcript of the current caller turn. Interim text
	// replaces the previous interim text; final text is kept.
	AppendText(text string, final bool)

	// ShouldInterrupt reports whether the turn so far warrants an
	// interruption
	ShouldInterrupt() bool

	// Reset starts a new caller turn
	Reset()
}

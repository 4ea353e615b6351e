package frames

// SystemFrame is the base for all system-level frames
type SystemFrame struct {
	*BaseFrame
}

func (f *SystemFrame) Category() FrameCategory {
	return SystemCategory
}

func newSystemFrame(name string) *SystemFrame {
	return &SystemFrame{BaseFrame: NewBaseFrame(name)}
}

// StartFrame signals the beginning of pipeline execution
type StartFrame struct {
	*SystemFrame
	SessionID  string
	SampleRate int // audio sample rate of the call legs (8000 for PSTN)
}

func NewStartFrame() *StartFrame {
	return &StartFrame{
		SystemFrame: newSystemFrame("StartFrame"),
		SampleRate:  8000,
	}
}

// NewStartFrameForSession creates a StartFrame tagged with the call session
func NewStartFrameForSession(sessionID string, sampleRate int) *StartFrame {
	f := NewStartFrame()
	f.SessionID = sessionID
	if sampleRate > 0 {
		f.SampleRate = sampleRate
	}
	return f
}

// EndFrame signals graceful shutdown after flushing all frames
type EndFrame struct {
	*SystemFrame
	Reason string
}

func NewEndFrame() *EndFrame {
	return &EndFrame{SystemFrame: newSystemFrame("EndFrame")}
}

// CancelFrame signals immediate shutdown without flushing
type CancelFrame struct {
	*SystemFrame
}

func NewCancelFrame() *CancelFrame {
	return &CancelFrame{SystemFrame: newSystemFrame("CancelFrame")}
}

// InterruptionFrame signals the caller talked over the bot
type InterruptionFrame struct {
	*SystemFrame
}

func NewInterruptionFrame() *InterruptionFrame {
	return &InterruptionFrame{SystemFrame: newSystemFrame("InterruptionFrame")}
}

// ErrorFrame carries error information through the pipeline
type ErrorFrame struct {
	*SystemFrame
	Error error
	Fatal bool
}

func NewErrorFrame(err error) *ErrorFrame {
	return &ErrorFrame{
		SystemFrame: newSystemFrame("ErrorFrame"),
		Error:       err,
	}
}

// UserStartedSpeakingFrame signals VAD detected user speech
type UserStartedSpeakingFrame struct {
	*SystemFrame
}

func NewUserStartedSpeakingFrame() *UserStartedSpeakingFrame {
	return &UserStartedSpeakingFrame{SystemFrame: newSystemFrame("UserStartedSpeakingFrame")}
}

// UserStoppedSpeakingFrame signals VAD detected end of user speech
type UserStoppedSpeakingFrame struct {
	*SystemFrame
}

func NewUserStoppedSpeakingFrame() *UserStoppedSpeakingFrame {
	return &UserStoppedSpeakingFrame{SystemFrame: newSystemFrame("UserStoppedSpeakingFrame")}
}

package frames

// ControlFrame is the base for control/configuration frames
type ControlFrame struct {
	*BaseFrame
}

func (f *ControlFrame) Category() FrameCategory {
	return ControlCategory
}

// NewControlFrame creates the embedded base for control frames declared
// outside this package
func NewControlFrame(name string) *ControlFrame {
	return &ControlFrame{BaseFrame: NewBaseFrame(name)}
}

// LLMFullResponseStartFrame marks the beginning of an LLM response
type LLMFullResponseStartFrame struct {
	*ControlFrame
}

func NewLLMFullResponseStartFrame() *LLMFullResponseStartFrame {
	return &LLMFullResponseStartFrame{ControlFrame: NewControlFrame("LLMFullResponseStartFrame")}
}

// LLMFullResponseEndFrame marks the end of an LLM response
type LLMFullResponseEndFrame struct {
	*ControlFrame
}

func NewLLMFullResponseEndFrame() *LLMFullResponseEndFrame {
	return &LLMFullResponseEndFrame{ControlFrame: NewControlFrame("LLMFullResponseEndFrame")}
}

// LLMRunFrame asks the conversation engine to generate a reply from its
// current context (e.g. the greeting when the caller joins)
type LLMRunFrame struct {
	*ControlFrame
}

func NewLLMRunFrame() *LLMRunFrame {
	return &LLMRunFrame{ControlFrame: NewControlFrame("LLMRunFrame")}
}

// TTSStartedFrame marks the beginning of TTS synthesis for one utterance
type TTSStartedFrame struct {
	*ControlFrame
	UtteranceID string
}

func NewTTSStartedFrame(utteranceID string) *TTSStartedFrame {
	return &TTSStartedFrame{
		ControlFrame: NewControlFrame("TTSStartedFrame"),
		UtteranceID:  utteranceID,
	}
}

// TTSStoppedFrame marks the end of TTS synthesis for one utterance. The
// audio may still be playing on the call leg; BotStoppedSpeakingFrame
// reports the end of playback.
type TTSStoppedFrame struct {
	*ControlFrame
	UtteranceID string
}

func NewTTSStoppedFrame(utteranceID string) *TTSStoppedFrame {
	return &TTSStoppedFrame{
		ControlFrame: NewControlFrame("TTSStoppedFrame"),
		UtteranceID:  utteranceID,
	}
}

// BotStoppedSpeakingFrame reports that a synthesized utterance finished
// playing on a call leg
type BotStoppedSpeakingFrame struct {
	*ControlFrame
	UtteranceID string
	Leg         Leg
}

func NewBotStoppedSpeakingFrame(utteranceID string, leg Leg) *BotStoppedSpeakingFrame {
	return &BotStoppedSpeakingFrame{
		ControlFrame: NewControlFrame("BotStoppedSpeakingFrame"),
		UtteranceID:  utteranceID,
		Leg:          leg,
	}
}

// STTMuteFrame tells speech recognition to ignore (or resume) input audio
type STTMuteFrame struct {
	*ControlFrame
	Mute bool
}

func NewSTTMuteFrame(mute bool) *STTMuteFrame {
	return &STTMuteFrame{
		ControlFrame: NewControlFrame("STTMuteFrame"),
		Mute:         mute,
	}
}

// HoldAudio is what the mixer plays to the caller while enabled
type HoldAudio string

const (
	HoldAudioMusic    HoldAudio = "music"
	HoldAudioRingback HoldAudio = "ringback"
)

// MixerEnableFrame turns the hold bed on the caller leg on or off
type MixerEnableFrame struct {
	*ControlFrame
	Enable bool
	Source HoldAudio
}

// NewMixerEnableFrame toggles hold music
func NewMixerEnableFrame(enable bool) *MixerEnableFrame {
	return &MixerEnableFrame{
		ControlFrame: NewControlFrame("MixerEnableFrame"),
		Enable:       enable,
		Source:       HoldAudioMusic,
	}
}

// NewRingbackFrame switches the hold bed to a ringback tone
func NewRingbackFrame() *MixerEnableFrame {
	f := NewMixerEnableFrame(true)
	f.Source = HoldAudioRingback
	return f
}

// BotAudioRouteFrame announces which leg(s) receive synthesized speech
type BotAudioRouteFrame struct {
	*ControlFrame
	Destination AudioDestination
}

func NewBotAudioRouteFrame(dest AudioDestination) *BotAudioRouteFrame {
	return &BotAudioRouteFrame{
		ControlFrame: NewControlFrame("BotAudioRouteFrame"),
		Destination:  dest,
	}
}

// EndTaskFrame travels upstream and asks the pipeline task to end the call
type EndTaskFrame struct {
	*ControlFrame
	Reason string
}

func NewEndTaskFrame(reason string) *EndTaskFrame {
	return &EndTaskFrame{
		ControlFrame: NewControlFrame("EndTaskFrame"),
		Reason:       reason,
	}
}

package services

import (
	"context"

	"github.com/square-key-labs/strawgo-transfer/src/processors"
)

// AIService is the base interface for all AI services (STT, TTS, LLM)
type AIService interface {
	processors.FrameProcessor

	// Service lifecycle
	Initialize(ctx context.Context) error
	Cleanup() error
}

// STTService converts speech to text
type STTService interface {
	AIService

	SetLanguage(lang string)
	SetModel(model string)
}

// TTSService converts text to speech
type TTSService interface {
	AIService

	SetVoice(voiceID string)
	SetModel(model string)
}

// LLMService runs the conversation
type LLMService interface {
	AIService

	SetModel(model string)
	SetSystemPrompt(prompt string)
	SetTemperature(temp float64)
	SetToolExecutor(tools ToolExecutor)

	// Context management
	AddMessage(role, content string)
	ClearContext()
}

// ToolExecutor runs the functions the LLM calls. The returned map is sent
// back to the model as the function response.
type ToolExecutor interface {
	Call(ctx context.Context, name string, args map[string]any) (map[string]any, error)
}

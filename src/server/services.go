package server

import (
	"context"

	"github.com/square-key-labs/strawgo-transfer/src/config"
	"github.com/square-key-labs/strawgo-transfer/src/interruptions"
	"github.com/square-key-labs/strawgo-transfer/src/services/deepgram"
	"github.com/square-key-labs/strawgo-transfer/src/services/elevenlabs"
	"github.com/square-key-labs/strawgo-transfer/src/services/gemini"
)

// DefaultServices builds Deepgram, Gemini and ElevenLabs for every session.
// All of them work on the 8kHz u-law audio of the phone legs.
func DefaultServices(cfg *config.Config) ServicesFunc {
	return func(ctx context.Context, sessionID string) (Services, error) {
		llm, err := gemini.NewLLMService(ctx, gemini.LLMConfig{
			APIKey:          cfg.Gemini.APIKey,
			Model:           cfg.Gemini.Model,
			Temperature:     cfg.Gemini.Temperature,
			Project:         cfg.Gemini.Project,
			Location:        cfg.Gemini.Location,
			CredentialsFile: cfg.Gemini.CredentialsFile,
			Functions:       gemini.TransferFunctions(),
		})
		if err != nil {
			return Services{}, err
		}

		sttConfig := deepgram.STTConfig{
			APIKey:   cfg.Deepgram.APIKey,
			Model:    cfg.Deepgram.Model,
			Language: cfg.Deepgram.Language,
			Encoding: "mulaw",
		}
		if cfg.Agent.InterruptionMinWords > 0 {
			sttConfig.Interruption = interruptions.NewMinWords(cfg.Agent.InterruptionMinWords)
		}
		stt := deepgram.NewSTTService(sttConfig)

		tts := elevenlabs.NewTTSService(elevenlabs.TTSConfig{
			APIKey:       cfg.ElevenLabs.APIKey,
			VoiceID:      cfg.ElevenLabs.VoiceID,
			Model:        cfg.ElevenLabs.Model,
			OutputFormat: "ulaw_8000",
		})

		return Services{STT: stt, LLM: llm, TTS: tts}, nil
	}
}

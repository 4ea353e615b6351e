package gemini

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/auth/credentials"
	"google.golang.org/genai"

	"github.com/square-key-labs/strawgo-transfer/src/frames"
	"github.com/square-key-labs/strawgo-transfer/src/processors"
	"github.com/square-key-labs/strawgo-transfer/src/services"
	"github.com/square-key-labs/strawgo-transfer/src/transfer"
)

const DefaultModel = "gemini-2.0-flash"

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// generator is the part of genai's Models service the LLM uses
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

var _ services.LLMService = (*LLMService)(nil)

// LLMService runs the conversation on Google Gemini. It generates a turn
// for every final transcription, for LLMRunFrame and for message appends
// that ask to run. Function calls are executed through the ToolExecutor
// and their results stored in the context; the model is not called again
// for them, so a tool call never produces speech of its own.
type LLMService struct {
	*processors.BaseProcessor
	client       generator
	model        string
	temperature  float64
	systemPrompt string
	functions    []*genai.FunctionDeclaration
	tools        services.ToolExecutor

	mu      sync.Mutex
	history []*genai.Content
}

// LLMConfig holds configuration for Gemini
type LLMConfig struct {
	APIKey       string
	Model        string // e.g., "gemini-2.0-flash"
	SystemPrompt string
	Temperature  float64

	// Vertex AI is used when Project is set. Credentials come from
	// CredentialsFile or, when empty, Application Default Credentials.
	Project         string
	Location        string
	CredentialsFile string

	// Functions offered to the model. Calls are executed by Tools.
	Functions []*genai.FunctionDeclaration
	Tools     services.ToolExecutor
}

// NewLLMService creates a Gemini service backed by the genai client
func NewLLMService(ctx context.Context, config LLMConfig) (*LLMService, error) {
	cc := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}

	if config.Project != "" {
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			Scopes:          []string{cloudPlatformScope},
			CredentialsFile: config.CredentialsFile,
		})
		if err != nil {
			return nil, fmt.Errorf("detect Google credentials: %w", err)
		}
		cc = &genai.ClientConfig{
			Backend:     genai.BackendVertexAI,
			Project:     config.Project,
			Location:    config.Location,
			Credentials: creds,
		}
		if cc.Location == "" {
			cc.Location = "us-central1"
		}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newLLMService(client.Models, config), nil
}

func newLLMService(client generator, config LLMConfig) *LLMService {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	s := &LLMService{
		client:       client,
		model:        config.Model,
		temperature:  config.Temperature,
		systemPrompt: config.SystemPrompt,
		functions:    config.Functions,
		tools:        config.Tools,
	}
	s.BaseProcessor = processors.NewBaseProcessor("Gemini", s)
	return s
}

// TransferFunctions declares the transfer tools for the model
func TransferFunctions() []*genai.FunctionDeclaration {
	return []*genai.FunctionDeclaration{
		{
			Name:        transfer.ToolInitiateWarmTransfer,
			Description: "Put the caller on hold, call the named team, brief them and connect the caller.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"target_name": {
						Type:        genai.TypeString,
						Description: "Exact name of the team to transfer to, from the list of available transfer targets",
					},
					"summary": {
						Type:        genai.TypeString,
						Description: "Short summary of the caller's issue for the specialist",
					},
				},
				Required: []string{"target_name", "summary"},
			},
		},
		{
			Name:        transfer.ToolTerminateCall,
			Description: "End the call when the caller says goodbye or wants to hang up.",
			Parameters:  &genai.Schema{Type: genai.TypeObject},
		},
	}
}

func (s *LLMService) SetModel(model string) {
	s.model = model
}

func (s *LLMService) SetSystemPrompt(prompt string) {
	s.mu.Lock()
	s.systemPrompt = prompt
	s.mu.Unlock()
}

func (s *LLMService) SetTemperature(temp float64) {
	s.temperature = temp
}

// SetToolExecutor sets who runs the model's function calls. It must be
// called before the pipeline starts.
func (s *LLMService) SetToolExecutor(tools services.ToolExecutor) {
	s.tools = tools
}

func (s *LLMService) AddMessage(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, toContent(role, content))
}

func (s *LLMService) ClearContext() {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
}

// History returns a copy of the conversation so far
func (s *LLMService) History() []*genai.Content {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*genai.Content(nil), s.history...)
}

func (s *LLMService) Initialize(ctx context.Context) error {
	s.Logger().Info("Initialized with model %s", s.model)
	return nil
}

func (s *LLMService) Cleanup() error {
	return nil
}

func (s *LLMService) HandleFrame(ctx context.Context, frame frames.Frame, direction frames.FrameDirection) error {
	if direction == frames.Upstream {
		return s.PushFrame(frame, direction)
	}

	switch f := frame.(type) {
	case *frames.TranscriptionFrame:
		if !f.IsFinal || strings.TrimSpace(f.Text) == "" {
			return nil
		}
		s.Logger().Info("User: %s", f.Text)
		s.AddMessage("user", f.Text)
		return s.generate(ctx)

	case *frames.LLMMessagesAppendFrame:
		for _, m := range f.Messages {
			s.AddMessage(m.Role, m.Content)
		}
		if f.RunLLM {
			return s.generate(ctx)
		}
		return nil

	case *frames.LLMRunFrame:
		return s.generate(ctx)
	}

	return s.PushFrame(frame, direction)
}

func (s *LLMService) config() *genai.GenerateContentConfig {
	s.mu.Lock()
	prompt := s.systemPrompt
	s.mu.Unlock()

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(s.temperature)),
	}
	if prompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(prompt, genai.RoleUser)
	}
	if len(s.functions) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: s.functions}}
	}
	return cfg
}

func (s *LLMService) generate(ctx context.Context) error {
	history := s.History()
	if len(history) == 0 {
		s.Logger().Warn("Nothing to respond to, skipping generation")
		return nil
	}

	if err := s.PushFrame(frames.NewLLMFullResponseStartFrame(), frames.Downstream); err != nil {
		return err
	}
	defer s.PushFrame(frames.NewLLMFullResponseEndFrame(), frames.Downstream)

	resp, err := s.client.GenerateContent(ctx, s.model, history, s.config())
	if err != nil {
		s.Logger().Error("Error generating response: %v", err)
		return s.PushFrame(frames.NewErrorFrame(fmt.Errorf("gemini: %w", err)), frames.Upstream)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		s.Logger().Warn("Empty response")
		return nil
	}

	content := resp.Candidates[0].Content
	content.Role = genai.RoleModel
	s.mu.Lock()
	s.history = append(s.history, content)
	s.mu.Unlock()

	var text strings.Builder
	var calls []*genai.FunctionCall
	for _, part := range content.Parts {
		switch {
		case part.FunctionCall != nil:
			calls = append(calls, part.FunctionCall)
		case part.Text != "" && !part.Thought:
			text.WriteString(part.Text)
		}
	}

	if len(calls) > 0 {
		s.runTools(ctx, calls)
		return nil
	}

	if text.Len() == 0 {
		return nil
	}
	s.Logger().Info("Assistant: %s", text.String())
	return s.PushFrame(frames.NewTextFrame(text.String()), frames.Downstream)
}

// runTools executes the calls and records their results as one user turn
func (s *LLMService) runTools(ctx context.Context, calls []*genai.FunctionCall) {
	parts := make([]*genai.Part, 0, len(calls))
	for _, call := range calls {
		s.Logger().Info("Function call %s(%v)", call.Name, call.Args)

		var result map[string]any
		if s.tools == nil {
			result = map[string]any{"error": "no tools available"}
		} else {
			res, err := s.tools.Call(ctx, call.Name, call.Args)
			if err != nil {
				s.Logger().Error("Function %s failed: %v", call.Name, err)
				res = map[string]any{"error": err.Error()}
			}
			result = res
		}

		part := genai.NewPartFromFunctionResponse(call.Name, result)
		part.FunctionResponse.ID = call.ID
		parts = append(parts, part)
	}

	s.mu.Lock()
	s.history = append(s.history, genai.NewContentFromParts(parts, genai.RoleUser))
	s.mu.Unlock()
}

// toContent maps a chat role onto Gemini's two roles. System messages
// added mid-conversation become user turns marked as instructions.
func toContent(role, text string) *genai.Content {
	switch role {
	case "assistant", "model":
		return genai.NewContentFromText(text, genai.RoleModel)
	case "system":
		return genai.NewContentFromText("[instruction] "+text, genai.RoleUser)
	default:
		return genai.NewContentFromText(text, genai.RoleUser)
	}
}

package gemini

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/square-key-labs/strawgo-transfer/src/frames"
	"github.com/square-key-labs/strawgo-transfer/src/processors/processortest"
	"github.com/square-key-labs/strawgo-transfer/src/transfer"
)

type fakeGenerator struct {
	mu        sync.Mutex
	responses []*genai.Content
	err       error
	calls     [][]*genai.Content
	configs   []*genai.GenerateContentConfig
}

func (g *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, contents)
	g.configs = append(g.configs, config)
	if g.err != nil {
		return nil, g.err
	}
	if len(g.responses) == 0 {
		return &genai.GenerateContentResponse{}, nil
	}
	next := g.responses[0]
	g.responses = g.responses[1:]
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: next}}}, nil
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type fakeTools struct {
	mu    sync.Mutex
	names []string
	args  []map[string]any
}

func (t *fakeTools) Call(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.names = append(t.names, name)
	t.args = append(t.args, args)
	if name == "explode" {
		return nil, errors.New("boom")
	}
	return map[string]any{"status": "transferring"}, nil
}

func newTestLLM(t *testing.T, gen *fakeGenerator, tools *fakeTools) (*LLMService, *processortest.Recorder) {
	t.Helper()
	s := newLLMService(gen, LLMConfig{
		SystemPrompt: "be nice",
		Temperature:  0.5,
		Functions:    TransferFunctions(),
	})
	if tools != nil {
		s.SetToolExecutor(tools)
	}
	rec := processortest.NewRecorder("sink")
	s.Link(rec)
	return s, rec
}

func TestTranscriptionGeneratesSpeech(t *testing.T) {
	gen := &fakeGenerator{responses: []*genai.Content{genai.NewContentFromText("Happy to help.", genai.RoleModel)}}
	s, rec := newTestLLM(t, gen, nil)
	ctx := context.Background()

	require.NoError(t, s.HandleFrame(ctx, frames.NewTranscriptionFrame("my bill is wrong", false), frames.Downstream))
	assert.Equal(t, 0, gen.callCount(), "interim transcripts do not trigger a turn")

	require.NoError(t, s.HandleFrame(ctx, frames.NewTranscriptionFrame("my bill is wrong", true), frames.Downstream))
	require.Equal(t, 1, gen.callCount())

	assert.Equal(t, []string{"LLMFullResponseStartFrame", "TextFrame", "LLMFullResponseEndFrame"}, rec.Names())
	assert.Equal(t, "Happy to help.", processortest.Of[*frames.TextFrame](rec)[0].Text)

	cfg := gen.configs[0]
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "be nice", cfg.SystemInstruction.Parts[0].Text)
	require.Len(t, cfg.Tools, 1)
	assert.Len(t, cfg.Tools[0].FunctionDeclarations, 2)
	assert.InDelta(t, 0.5, *cfg.Temperature, 0.001)

	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, genai.RoleUser, history[0].Role)
	assert.Equal(t, genai.RoleModel, history[1].Role)
}

func TestFunctionCallDoesNotSpeakOrFollowUp(t *testing.T) {
	call := &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{
		{Text: "Let me transfer you."},
		{FunctionCall: &genai.FunctionCall{
			ID:   "call-1",
			Name: transfer.ToolInitiateWarmTransfer,
			Args: map[string]any{"target_name": "Billing Team", "summary": "double charge"},
		}},
	}}
	gen := &fakeGenerator{responses: []*genai.Content{call}}
	tools := &fakeTools{}
	s, rec := newTestLLM(t, gen, tools)

	require.NoError(t, s.HandleFrame(context.Background(), frames.NewTranscriptionFrame("billing please", true), frames.Downstream))

	assert.Equal(t, 1, gen.callCount(), "no follow-up generation after the tool ran")
	assert.Empty(t, processortest.Of[*frames.TextFrame](rec))
	require.Equal(t, []string{transfer.ToolInitiateWarmTransfer}, tools.names)
	assert.Equal(t, "Billing Team", tools.args[0]["target_name"])

	history := s.History()
	require.Len(t, history, 3)
	resp := history[2].Parts[0].FunctionResponse
	require.NotNil(t, resp)
	assert.Equal(t, "call-1", resp.ID)
	assert.Equal(t, "transferring", resp.Response["status"])
}

func TestToolErrorsBecomeResults(t *testing.T) {
	call := &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{
		genai.NewPartFromFunctionCall("explode", nil),
	}}
	gen := &fakeGenerator{responses: []*genai.Content{call}}
	s, _ := newTestLLM(t, gen, &fakeTools{})

	require.NoError(t, s.HandleFrame(context.Background(), frames.NewLLMRunFrame(), frames.Downstream))
	assert.Equal(t, 0, gen.callCount(), "nothing to respond to yet")

	s.AddMessage("user", "hi")
	require.NoError(t, s.HandleFrame(context.Background(), frames.NewLLMRunFrame(), frames.Downstream))
	history := s.History()
	assert.Equal(t, "boom", history[len(history)-1].Parts[0].FunctionResponse.Response["error"])
}

func TestMessagesAppend(t *testing.T) {
	gen := &fakeGenerator{responses: []*genai.Content{genai.NewContentFromText("Sorry about that.", genai.RoleModel)}}
	s, rec := newTestLLM(t, gen, nil)
	ctx := context.Background()

	quiet := frames.NewLLMMessagesAppendFrame([]frames.Message{{Role: "system", Content: "note"}}, false)
	require.NoError(t, s.HandleFrame(ctx, quiet, frames.Downstream))
	assert.Equal(t, 0, gen.callCount())

	run := frames.NewLLMMessagesAppendFrame([]frames.Message{{Role: "system", Content: "Transfer failed"}}, true)
	require.NoError(t, s.HandleFrame(ctx, run, frames.Downstream))
	require.Equal(t, 1, gen.callCount())
	assert.Len(t, processortest.Of[*frames.TextFrame](rec), 1)

	sent := gen.calls[0]
	require.Len(t, sent, 2)
	assert.Equal(t, "[instruction] Transfer failed", sent[1].Parts[0].Text)
	assert.Equal(t, genai.RoleUser, sent[1].Role)
}

func TestGenerateErrorGoesUpstream(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("quota")}
	s := newLLMService(gen, LLMConfig{})
	up := processortest.NewRecorder("up")
	down := processortest.NewRecorder("down")
	s.SetPrev(up)
	s.Link(down)

	s.AddMessage("user", "hello")
	require.NoError(t, s.HandleFrame(context.Background(), frames.NewLLMRunFrame(), frames.Downstream))

	errs := processortest.Of[*frames.ErrorFrame](up)
	require.Len(t, errs, 1)
	assert.ErrorContains(t, errs[0].Error, "quota")
	assert.Equal(t, []string{"LLMFullResponseStartFrame", "LLMFullResponseEndFrame"}, down.Names())
}

func TestOtherFramesPassThrough(t *testing.T) {
	s, rec := newTestLLM(t, &fakeGenerator{}, nil)
	require.NoError(t, s.HandleFrame(context.Background(), frames.NewTTSSpeakFrame("hold on"), frames.Downstream))
	assert.True(t, rec.WaitFor(1, time.Second))
	assert.Equal(t, []string{"TTSSpeakFrame"}, rec.Names())
}

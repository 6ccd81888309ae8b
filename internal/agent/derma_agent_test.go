package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dermabot/internal/entities"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type scriptedModel struct {
	mu        sync.Mutex
	responses []*llms.ContentResponse
	errs      []error
	calls     [][]llms.MessageContent
}

func (m *scriptedModel) GenerateContent(_ context.Context, msgs []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := len(m.calls)
	m.calls = append(m.calls, msgs)
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i >= len(m.responses) {
		return nil, errors.New("script exhausted")
	}
	return m.responses[i], nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, opts...)
}

func text(s string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: s}}}
}

func toolCall(name, args string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		ToolCalls: []llms.ToolCall{{
			ID:           "call_1",
			Type:         "function",
			FunctionCall: &llms.FunctionCall{Name: name, Arguments: args},
		}},
	}}}
}

type memoryHistory struct {
	mu      sync.Mutex
	entries []entities.HistoryEntry
}

func (h *memoryHistory) Append(_ context.Context, entries ...entities.HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entries...)
	return nil
}

func (h *memoryHistory) Recent(_ context.Context, sessionID string, limit int) ([]entities.HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []entities.HistoryEntry
	for _, e := range h.entries {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

type staticKB struct{ hits []KnowledgeHit }

func (k staticKB) Search(context.Context, string) ([]KnowledgeHit, error) { return k.hits, nil }

var fixedNow = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }

func newTestAgent(m llms.Model, h *memoryHistory, tools ...Tool) *DermaAgent {
	opts := DefaultOptions()
	opts.Now = fixedNow
	opts.HistoryResponses = 1
	return NewDermaAgent(m, h, opts, tools...)
}

var session = entities.Session{ID: "sess-1", SenderID: "alice"}

func TestRespondBuildsPromptAndStoresHistory(t *testing.T) {
	model := &scriptedModel{responses: []*llms.ContentResponse{text("Likely tinea corporis.")}}
	hist := &memoryHistory{}
	hist.entries = []entities.HistoryEntry{
		{SessionID: "sess-1", Role: entities.RoleUser, Content: "old question"},
		{SessionID: "sess-1", Role: entities.RoleAssistant, Content: "old answer"},
		{SessionID: "other", Role: entities.RoleUser, Content: "not mine"},
	}
	a := newTestAgent(model, hist)

	reply, err := a.Respond(context.Background(), session, []entities.Part{
		entities.TextPart("Ring-shaped rash on arm"),
		entities.ImagePart("https://res.cloudinary.com/x.jpg"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Likely tinea corporis.", reply)

	require.Len(t, model.calls, 1)
	msgs := model.calls[0]
	require.Len(t, msgs, 4)
	assert.Equal(t, llms.ChatMessageTypeSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Parts[0].(llms.TextContent).Text, "Dermatology Diagnosis Assistant")
	assert.Contains(t, msgs[0].Parts[0].(llms.TextContent).Text, "2026")
	assert.Equal(t, llms.ChatMessageTypeHuman, msgs[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, msgs[2].Role)
	assert.Equal(t, llms.TextContent{Text: "Ring-shaped rash on arm"}, msgs[3].Parts[0])
	assert.Equal(t, "https://res.cloudinary.com/x.jpg", msgs[3].Parts[1].(llms.ImageURLContent).URL)

	recent, _ := hist.Recent(context.Background(), "sess-1", 2)
	require.Len(t, recent, 2)
	assert.Equal(t, "Ring-shaped rash on arm", recent[0].Content)
	assert.Equal(t, "https://res.cloudinary.com/x.jpg", recent[0].ImageURL)
	assert.Equal(t, "Likely tinea corporis.", recent[1].Content)
}

func TestRespondRunsToolLoop(t *testing.T) {
	model := &scriptedModel{responses: []*llms.ContentResponse{
		toolCall("search_knowledge_base", `{"query":"annular plaque"}`),
		text("Tinea corporis, confirm with KOH prep."),
	}}
	kb := staticKB{hits: []KnowledgeHit{{Content: "Tinea presents as annular plaques.", Source: "atlas.pdf"}}}
	a := newTestAgent(model, &memoryHistory{}, KnowledgeSearchTool{KB: kb}, ClinicalInputTool{})

	reply, err := a.Respond(context.Background(), session, []entities.Part{entities.TextPart("rash")})
	require.NoError(t, err)
	assert.Equal(t, "Tinea corporis, confirm with KOH prep.", reply)

	require.Len(t, model.calls, 2)
	second := model.calls[1]
	last := second[len(second)-1]
	assert.Equal(t, llms.ChatMessageTypeTool, last.Role)
	resp := last.Parts[0].(llms.ToolCallResponse)
	assert.Equal(t, "call_1", resp.ToolCallID)
	assert.Contains(t, resp.Content, "(atlas.pdf) Tinea presents as annular plaques.")
}

func TestRespondMalformedToolCalls(t *testing.T) {
	cases := map[string]*scriptedModel{
		"unknown tool":   {responses: []*llms.ContentResponse{toolCall("delete_everything", `{}`)}},
		"bad arguments":  {responses: []*llms.ContentResponse{toolCall("get_clinical_input", `{not json`)}},
		"provider error": {errs: []error{errors.New(`API returned unexpected status code: 400: {"code":"tool_use_failed"}`)}},
	}
	for name, model := range cases {
		t.Run(name, func(t *testing.T) {
			hist := &memoryHistory{}
			a := newTestAgent(model, hist, ClinicalInputTool{})
			_, err := a.Respond(context.Background(), session, []entities.Part{entities.TextPart("rash")})
			assert.ErrorIs(t, err, ErrMalformedToolCall)
			assert.Empty(t, hist.entries, "failed turns are not stored")
		})
	}
}

func TestRespondBoundsToolRounds(t *testing.T) {
	loop := toolCall("get_clinical_input", `{"location":"arm"}`)
	model := &scriptedModel{responses: []*llms.ContentResponse{loop, loop, loop, loop, loop, loop}}
	a := newTestAgent(model, &memoryHistory{}, ClinicalInputTool{})

	_, err := a.Respond(context.Background(), session, []entities.Part{entities.TextPart("rash")})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformedToolCall)
	assert.Len(t, model.calls, 5)
}

func TestClinicalInputEchoesJSON(t *testing.T) {
	out, err := ClinicalInputTool{}.Call(context.Background(),
		`{"location":"forearm","duration":"2 weeks","appearance":"red ring","symptoms":"itchy"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"location":"forearm","duration":"2 weeks","appearance":"red ring","symptoms":"itchy"}`, out)
}

func TestKnowledgeSearchRejectsEmptyQuery(t *testing.T) {
	_, err := KnowledgeSearchTool{KB: staticKB{}}.Call(context.Background(), `{"query":"  "}`)
	assert.ErrorIs(t, err, errBadArguments)

	out, err := KnowledgeSearchTool{KB: staticKB{}}.Call(context.Background(), `{"query":"eczema"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "No relevant passages")
}

package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dermabot/internal/entities"
	"dermabot/internal/interfaces"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
)

// ErrMalformedToolCall is returned when the model calls an unknown tool, sends
// unparseable arguments, or the provider rejects its tool call.
var ErrMalformedToolCall = errors.New("malformed tool call")

const Instructions = `You are a Dermatology Diagnosis Assistant designed to help clinicians accurately diagnose dermatological conditions.
Given a clinical description, image, or set of features, analyze and summarize the key lesion characteristics, and then proceed with the following structure:

Lesion Characteristics:
1) Morphology (e.g., macule, papule, plaque, vesicle)
2) Color
3) Distribution (localized, generalized, symmetrical, dermatomal)
4) Configuration (linear, annular, grouped)
5) Surface features (scaling, crusting, ulceration, lichenification)

Definitive Diagnosis:
Provide a clear and concise diagnosis.
Justify your choice based on the clinical presentation and typical findings.

Differential Diagnoses:
List up to three plausible alternatives.
Briefly explain how each differs from the primary diagnosis.

Recommended Next Steps:
Suggest appropriate diagnostic tests (e.g., skin biopsy, KOH prep, bacterial/fungal cultures, patch testing, dermoscopy).
Mention any urgent red flags or indications for specialist referral if applicable.

If the location, duration, appearance or symptoms are unknown, ask for them and record them with get_clinical_input.
When a search_knowledge_base tool is available, consult it before naming a diagnosis.

Constraints:
Be concise, maximum 300 words.
Use clinical language appropriate for healthcare professionals.
Do not speculate beyond the provided clinical findings.
Always prioritize evidence-based reasoning.
Format the answer in markdown.`

type Options struct {
	Instructions     string
	HistoryResponses int // prior exchanges replayed into each turn
	MaxToolRounds    int
	Now              func() time.Time
	CallOptions      []llms.CallOption
}

func DefaultOptions() Options {
	return Options{
		Instructions:     Instructions,
		HistoryResponses: 5,
		MaxToolRounds:    4,
		Now:              time.Now,
	}
}

// DermaAgent answers one turn of a sender's session with the chat model,
// running tool calls until the model produces text.
type DermaAgent struct {
	llm     llms.Model
	history interfaces.HistoryStore
	tools   map[string]Tool
	defs    []llms.Tool
	opts    Options
}

func NewDermaAgent(llm llms.Model, history interfaces.HistoryStore, opts Options, tools ...Tool) *DermaAgent {
	if opts.Instructions == "" {
		opts.Instructions = Instructions
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	a := &DermaAgent{
		llm:     llm,
		history: history,
		tools:   make(map[string]Tool, len(tools)),
		opts:    opts,
	}
	for _, t := range tools {
		def := t.Definition()
		a.tools[def.Name] = t
		a.defs = append(a.defs, llms.Tool{Type: "function", Function: &def})
	}
	return a
}

// Respond implements interfaces.ReasoningEngine.
func (a *DermaAgent) Respond(ctx context.Context, session entities.Session, parts []entities.Part) (string, error) {
	msgs, err := a.buildMessages(ctx, session, parts)
	if err != nil {
		return "", err
	}

	callOpts := append([]llms.CallOption{}, a.opts.CallOptions...)
	if len(a.defs) > 0 {
		callOpts = append(callOpts, llms.WithTools(a.defs))
	}

	for round := 0; ; round++ {
		resp, err := a.llm.GenerateContent(ctx, msgs, callOpts...)
		if err != nil {
			if strings.Contains(err.Error(), "tool_use_failed") {
				return "", fmt.Errorf("%w: %v", ErrMalformedToolCall, err)
			}
			return "", fmt.Errorf("generate: %w", err)
		}
		if resp == nil || len(resp.Choices) == 0 {
			return "", errors.New("model returned no choices")
		}
		choice := resp.Choices[0]

		if len(choice.ToolCalls) == 0 {
			a.remember(ctx, session, parts, choice.Content)
			return choice.Content, nil
		}
		if round >= a.opts.MaxToolRounds {
			return "", fmt.Errorf("model still calling tools after %d rounds", a.opts.MaxToolRounds)
		}

		assistant := llms.MessageContent{Role: llms.ChatMessageTypeAI}
		for _, tc := range choice.ToolCalls {
			assistant.Parts = append(assistant.Parts, tc)
		}
		msgs = append(msgs, assistant)

		for _, tc := range choice.ToolCalls {
			result, err := a.runTool(ctx, tc)
			if err != nil {
				return "", err
			}
			msgs = append(msgs, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: tc.ID,
					Name:       tc.FunctionCall.Name,
					Content:    result,
				}},
			})
		}
	}
}

func (a *DermaAgent) runTool(ctx context.Context, tc llms.ToolCall) (string, error) {
	if tc.FunctionCall == nil {
		return "", fmt.Errorf("%w: tool call %s has no function", ErrMalformedToolCall, tc.ID)
	}
	tool, ok := a.tools[tc.FunctionCall.Name]
	if !ok {
		return "", fmt.Errorf("%w: unknown tool %q", ErrMalformedToolCall, tc.FunctionCall.Name)
	}

	log.Debug().Str("tool", tc.FunctionCall.Name).Str("args", tc.FunctionCall.Arguments).Msg("Running tool")
	result, err := tool.Call(ctx, tc.FunctionCall.Arguments)
	if errors.Is(err, errBadArguments) {
		return "", fmt.Errorf("%w: %s: %v", ErrMalformedToolCall, tc.FunctionCall.Name, err)
	}
	if err != nil {
		// Let the model recover from a failing backend instead of failing the turn.
		log.Warn().Err(err).Str("tool", tc.FunctionCall.Name).Msg("Tool failed")
		return "Tool error: the service is temporarily unavailable.", nil
	}
	return result, nil
}

func (a *DermaAgent) buildMessages(ctx context.Context, session entities.Session, parts []entities.Part) ([]llms.MessageContent, error) {
	system := a.opts.Instructions + "\n\nThe current time is " + a.opts.Now().Format(time.RFC1123) + "."
	msgs := []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeSystem, system)}

	if a.history != nil && a.opts.HistoryResponses > 0 && session.ID != "" {
		past, err := a.history.Recent(ctx, session.ID, a.opts.HistoryResponses*2)
		if err != nil {
			log.Warn().Err(err).Str("session", session.ID).Msg("Could not load history, continuing without it")
		}
		for _, e := range past {
			content := e.Content
			if e.ImageURL != "" {
				content = strings.TrimSpace(content + "\n[Image previously shared: " + e.ImageURL + "]")
			}
			role := llms.ChatMessageTypeHuman
			if e.Role == entities.RoleAssistant {
				role = llms.ChatMessageTypeAI
			}
			msgs = append(msgs, llms.TextParts(role, content))
		}
	}

	user := llms.MessageContent{Role: llms.ChatMessageTypeHuman}
	for _, p := range parts {
		switch p.Kind {
		case entities.PartText:
			user.Parts = append(user.Parts, llms.TextPart(p.Text))
		case entities.PartImage:
			user.Parts = append(user.Parts, llms.ImageURLPart(p.ImageURL))
		default:
			return nil, fmt.Errorf("unsupported part kind %d", p.Kind)
		}
	}
	if len(user.Parts) == 0 {
		return nil, errors.New("turn has no content")
	}
	return append(msgs, user), nil
}

func (a *DermaAgent) remember(ctx context.Context, session entities.Session, parts []entities.Part, reply string) {
	if a.history == nil || session.ID == "" {
		return
	}
	now := a.opts.Now()
	userEntry := entities.HistoryEntry{SessionID: session.ID, Role: entities.RoleUser, CreatedAt: now}
	var texts []string
	for _, p := range parts {
		switch p.Kind {
		case entities.PartText:
			texts = append(texts, p.Text)
		case entities.PartImage:
			if userEntry.ImageURL == "" {
				userEntry.ImageURL = p.ImageURL
			}
		}
	}
	userEntry.Content = strings.Join(texts, "\n")

	err := a.history.Append(ctx, userEntry, entities.HistoryEntry{
		SessionID: session.ID,
		Role:      entities.RoleAssistant,
		Content:   reply,
		CreatedAt: now,
	})
	if err != nil {
		log.Error().Err(err).Str("session", session.ID).Msg("Failed to save history")
	}
}

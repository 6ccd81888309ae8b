package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// errBadArguments marks tool arguments the model produced incorrectly.
var errBadArguments = errors.New("bad tool arguments")

// Tool is a function the model may call during a turn.
type Tool interface {
	Definition() llms.FunctionDefinition
	Call(ctx context.Context, arguments string) (string, error)
}

// ClinicalInfo is the structured intake a clinician needs before assessing a lesion.
type ClinicalInfo struct {
	Location   string `json:"location"`
	Duration   string `json:"duration"`
	Appearance string `json:"appearance"`
	Symptoms   string `json:"symptoms"`
}

// ClinicalInputTool records the patient's clinical intake.
type ClinicalInputTool struct{}

func (ClinicalInputTool) Definition() llms.FunctionDefinition {
	field := func(desc string) map[string]any {
		return map[string]any{"type": "string", "description": desc}
	}
	return llms.FunctionDefinition{
		Name:        "get_clinical_input",
		Description: "Record structured clinical information about the skin condition before giving an assessment.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"location":   field("Location of the skin condition on the body"),
				"duration":   field("How long the condition has been present"),
				"appearance": field("Visual description: colour, size, shape, texture"),
				"symptoms":   field("Associated symptoms such as itching, pain or bleeding"),
			},
			"required": []string{"location", "duration", "appearance", "symptoms"},
		},
	}
}

func (ClinicalInputTool) Call(_ context.Context, arguments string) (string, error) {
	var info ClinicalInfo
	if err := json.Unmarshal([]byte(arguments), &info); err != nil {
		return "", fmt.Errorf("%w: %v", errBadArguments, err)
	}
	out, err := json.Marshal(info)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// KnowledgeSearchTool exposes a KnowledgeBase to the model.
type KnowledgeSearchTool struct {
	KB KnowledgeBase
}

func (KnowledgeSearchTool) Definition() llms.FunctionDefinition {
	return llms.FunctionDefinition{
		Name:        "search_knowledge_base",
		Description: "Search the dermatology reference library for passages relevant to a clinical question.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search terms, e.g. a suspected condition or lesion description",
				},
			},
			"required": []string{"query"},
		},
	}
}

func (t KnowledgeSearchTool) Call(ctx context.Context, arguments string) (string, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("%w: %v", errBadArguments, err)
	}
	if strings.TrimSpace(args.Query) == "" {
		return "", fmt.Errorf("%w: empty query", errBadArguments)
	}

	hits, err := t.KB.Search(ctx, args.Query)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return "No relevant passages found in the knowledge base.", nil
	}
	var sb strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&sb, "[%d]", i+1)
		if h.Source != "" {
			fmt.Fprintf(&sb, " (%s)", h.Source)
		}
		sb.WriteString(" ")
		sb.WriteString(strings.TrimSpace(h.Content))
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String()), nil
}

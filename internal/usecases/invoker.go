package usecases

import (
	"context"
	"errors"
	"time"

	"dermabot/internal/agent"
	"dermabot/internal/entities"
	"dermabot/internal/interfaces"

	"github.com/rs/zerolog/log"
)

// AgentInvoker runs the reasoning engine under a timeout and classifies the
// outcome into an AgentReply.
type AgentInvoker struct {
	engine  interfaces.ReasoningEngine
	timeout time.Duration
}

func NewAgentInvoker(engine interfaces.ReasoningEngine, timeout time.Duration) *AgentInvoker {
	return &AgentInvoker{engine: engine, timeout: timeout}
}

func (i *AgentInvoker) Invoke(ctx context.Context, session entities.Session, parts []entities.Part) entities.AgentReply {
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := i.engine.Respond(ctx, session, parts)
	reply := Classify(text, err)

	evt := log.Info()
	if reply.Status != entities.StatusOk {
		evt = log.Warn().Str("error", reply.RawError)
	}
	evt.Str("session", session.ID).
		Str("status", string(reply.Status)).
		Dur("took", time.Since(start)).
		Msg("Agent invocation finished")
	return reply
}

// Classify maps an engine result to a reply status.
func Classify(text string, err error) entities.AgentReply {
	switch {
	case err == nil:
		return entities.OkReply(text)
	case errors.Is(err, agent.ErrMalformedToolCall):
		return entities.AgentReply{Status: entities.StatusProviderError, RawError: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return entities.AgentReply{Status: entities.StatusTimeout, RawError: err.Error()}
	default:
		return entities.AgentReply{Status: entities.StatusUnknown, RawError: err.Error()}
	}
}

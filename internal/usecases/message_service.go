package usecases

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dermabot/internal/entities"
	"dermabot/internal/infrastructure"
	"dermabot/internal/interfaces"

	"github.com/rs/zerolog/log"
)

// UsageRecorder counts turns and replies per sender.
type UsageRecorder interface {
	IncrementReceived(ctx context.Context, senderID string) error
	IncrementSent(ctx context.Context, senderID string) error
}

// Dependencies wires the message pipeline. Fetcher, Relay, Deduper, Limiter,
// Usage and any Messenger may be nil; the pipeline degrades without them.
type Dependencies struct {
	Router     *infrastructure.SessionRouter
	Sessions   interfaces.SessionStore
	Invoker    *AgentInvoker
	Fetcher    interfaces.MediaFetcher
	Relay      interfaces.MediaRelay
	Messengers map[entities.Provider]interfaces.Messenger
	Deduper    interfaces.Deduper
	Limiter    *infrastructure.SenderLimiter
	Usage      UsageRecorder
}

// MessageService turns inbound webhook payloads into agent replies.
type MessageService struct {
	deps          Dependencies
	replyDeadline time.Duration
	lateWait      time.Duration
	background    sync.WaitGroup
}

// NewMessageService creates the pipeline. replyDeadline bounds how long the
// synchronous path waits before answering with a "please wait" reply.
func NewMessageService(deps Dependencies, replyDeadline, lateWait time.Duration) *MessageService {
	if deps.Messengers == nil {
		deps.Messengers = map[entities.Provider]interfaces.Messenger{}
	}
	if lateWait <= 0 {
		lateWait = 5 * time.Minute
	}
	return &MessageService{deps: deps, replyDeadline: replyDeadline, lateWait: lateWait}
}

// Respond processes a payload whose reply travels back in the webhook response.
// It always returns non-empty reply text, within the reply deadline.
func (s *MessageService) Respond(ctx context.Context, payload PayloadAdapter) string {
	turn, ok := s.accept(ctx, payload)
	if !ok {
		return MissingSenderText
	}
	limit := MaxReplyRunes(turn.Provider)

	if s.isDuplicate(ctx, turn) {
		return PleaseWaitText
	}
	if s.deps.Limiter != nil && !s.deps.Limiter.Allow(turn.SenderID) {
		log.Info().Str("sender", turn.SenderID).Msg("Sender rate limited")
		return SlowDownText
	}
	s.countReceived(ctx, turn.SenderID)

	done, err := s.submit(turn)
	if err != nil {
		return s.rejection(turn, err)
	}

	if s.replyDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.replyDeadline)
		defer cancel()
	}
	select {
	case reply := <-done:
		s.countSent(context.WithoutCancel(ctx), turn.SenderID)
		return TruncateRunes(ReplyText(reply), limit)
	case <-ctx.Done():
		log.Info().Str("sender", turn.SenderID).Dur("deadline", s.replyDeadline).Msg("Reply deadline elapsed, delivering late")
		s.deliverLater(turn, done)
		return PleaseWaitText
	}
}

// Dispatch processes a payload whose reply is pushed through the provider's
// send API. It returns once the turn is queued.
func (s *MessageService) Dispatch(ctx context.Context, payload PayloadAdapter) {
	turn, ok := s.accept(ctx, payload)
	if !ok {
		return
	}
	if s.isDuplicate(ctx, turn) {
		return
	}
	if s.deps.Limiter != nil && !s.deps.Limiter.Allow(turn.SenderID) {
		log.Info().Str("sender", turn.SenderID).Msg("Sender rate limited")
		s.sendAsync(turn, SlowDownText)
		return
	}
	s.countReceived(ctx, turn.SenderID)

	done, err := s.submit(turn)
	if err != nil {
		s.sendAsync(turn, s.rejection(turn, err))
		return
	}
	s.deliverLater(turn, done)
}

// Wait blocks until background deliveries finish or ctx ends.
func (s *MessageService) Wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		s.background.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// accept normalizes the payload. A turn without content is replaced by the
// no-content fallback turn; a turn without a sender cannot be answered.
func (s *MessageService) accept(ctx context.Context, payload PayloadAdapter) (entities.ConversationTurn, bool) {
	turn, err := payload.Normalize()
	switch {
	case err == nil:
	case errors.Is(err, entities.ErrEmptyTurn):
		turn.Text = NoContentText
	default:
		log.Warn().Err(err).Str("provider", string(turn.Provider)).Msg("Rejected webhook payload")
		return turn, false
	}
	log.Info().
		Str("sender", turn.SenderID).
		Str("provider", string(turn.Provider)).
		Str("message_id", turn.MessageID).
		Bool("media", turn.Media != nil).
		Msg("Incoming turn")
	return turn, true
}

func (s *MessageService) isDuplicate(ctx context.Context, turn entities.ConversationTurn) bool {
	if s.deps.Deduper == nil || turn.MessageID == "" {
		return false
	}
	seen, err := s.deps.Deduper.Seen(ctx, turn.MessageID)
	if err != nil {
		log.Warn().Err(err).Str("message_id", turn.MessageID).Msg("Dedup check failed, processing anyway")
		return false
	}
	if seen {
		log.Info().Str("sender", turn.SenderID).Str("message_id", turn.MessageID).Msg("Duplicate delivery ignored")
	}
	return seen
}

func (s *MessageService) submit(turn entities.ConversationTurn) (<-chan entities.AgentReply, error) {
	return s.deps.Router.Submit(turn.SenderID, func(ctx context.Context) entities.AgentReply {
		return s.process(ctx, turn)
	})
}

func (s *MessageService) rejection(turn entities.ConversationTurn, err error) string {
	if errors.Is(err, infrastructure.ErrSenderBusy) {
		log.Warn().Str("sender", turn.SenderID).Msg("Sender queue full")
		return ReplyText(entities.AgentReply{Status: entities.StatusBusy})
	}
	log.Error().Err(err).Str("sender", turn.SenderID).Msg("Could not queue turn")
	return ApologyText
}

// process runs on the sender's lane: one turn at a time per sender.
func (s *MessageService) process(ctx context.Context, turn entities.ConversationTurn) entities.AgentReply {
	session, err := s.deps.Sessions.EnsureSession(ctx, turn.SenderID, turn.Provider)
	if err != nil {
		log.Error().Err(err).Str("sender", turn.SenderID).Msg("Failed to resolve session")
		return entities.AgentReply{Status: entities.StatusUnknown, RawError: err.Error()}
	}
	return s.deps.Invoker.Invoke(ctx, session, s.buildParts(ctx, turn))
}

// buildParts converts a turn to engine input. Media failures degrade the turn
// to text with a note instead of failing it.
func (s *MessageService) buildParts(ctx context.Context, turn entities.ConversationTurn) []entities.Part {
	var parts []entities.Part
	if turn.HasText() {
		parts = append(parts, entities.TextPart(turn.Text))
	}
	if turn.Media != nil {
		if !turn.Media.IsImage() {
			parts = append(parts, entities.TextPart(fmt.Sprintf(UnsupportedMediaText, turn.Media.ContentType)))
		} else if url, err := s.relayMedia(ctx, *turn.Media); err != nil {
			log.Warn().Err(err).Str("sender", turn.SenderID).Msg("Image unavailable, continuing with text")
			parts = append(parts, entities.TextPart(MediaUnavailableText))
		} else {
			parts = append(parts, entities.ImagePart(url))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, entities.TextPart(NoContentText))
	}
	return parts
}

func (s *MessageService) relayMedia(ctx context.Context, ref entities.MediaRef) (string, error) {
	if s.deps.Fetcher == nil {
		return "", fmt.Errorf("%w: no media fetcher configured", entities.ErrFetch)
	}
	if s.deps.Relay == nil {
		return "", fmt.Errorf("%w: no image host configured", entities.ErrRelay)
	}
	data, err := s.deps.Fetcher.Fetch(ctx, ref)
	if err != nil {
		return "", err
	}
	return s.deps.Relay.Publish(ctx, data)
}

// deliverLater waits for the reply off the request path and pushes it through
// the provider's messenger.
func (s *MessageService) deliverLater(turn entities.ConversationTurn, done <-chan entities.AgentReply) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		timer := time.NewTimer(s.lateWait)
		defer timer.Stop()

		var text string
		select {
		case reply := <-done:
			text = ReplyText(reply)
		case <-timer.C:
			log.Error().Str("sender", turn.SenderID).Msg("Turn never completed")
			text = ApologyText
		}
		s.send(turn, text)
	}()
}

func (s *MessageService) sendAsync(turn entities.ConversationTurn, text string) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		s.send(turn, text)
	}()
}

func (s *MessageService) send(turn entities.ConversationTurn, text string) {
	messenger := s.deps.Messengers[turn.Provider]
	if messenger == nil {
		log.Warn().Str("sender", turn.SenderID).Str("provider", string(turn.Provider)).Msg("No outbound messenger, reply dropped")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	text = TruncateRunes(text, MaxReplyRunes(turn.Provider))
	if err := messenger.SendMessage(ctx, turn.SenderID, text); err != nil {
		log.Error().Err(err).Str("sender", turn.SenderID).Msg("Failed to deliver reply")
		return
	}
	s.countSent(ctx, turn.SenderID)
}

func (s *MessageService) countReceived(ctx context.Context, senderID string) {
	if s.deps.Usage == nil {
		return
	}
	if err := s.deps.Usage.IncrementReceived(ctx, senderID); err != nil {
		log.Warn().Err(err).Msg("Failed to count received message")
	}
}

func (s *MessageService) countSent(ctx context.Context, senderID string) {
	if s.deps.Usage == nil {
		return
	}
	if err := s.deps.Usage.IncrementSent(ctx, senderID); err != nil {
		log.Warn().Err(err).Msg("Failed to count sent message")
	}
}

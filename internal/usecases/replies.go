package usecases

import (
	"strings"
	"unicode/utf8"

	"dermabot/internal/entities"
)

// Turn text substituted when the inbound message carried nothing usable.
const (
	NoContentText        = "No message content received."
	MediaUnavailableText = "User sent an image, but it could not be downloaded."
	UnsupportedMediaText = "User sent an attachment of type %s, which cannot be analysed. Only photos are supported."
)

// User-facing fallback replies.
const (
	EmptyReplyText    = "Sorry, I couldn't process your message."
	ApologyText       = "Sorry, there was an error processing your request."
	PleaseWaitText    = "Still working on it. Please wait a moment, I'll reply here as soon as your analysis is ready."
	TimedOutText      = "This is taking longer than expected. Please send your message again."
	BusyText          = "I'm still processing your earlier messages. Please wait for my reply before sending more."
	SlowDownText      = "You're sending messages faster than I can read them. Please wait a few seconds and try again."
	MissingSenderText = "Sorry, we could not identify the sender of this message."
	ClarifyText       = "To help me assess your skin concern, please tell me:\n" +
		"1. Location: where on your body is it?\n" +
		"2. Duration: how long has it been there?\n" +
		"3. Appearance: what does it look like (colour, size, shape, texture)?\n" +
		"4. Symptoms: is it itchy, painful, bleeding or spreading?"
)

const (
	TwilioMaxReplyRunes   = 1600
	WhatsAppMaxReplyRunes = 4096
)

// ReplyText maps an agent outcome to the text the user receives. It never
// returns an empty string and never includes RawError.
func ReplyText(r entities.AgentReply) string {
	switch r.Status {
	case entities.StatusOk:
		if strings.TrimSpace(r.Text) == "" {
			return EmptyReplyText
		}
		return r.Text
	case entities.StatusProviderError:
		return ClarifyText
	case entities.StatusTimeout:
		// Final: a timed-out turn has no reply left to promise.
		return TimedOutText
	case entities.StatusBusy:
		return BusyText
	default:
		return ApologyText
	}
}

// TruncateRunes cuts s to at most limit runes, ending with an ellipsis when cut.
func TruncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	if limit == 1 {
		return string(runes[:1])
	}
	return string(runes[:limit-1]) + "…"
}

// MaxReplyRunes is the longest reply the provider accepts.
func MaxReplyRunes(p entities.Provider) int {
	if p == entities.ProviderTwilio {
		return TwilioMaxReplyRunes
	}
	return WhatsAppMaxReplyRunes
}

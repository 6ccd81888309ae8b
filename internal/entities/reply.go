package entities

// ReplyStatus classifies the outcome of one agent invocation.
type ReplyStatus string

const (
	StatusOk            ReplyStatus = "ok"
	StatusProviderError ReplyStatus = "provider_error"
	StatusTimeout       ReplyStatus = "timeout"
	StatusUnknown       ReplyStatus = "unknown"
	// StatusBusy means the sender already has a full queue of pending turns.
	StatusBusy ReplyStatus = "busy"
)

// AgentReply is the result of invoking the reasoning engine.
type AgentReply struct {
	Status   ReplyStatus
	Text     string // set when Status is StatusOk
	RawError string // for logs only, never sent to the user
}

func OkReply(text string) AgentReply { return AgentReply{Status: StatusOk, Text: text} }

package domain

// InboundKind classifies an inbound chat message.
type InboundKind int

const (
	InboundText InboundKind = iota + 1
	InboundStart
	InboundGenerate
	InboundUnknownCommand
)

func (k InboundKind) String() string {
	switch k {
	case InboundText:
		return "text"
	case InboundStart:
		return "start"
	case InboundGenerate:
		return "generate"
	case InboundUnknownCommand:
		return "unknown_command"
	default:
		return "unknown"
	}
}

// Inbound is a transport-neutral inbound message. From carries the sender's
// identity fields as reported by the platform; counters are always zero.
type Inbound struct {
	Kind      InboundKind
	ChatID    int64
	MessageID int
	Text      string
	From      User
}

// Package kit holds the transport-neutral contracts between the bot core,
// the chat adapter and plugins. Everything here is plain data; the adapter
// owns the mapping to the concrete chat platform.
package kit

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int
	FromID       int64
	FromUsername string
	// ChatType is the platform chat kind, e.g. "private", "group", "supergroup".
	ChatType string
	Text     string
}

// IsGroupChat reports whether the message arrived in a group conversation.
func (m *Message) IsGroupChat() bool {
	return m != nil && (m.ChatType == "group" || m.ChatType == "supergroup")
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityError
)

// Notification is an operator-facing message routed by the notify service.
type Notification struct {
	Title    string
	Body     string
	Severity Severity
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

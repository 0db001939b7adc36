// Package transport holds the chat-platform-neutral types shared by the
// adapter, the command router and the announcer.
package transport

import "context"

// Message is an incoming text message.
type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic, 0 if none
	FromID       int64
	FromUsername string
	FromName     string
	Text         string
	Private      bool
}

// Sender is what the club calls a participant: the chat username.
func (m Message) Sender() string { return m.FromUsername }

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

func (m Message) Target() ChatTarget { return ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID} }

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	// ParseMode is "HTML" or empty for plain text.
	ParseMode      string
	DisablePreview bool
	ReplyTo        int
}

// Messenger delivers text to a chat.
type Messenger interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Adapter is a running chat connection.
type Adapter interface {
	Messenger
	Start(ctx context.Context, out chan<- Message) error
	Stop(ctx context.Context) error
}

// BotCommand is one entry of the platform command menu.
type BotCommand struct {
	Command     string
	Description string
}

// MenuUpdater is implemented by adapters that publish a command menu.
type MenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

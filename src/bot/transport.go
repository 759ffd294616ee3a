// Package bot implements the chat surface: a transport-neutral router over
// the key services and a Telegram adapter.
package bot

import (
	"context"

	"github.com/Vafelkin/outline-tg-bot/src/models"
)

// EventKind classifies inbound chat events
type EventKind string

const (
	EventCommand  EventKind = "command"
	EventCallback EventKind = "callback"
	EventText     EventKind = "text"
)

// Event is one inbound chat interaction
type Event struct {
	Kind    EventKind
	Profile models.ActorProfile
	ChatID  int64

	// Command is the command name without the slash, Payload its arguments,
	// the callback data or the free text
	Command string
	Payload string

	CallbackID string
	// Message is the message that carried the event: the keyboard a
	// callback came from or the text the actor sent
	Message models.MessageRef
}

// Button is an inline keyboard button carrying callback data
type Button struct {
	Text string
	Data string
}

// Keyboard is a list of button rows
type Keyboard [][]Button

// Row builds a single keyboard row
func Row(buttons ...Button) []Button {
	return buttons
}

// Transport delivers outbound messages. Texts use HTML markup.
type Transport interface {
	Send(ctx context.Context, chatID int64, text string, kb Keyboard) (models.MessageRef, error)
	Edit(ctx context.Context, ref models.MessageRef, text string, kb Keyboard) error
	Delete(ctx context.Context, ref models.MessageRef) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

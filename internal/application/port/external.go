package port

import "context"

// ChatMessenger posts plain-text messages to a team chat
type ChatMessenger interface {
	SendText(ctx context.Context, chatID, text string) error
}

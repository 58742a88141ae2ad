package lark

import (
	"context"
	"encoding/json"
	"fmt"

	larkIm "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/garyjia/recruit-workflow/internal/application/port"
)

const receiveIDTypeChat = "chat_id"

// Messenger implements port.ChatMessenger on top of the Lark IM API
type Messenger struct {
	messages messageCreator
	logger   *zap.Logger
}

// NewMessenger creates a new Lark message sender adapter
func NewMessenger(sdkClient *SDKClient, logger *zap.Logger) *Messenger {
	return &Messenger{
		messages: sdkClient.messages(),
		logger:   logger,
	}
}

// SendText posts a plain-text message to a group chat
func (m *Messenger) SendText(ctx context.Context, chatID, text string) error {
	if chatID == "" {
		return fmt.Errorf("chatID cannot be empty")
	}
	if text == "" {
		return fmt.Errorf("text cannot be empty")
	}

	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("failed to marshal message content: %w", err)
	}

	req := larkIm.NewCreateMessageReqBuilder().
		ReceiveIdType(receiveIDTypeChat).
		Body(larkIm.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType("text").
			Content(string(content)).
			Build()).
		Build()

	resp, err := m.messages.Create(ctx, req)
	if err != nil {
		m.logger.Error("Failed to send message",
			zap.String("chat_id", chatID),
			zap.Error(err))
		return fmt.Errorf("failed to send message: %w", err)
	}

	if !resp.Success() {
		m.logger.Error("API returned failure",
			zap.String("chat_id", chatID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}

	m.logger.Debug("Message sent",
		zap.String("message_id", messageID),
		zap.String("chat_id", chatID))

	return nil
}

// Verify interface compliance
var _ port.ChatMessenger = (*Messenger)(nil)

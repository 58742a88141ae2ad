package lark

import (
	"context"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkIm "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"
)

// Config holds Lark client configuration
type Config struct {
	AppID     string
	AppSecret string
}

// messageCreator is the slice of the SDK the messenger needs
type messageCreator interface {
	Create(ctx context.Context, req *larkIm.CreateMessageReq, options ...larkcore.RequestOptionFunc) (*larkIm.CreateMessageResp, error)
}

// SDKClient holds an authenticated Lark client. Tenant tokens are cached by the SDK.
type SDKClient struct {
	client *lark.Client
}

// NewSDKClient creates a client for a self-built Lark app
func NewSDKClient(cfg Config, logger *zap.Logger) *SDKClient {
	level := larkcore.LogLevelWarn
	if logger.Core().Enabled(zap.DebugLevel) {
		level = larkcore.LogLevelDebug
	}

	return &SDKClient{
		client: lark.NewClient(cfg.AppID, cfg.AppSecret,
			lark.WithLogLevel(level),
			lark.WithEnableTokenCache(true),
		),
	}
}

func (c *SDKClient) messages() messageCreator {
	return c.client.Im.Message
}

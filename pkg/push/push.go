// Package push sends Firebase Cloud Messaging notifications to agents.
package push

import (
	"context"
	"fmt"
	"strconv"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"messenger-console/config"
	"messenger-console/logger"
)

const androidChannelID = "high_importance_channel"

// Notification is a new-message alert for one conversation.
type Notification struct {
	CustomerName   string
	Text           string
	ConversationID uint
	PageID         string
}

// Result reports what happened to a multicast.
type Result struct {
	Sent int
	// StaleTokens were rejected as unregistered and should be cleared.
	StaleTokens []string
}

type multicastSender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Client struct {
	sender multicastSender
}

// NewClient initializes the Admin SDK from a service-account file. Without a
// credentials file the client is disabled and Send is a no-op.
func NewClient(ctx context.Context, cfg config.PushConfig) (*Client, error) {
	if cfg.CredentialsFile == "" {
		logger.LogInfo("Push notifications disabled (no Firebase credentials)")
		return &Client{}, nil
	}

	var fbConfig *firebase.Config
	if cfg.ProjectID != "" {
		fbConfig = &firebase.Config{ProjectID: cfg.ProjectID}
	}
	app, err := firebase.NewApp(ctx, fbConfig, option.WithCredentialsFile(cfg.CredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}
	mc, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase messaging: %w", err)
	}
	logger.LogInfo("Firebase Admin SDK initialized")
	return &Client{sender: mc}, nil
}

func (c *Client) Enabled() bool {
	return c != nil && c.sender != nil
}

// BuildMessage renders a notification for the given device tokens.
func BuildMessage(tokens []string, n Notification) *messaging.MulticastMessage {
	name := n.CustomerName
	if name == "" {
		name = "Customer"
	}
	body := n.Text
	if body == "" {
		body = "📷 Image attachment"
	}
	return &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: "New msg from " + name,
			Body:  body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: androidChannelID,
				Priority:  messaging.PriorityHigh,
			},
		},
		Data: map[string]string{
			"conversationId": strconv.FormatUint(uint64(n.ConversationID), 10),
			"pageId":         n.PageID,
			"type":           "NEW_MESSAGE",
		},
	}
}

// maxMulticastTokens is the FCM limit per SendEachForMulticast call.
const maxMulticastTokens = 500

// Send delivers n to every non-empty token, in batches FCM accepts. A failed
// batch does not stop the rest; its error is returned with what was sent.
func (c *Client) Send(ctx context.Context, tokens []string, n Notification) (Result, error) {
	if !c.Enabled() {
		return Result{}, nil
	}
	valid := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t != "" {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		return Result{}, nil
	}

	var (
		res      Result
		firstErr error
	)
	for start := 0; start < len(valid); start += maxMulticastTokens {
		chunk := valid[start:min(start+maxMulticastTokens, len(valid))]
		resp, err := c.sender.SendEachForMulticast(ctx, BuildMessage(chunk, n))
		if err != nil {
			logger.LogWarn("FCM batch of %d tokens failed: %v", len(chunk), err)
			if firstErr == nil {
				firstErr = fmt.Errorf("fcm send: %w", err)
			}
			continue
		}
		res.Sent += resp.SuccessCount
		logger.LogInfo("📡 FCM: sent %d, failed %d", resp.SuccessCount, resp.FailureCount)
		for i, r := range resp.Responses {
			if r.Success || i >= len(chunk) {
				continue
			}
			if messaging.IsUnregistered(r.Error) || messaging.IsInvalidArgument(r.Error) {
				res.StaleTokens = append(res.StaleTokens, chunk[i])
				continue
			}
			logger.LogWarn("FCM failure for token #%d: %v", start+i, r.Error)
		}
	}
	return res, firstErr
}

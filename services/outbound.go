package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"messenger-console/db"
	"messenger-console/logger"
	"messenger-console/models"
	apperrors "messenger-console/pkg/errors"
	"messenger-console/pkg/media"
	"messenger-console/pkg/meta"
	"messenger-console/pkg/telemetry"
)

// Sender is the outbound half of the platform adapter.
type Sender interface {
	SendText(ctx context.Context, creds meta.Credentials, recipientID, text string, opts meta.SendOptions) (*meta.SendResult, error)
	SendImage(ctx context.Context, creds meta.Credentials, recipientID, imageURL string, opts meta.SendOptions) (*meta.SendResult, error)
}

type SendRequest struct {
	ConversationID uint
	Text           string
	// ImageURL may be a local upload path; it is made absolute for the
	// platform and stored as given.
	ImageURL string
	AgentID  uint
}

// SendResult lists the rows recorded for a reply. An image with a caption
// goes out as two platform messages.
type SendResult struct {
	Messages []models.Message
	Tagged   bool
}

// Outbound sends agent replies and records them once the platform accepts them.
type Outbound struct {
	ledger       *db.Ledger
	pages        *PageCredentials
	sender       Sender
	publicURL    string
	uploadPrefix string
	now          func() time.Time
}

func NewOutbound(ledger *db.Ledger, pages *PageCredentials, sender Sender, publicURL, uploadPrefix string) *Outbound {
	return &Outbound{
		ledger:       ledger,
		pages:        pages,
		sender:       sender,
		publicURL:    publicURL,
		uploadPrefix: uploadPrefix,
		now:          time.Now,
	}
}

// Send delivers req. Nothing is written unless the platform accepted the
// message. When the image goes out but the text fails, the image row is kept
// and returned alongside the error.
func (o *Outbound) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" && req.ImageURL == "" {
		return nil, apperrors.Validation("message text or image is required")
	}

	ctx, span := telemetry.Tracer().Start(ctx, "outbound.send")
	defer span.End()
	span.SetAttributes(attribute.Int64("conversation.id", int64(req.ConversationID)))

	conv, err := o.ledger.GetConversation(ctx, req.ConversationID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, apperrors.NotFound("conversation")
		}
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to load conversation", err)
	}
	creds, _, err := o.pages.Get(ctx, conv.PageID)
	if err != nil {
		if errors.Is(err, ErrUnknownPage) {
			return nil, apperrors.NotFound("page")
		}
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to load page credentials", err)
	}

	result := &SendResult{}
	if req.ImageURL != "" {
		target, err := media.AbsoluteURL(o.publicURL, o.uploadPrefix, req.ImageURL)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrValidation, err.Error(), err)
		}
		tagged, err := o.deliver(ctx, func(opts meta.SendOptions) error {
			_, err := o.sender.SendImage(ctx, creds, conv.UserID, target, opts)
			return err
		})
		if err != nil {
			return nil, sendFailure(err)
		}
		msg, err := o.record(ctx, conv, "", req.ImageURL, req.AgentID)
		if err != nil {
			return nil, err
		}
		result.Messages = append(result.Messages, *msg)
		result.Tagged = result.Tagged || tagged
	}

	if text != "" {
		tagged, err := o.deliver(ctx, func(opts meta.SendOptions) error {
			_, err := o.sender.SendText(ctx, creds, conv.UserID, text, opts)
			return err
		})
		if err != nil {
			return result, sendFailure(err)
		}
		msg, err := o.record(ctx, conv, text, "", req.AgentID)
		if err != nil {
			return result, err
		}
		result.Messages = append(result.Messages, *msg)
		result.Tagged = result.Tagged || tagged
	}
	return result, nil
}

// deliver makes at most two attempts: untagged first, then once with the
// human agent tag if the messaging window has closed.
func (o *Outbound) deliver(ctx context.Context, attempt func(meta.SendOptions) error) (bool, error) {
	err := attempt(meta.SendOptions{})
	if err == nil {
		telemetry.OutboundSends.WithLabelValues("sent").Inc()
		return false, nil
	}
	var sendErr *meta.SendError
	if !errors.As(err, &sendErr) || sendErr.Kind != meta.KindWindowClosed {
		telemetry.OutboundSends.WithLabelValues(kindLabel(err)).Inc()
		return false, err
	}

	logger.LogInfo("⏰ Messaging window closed, retrying with %s tag", meta.HumanAgentTag)
	err = attempt(meta.SendOptions{Tag: meta.HumanAgentTag})
	if err != nil {
		telemetry.OutboundSends.WithLabelValues(kindLabel(err)).Inc()
		return true, err
	}
	telemetry.OutboundSends.WithLabelValues("sent_tagged").Inc()
	return true, nil
}

func (o *Outbound) record(ctx context.Context, conv *models.Conversation, text, imageURL string, agentID uint) (*models.Message, error) {
	now := o.now().UTC()
	var agent *uint
	if agentID != 0 {
		agent = &agentID
	}
	msg, err := o.ledger.AppendMessage(ctx, db.NewMessage{
		ConversationID: conv.ID,
		SenderID:       conv.PageID,
		RecipientID:    conv.UserID,
		Text:           text,
		ImageURL:       imageURL,
		FromPage:       true,
		AgentID:        agent,
		Timestamp:      now,
	})
	if err != nil {
		// The customer already has the message; only our copy is missing.
		logger.LogError("Sent message for conversation %d but failed to record it: %v", conv.ID, err)
		return nil, apperrors.Wrap(apperrors.ErrInternal, "message sent but could not be saved", err)
	}
	if err := o.ledger.TouchOutbound(ctx, conv.ID, now); err != nil {
		logger.LogWarn("Failed to advance last_message_time for conversation %d: %v", conv.ID, err)
	}
	if err := o.ledger.UpdatePreviewAndUnread(ctx, conv.ID, previewText(text, imageURL), false); err != nil {
		logger.LogWarn("Failed to update preview for conversation %d: %v", conv.ID, err)
	}
	return msg, nil
}

func kindLabel(err error) string {
	var sendErr *meta.SendError
	if errors.As(err, &sendErr) {
		return sendErr.Kind.String()
	}
	return "other"
}

// sendFailure turns a platform error into the API error shown to agents.
func sendFailure(err error) error {
	var sendErr *meta.SendError
	if !errors.As(err, &sendErr) {
		return apperrors.Wrap(apperrors.ErrSendFailed, "Failed to send message to Meta", err)
	}
	logger.LogWarn("Send failed: %v", sendErr)
	appErr := apperrors.Wrap(apperrors.ErrSendFailed, sendErr.UserMessage(), sendErr)
	appErr.Details = map[string]interface{}{
		"kind":    sendErr.Kind.String(),
		"code":    sendErr.Code,
		"subcode": sendErr.Subcode,
	}
	return appErr
}

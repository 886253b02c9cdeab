package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"messenger-console/db"
	"messenger-console/logger"
	"messenger-console/pkg/meta"
	"messenger-console/pkg/push"
	"messenger-console/pkg/realtime"
	"messenger-console/pkg/telemetry"
)

// Outcome is what happened to one inbound event.
type Outcome string

const (
	OutcomeProcessed   Outcome = "processed"
	OutcomeEcho        Outcome = "echo"
	OutcomeUnknownPage Outcome = "unknown_page"
	OutcomeFailed      Outcome = "failed"
)

// Notifier delivers push notifications to agent devices.
type Notifier interface {
	Send(ctx context.Context, tokens []string, n push.Notification) (push.Result, error)
}

// TokenStore yields and prunes agent push tokens.
type TokenStore interface {
	FCMTokensForPage(ctx context.Context, pageID string) ([]string, error)
	ClearFCMTokens(ctx context.Context, tokens []string) error
}

// Pipeline turns webhook payloads into ledger rows, realtime events and push
// notifications. Steps for one event run strictly in sequence.
type Pipeline struct {
	pages    *PageCredentials
	ledger   *db.Ledger
	identity *IdentityResolver
	hub      Publisher
	notifier Notifier
	tokens   TokenStore
}

func NewPipeline(pages *PageCredentials, ledger *db.Ledger, identity *IdentityResolver, hub Publisher, notifier Notifier, tokens TokenStore) *Pipeline {
	return &Pipeline{
		pages:    pages,
		ledger:   ledger,
		identity: identity,
		hub:      hub,
		notifier: notifier,
		tokens:   tokens,
	}
}

// Summary counts outcomes for one payload.
type Summary struct {
	Events      int
	Diagnostics []meta.Diagnostic
	Outcomes    map[Outcome]int
}

// Process handles a raw webhook body. It never returns an error: everything
// that goes wrong is logged and counted, since the platform already got its ack.
func (p *Pipeline) Process(ctx context.Context, requestID string, raw []byte) Summary {
	ctx, span := telemetry.Tracer().Start(ctx, "webhook.process")
	defer span.End()
	span.SetAttributes(attribute.String("request.id", requestID))

	events, diags := meta.Normalize(raw)
	for _, d := range diags {
		telemetry.WebhookDiagnostics.WithLabelValues(string(d.Shape)).Inc()
		logger.LogWarn("[%s] Dropped webhook fragment: %s", requestID, d)
	}

	sum := Summary{Events: len(events), Diagnostics: diags, Outcomes: make(map[Outcome]int)}
	for _, ev := range events {
		outcome, err := p.HandleEvent(ctx, ev)
		if err != nil {
			logger.LogError("[%s] Failed to process event from %s on page %s: %v", requestID, ev.SenderID, ev.PageID, err)
		}
		sum.Outcomes[outcome]++
		telemetry.WebhookEvents.WithLabelValues(string(outcome)).Inc()
	}
	return sum
}

// HandleEvent runs Classify, Direction, Ledger, Identity and Fanout for one
// normalized event.
func (p *Pipeline) HandleEvent(ctx context.Context, ev meta.InboundEvent) (Outcome, error) {
	start := time.Now()
	defer func() { telemetry.PipelineDuration.Observe(time.Since(start).Seconds()) }()

	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.event")
	defer span.End()
	span.SetAttributes(
		attribute.String("page.id", ev.PageID),
		attribute.String("payload.shape", string(ev.Shape)),
	)

	// Echoes confirm sends that were recorded when they were made.
	if ev.IsEcho {
		logger.LogDebug("⏭️ Ignoring echo on page %s", ev.PageID)
		return OutcomeEcho, nil
	}

	creds, _, err := p.pages.Get(ctx, ev.PageID)
	if err != nil {
		if errors.Is(err, ErrUnknownPage) {
			logger.LogWarn("Dropping event for unregistered page %s", ev.PageID)
			return OutcomeUnknownPage, nil
		}
		span.SetStatus(codes.Error, err.Error())
		return OutcomeFailed, err
	}

	inbound := !ev.FromPage()
	if !inbound {
		logger.LogWarn("Non-echo page-originated message on page %s, recording it anyway", ev.PageID)
	}
	customerID := ev.CustomerID()
	if customerID == "" {
		return OutcomeFailed, fmt.Errorf("page-originated event without recipient on page %s", ev.PageID)
	}

	conv, err := p.ledger.EnsureConversation(ctx, customerID, ev.PageID, ev.Timestamp)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return OutcomeFailed, err
	}
	imageURL := ev.ImageURL()
	msg, err := p.ledger.AppendMessage(ctx, db.NewMessage{
		ConversationID: conv.ID,
		SenderID:       ev.SenderID,
		RecipientID:    ev.RecipientID,
		Text:           ev.Text,
		ImageURL:       imageURL,
		FromPage:       !inbound,
		Timestamp:      ev.Timestamp,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return OutcomeFailed, err
	}
	if err := p.ledger.UpdatePreviewAndUnread(ctx, conv.ID, previewText(ev.Text, imageURL), inbound); err != nil {
		logger.LogError("Failed to update preview for conversation %d: %v", conv.ID, err)
	}

	name, err := p.identity.Resolve(ctx, customerID, creds, conv)
	if err != nil {
		logger.LogWarn("Identity resolution failed for %s: %v", customerID, err)
	}

	if !inbound {
		return OutcomeProcessed, nil
	}

	p.hub.Publish(realtime.Event{
		Type:   realtime.EventNewMessage,
		PageID: ev.PageID,
		Data:   MessageEvent{Message: *msg, PageID: ev.PageID, UserName: name},
	})
	if current, err := p.ledger.GetConversation(ctx, conv.ID); err == nil {
		p.hub.Publish(realtime.Event{
			Type:   realtime.EventConversationUpdated,
			PageID: ev.PageID,
			Data:   NewConversationUpdate(current),
		})
	} else {
		logger.LogError("Failed to reload conversation %d: %v", conv.ID, err)
	}

	p.notify(ctx, ev.PageID, conv.ID, name, ev.Text)
	logger.LogInfo("📥 Stored message %d in conversation %d (page %s)", msg.ID, conv.ID, ev.PageID)
	return OutcomeProcessed, nil
}

func (p *Pipeline) notify(ctx context.Context, pageID string, conversationID uint, name, text string) {
	if p.notifier == nil || p.tokens == nil {
		return
	}
	tokens, err := p.tokens.FCMTokensForPage(ctx, pageID)
	if err != nil {
		logger.LogError("Failed to load push tokens for page %s: %v", pageID, err)
		return
	}
	if len(tokens) == 0 {
		return
	}
	res, err := p.notifier.Send(ctx, tokens, push.Notification{
		CustomerName:   name,
		Text:           text,
		ConversationID: conversationID,
		PageID:         pageID,
	})
	if err != nil {
		telemetry.PushNotifications.WithLabelValues("error").Inc()
		logger.LogError("Push notification failed: %v", err)
	}
	telemetry.PushNotifications.WithLabelValues("sent").Add(float64(res.Sent))
	if len(res.StaleTokens) > 0 {
		if err := p.tokens.ClearFCMTokens(ctx, res.StaleTokens); err != nil {
			logger.LogWarn("Failed to clear stale push tokens: %v", err)
		}
	}
}

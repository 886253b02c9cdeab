package meta

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// secondsCutoff separates second and millisecond epoch values.
const secondsCutoff = 10_000_000_000

// Shape names the payload layout an event was taken from.
type Shape string

const (
	ShapeMessaging Shape = "page.messaging"
	ShapeChanges   Shape = "page.changes"
	ShapeFlat      Shape = "field.messages"
	ShapeUnknown   Shape = "unknown"
)

// InboundEvent is one message event in platform-neutral form.
type InboundEvent struct {
	Shape        Shape
	PageID       string
	SenderID     string
	RecipientID  string
	MessageID    string
	Text         string
	Attachments  []Attachment
	IsEcho       bool
	AppID        int64
	Timestamp    time.Time
	CommandNames []string
}

// ImageURL returns the url of the first attachment when it is an image.
func (e InboundEvent) ImageURL() string {
	if len(e.Attachments) > 0 && e.Attachments[0].Type == "image" {
		return e.Attachments[0].Payload.URL
	}
	return ""
}

// FromPage reports whether the page itself sent the message.
func (e InboundEvent) FromPage() bool {
	return e.SenderID == e.PageID
}

// CustomerID is the non-page side of the exchange.
func (e InboundEvent) CustomerID() string {
	if e.FromPage() {
		return e.RecipientID
	}
	return e.SenderID
}

// Diagnostic explains why part of a payload was dropped.
type Diagnostic struct {
	Shape  Shape
	Reason string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s", d.Shape, d.Reason)
}

type Attachment struct {
	Type    string `json:"type"`
	Payload struct {
		URL string `json:"url"`
	} `json:"payload"`
}

type idRef struct {
	ID string `json:"id"`
}

type command struct {
	Name string `json:"name"`
}

type messageData struct {
	Mid         string       `json:"mid"`
	Text        string       `json:"text"`
	IsEcho      bool         `json:"is_echo"`
	AppID       int64        `json:"app_id"`
	Attachments []Attachment `json:"attachments"`
	Commands    []command    `json:"commands"`
}

// epoch accepts numbers and numeric strings.
type epoch struct {
	set   bool
	value int64
}

func (e *epoch) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return nil // unparseable timestamps fall back to receipt time
	}
	e.set, e.value = true, int64(v)
	return nil
}

// Time converts seconds or milliseconds to UTC; unset means now.
func (e epoch) Time(now time.Time) time.Time {
	if !e.set || e.value <= 0 {
		return now.UTC()
	}
	if e.value < secondsCutoff {
		return time.Unix(e.value, 0).UTC()
	}
	return time.UnixMilli(e.value).UTC()
}

type messagingEvent struct {
	Sender    idRef        `json:"sender"`
	Recipient idRef        `json:"recipient"`
	Timestamp epoch        `json:"timestamp"`
	Message   *messageData `json:"message"`
}

type changeData struct {
	Field string          `json:"field"`
	Value *messagingEvent `json:"value"`
}

type entryData struct {
	ID        string           `json:"id"`
	Messaging []messagingEvent `json:"messaging"`
	Changes   []changeData     `json:"changes"`
}

type webhookBody struct {
	Object string          `json:"object"`
	Entry  []entryData     `json:"entry"`
	Field  string          `json:"field"`
	Value  *messagingEvent `json:"value"`
}

// Normalize turns a raw webhook body into inbound events. Anything that
// cannot be attributed to a page is dropped and reported as a diagnostic.
func Normalize(raw []byte) ([]InboundEvent, []Diagnostic) {
	return normalizeAt(raw, time.Now())
}

func normalizeAt(raw []byte, now time.Time) ([]InboundEvent, []Diagnostic) {
	var body webhookBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, []Diagnostic{{Shape: ShapeUnknown, Reason: "invalid JSON: " + err.Error()}}
	}

	var (
		events []InboundEvent
		diags  []Diagnostic
	)
	add := func(shape Shape, pageID string, ev *messagingEvent) {
		e, reason := toEvent(shape, pageID, ev, now)
		if reason != "" {
			diags = append(diags, Diagnostic{Shape: shape, Reason: reason})
			return
		}
		events = append(events, e)
	}

	switch {
	case body.Object == "page":
		if len(body.Entry) == 0 {
			diags = append(diags, Diagnostic{Shape: ShapeUnknown, Reason: "page object without entries"})
		}
		for i := range body.Entry {
			entry := &body.Entry[i]
			switch {
			case len(entry.Messaging) > 0:
				for j := range entry.Messaging {
					add(ShapeMessaging, entry.ID, &entry.Messaging[j])
				}
			case len(entry.Changes) > 0:
				for _, ch := range entry.Changes {
					if ch.Field != "messages" || ch.Value == nil {
						diags = append(diags, Diagnostic{Shape: ShapeChanges, Reason: "ignored change field " + strconv.Quote(ch.Field)})
						continue
					}
					add(ShapeChanges, entry.ID, ch.Value)
				}
			default:
				diags = append(diags, Diagnostic{Shape: ShapeUnknown, Reason: "entry " + entry.ID + " has neither messaging nor changes"})
			}
		}
	case body.Field == "messages" && body.Value != nil:
		pageID := body.Value.Recipient.ID
		if pageID == "" {
			pageID = body.Value.Sender.ID
		}
		add(ShapeFlat, pageID, body.Value)
	default:
		diags = append(diags, Diagnostic{Shape: ShapeUnknown, Reason: fmt.Sprintf("unsupported payload object=%q field=%q", body.Object, body.Field)})
	}
	return events, diags
}

func toEvent(shape Shape, pageID string, ev *messagingEvent, now time.Time) (InboundEvent, string) {
	if pageID == "" {
		return InboundEvent{}, "could not determine page id"
	}
	if ev.Message == nil {
		return InboundEvent{}, "not a message event"
	}
	if ev.Sender.ID == "" {
		return InboundEvent{}, "missing sender id"
	}

	msg := ev.Message
	text := msg.Text
	names := make([]string, 0, len(msg.Commands))
	for _, c := range msg.Commands {
		names = append(names, c.Name)
	}
	if len(names) > 0 {
		if text != "" {
			text += "\n"
		}
		text += "[Commands: " + strings.Join(names, ", ") + "]"
	}

	return InboundEvent{
		Shape:        shape,
		PageID:       pageID,
		SenderID:     ev.Sender.ID,
		RecipientID:  ev.Recipient.ID,
		MessageID:    msg.Mid,
		Text:         text,
		Attachments:  msg.Attachments,
		IsEcho:       msg.IsEcho,
		AppID:        msg.AppID,
		Timestamp:    ev.Timestamp.Time(now),
		CommandNames: names,
	}, ""
}

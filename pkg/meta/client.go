package meta

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"messenger-console/logger"
)

const (
	DefaultGraphURL = "https://graph.facebook.com/v22.0"
	// HumanAgentTag lets a human reply up to 7 days after the last customer message.
	HumanAgentTag = "HUMAN_AGENT"
)

// Credentials identify the page an outbound call is made for.
type Credentials struct {
	PageID      string
	AccessToken string
}

type SendOptions struct {
	Tag string
}

type SendResult struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

type Profile struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	ProfilePic string `json:"profile_pic"`
}

// DisplayName joins first and last name.
func (p *Profile) DisplayName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

type ConnectedPage struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AccessToken string `json:"access_token"`
}

type graphError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	Subcode   int    `json:"error_subcode"`
	FBTraceID string `json:"fbtrace_id"`
}

type graphErrorEnvelope struct {
	Error *graphError `json:"error"`
}

// Client talks to the Graph API.
type Client struct {
	graphURL   string
	httpClient *http.Client
}

func NewClient(graphURL string, httpClient *http.Client) *Client {
	if graphURL == "" {
		graphURL = DefaultGraphURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		graphURL:   strings.TrimRight(graphURL, "/"),
		httpClient: httpClient,
	}
}

type sendPayload struct {
	MessagingType string            `json:"messaging_type"`
	Tag           string            `json:"tag,omitempty"`
	Recipient     map[string]string `json:"recipient"`
	Message       interface{}       `json:"message"`
}

func newSendPayload(recipientID string, message interface{}, opts SendOptions) sendPayload {
	p := sendPayload{
		MessagingType: "RESPONSE",
		Recipient:     map[string]string{"id": recipientID},
		Message:       message,
	}
	if opts.Tag != "" {
		p.MessagingType = "MESSAGE_TAG"
		p.Tag = opts.Tag
	}
	return p
}

// SendText sends one text message. Failures are always *SendError.
func (c *Client) SendText(ctx context.Context, creds Credentials, recipientID, text string, opts SendOptions) (*SendResult, error) {
	return c.send(ctx, creds, newSendPayload(recipientID, map[string]string{"text": text}, opts))
}

// SendImage sends an image by URL. The URL must be reachable by Meta.
func (c *Client) SendImage(ctx context.Context, creds Credentials, recipientID, imageURL string, opts SendOptions) (*SendResult, error) {
	message := map[string]interface{}{
		"attachment": map[string]interface{}{
			"type": "image",
			"payload": map[string]interface{}{
				"url":         imageURL,
				"is_reusable": true,
			},
		},
	}
	return c.send(ctx, creds, newSendPayload(recipientID, message, opts))
}

func (c *Client) send(ctx context.Context, creds Credentials, payload sendPayload) (*SendResult, error) {
	tagged := payload.Tag != ""
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, &SendError{Kind: KindOther, Message: fmt.Sprintf("encode payload: %v", err), Tagged: tagged}
	}

	endpoint := c.graphURL + "/me/messages?access_token=" + url.QueryEscape(creds.AccessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, &SendError{Kind: KindOther, Message: fmt.Sprintf("build request: %v", err), Tagged: tagged}
	}
	req.Header.Set("Content-Type", "application/json")

	logger.LogDebug("📤 Graph send for page %s (type=%s tag=%s)", creds.PageID, payload.MessagingType, payload.Tag)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &SendError{Kind: KindOther, Message: fmt.Sprintf("send request: %v", stripURL(err)), Tagged: tagged}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SendError{Kind: KindOther, Message: fmt.Sprintf("read response: %v", err), Status: resp.StatusCode, Tagged: tagged}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseSendError(resp.StatusCode, body, tagged)
	}

	var result SendResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &SendError{Kind: KindOther, Message: fmt.Sprintf("decode response: %v", err), Status: resp.StatusCode, Tagged: tagged}
	}
	return &result, nil
}

func parseSendError(status int, body []byte, tagged bool) *SendError {
	var env graphErrorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil {
		return &SendError{
			Kind:    KindOther,
			Message: fmt.Sprintf("status %d: %s", status, truncate(string(body), 200)),
			Status:  status,
			Tagged:  tagged,
		}
	}
	ge := env.Error
	return &SendError{
		Kind:    classify(ge.Code, ge.Subcode, ge.Message, tagged),
		Message: ge.Message,
		Code:    ge.Code,
		Subcode: ge.Subcode,
		Status:  status,
		Tagged:  tagged,
	}
}

// FetchProfile reads first/last name and picture for a page-scoped user id.
func (c *Client) FetchProfile(ctx context.Context, creds Credentials, userID string) (*Profile, error) {
	q := url.Values{}
	q.Set("fields", "first_name,last_name,profile_pic")
	q.Set("access_token", creds.AccessToken)

	var profile Profile
	if err := c.getJSON(ctx, c.graphURL+"/"+url.PathEscape(userID)+"?"+q.Encode(), &profile); err != nil {
		return nil, fmt.Errorf("fetch profile %s: %w", userID, err)
	}
	return &profile, nil
}

// FetchConnectedPages lists the pages a user token manages, following paging.
func (c *Client) FetchConnectedPages(ctx context.Context, userToken string) ([]ConnectedPage, error) {
	q := url.Values{}
	q.Set("fields", "id,name,access_token")
	q.Set("limit", "100")
	q.Set("access_token", userToken)
	next := c.graphURL + "/me/accounts?" + q.Encode()

	var pages []ConnectedPage
	for next != "" {
		var result struct {
			Data   []ConnectedPage `json:"data"`
			Paging struct {
				Next string `json:"next"`
			} `json:"paging"`
		}
		if err := c.getJSON(ctx, next, &result); err != nil {
			return nil, fmt.Errorf("fetch connected pages: %w", err)
		}
		pages = append(pages, result.Data...)
		next = result.Paging.Next
	}
	return pages, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error making request: %w", stripURL(err))
	}
	defer resp.Body.Close()
	logger.LogDebug("⏱️ Graph request completed in %v", time.Since(start))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var env graphErrorEnvelope
		if json.Unmarshal(body, &env) == nil && env.Error != nil {
			return fmt.Errorf("API error: %s (code %d)", env.Error.Message, env.Error.Code)
		}
		return fmt.Errorf("error response from API: %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

// stripURL drops the request URL from transport errors; it carries the
// access token in its query.
func stripURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

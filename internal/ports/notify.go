package ports

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookChannel posts an ApprovalEnvelope as a JSON body to a configured
// URL, the way connectors/http.Connector issues outbound calls: a shared
// *http.Client with a bounded timeout.
//
// Grounded on connectors/http/connector.go's http.Client construction
// (getaxonflow-axonflow).
type WebhookChannel struct {
	URL     string
	Headers map[string]string
	client  *http.Client
}

// NewWebhookChannel builds a WebhookChannel posting to url with a 10s
// request timeout.
func NewWebhookChannel(url string, headers map[string]string) *WebhookChannel {
	return &WebhookChannel{
		URL: url, Headers: headers,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *WebhookChannel) Type() NotificationChannelType { return ChannelWebhook }

func (c *WebhookChannel) Send(ctx context.Context, envelope ApprovalEnvelope) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal approval envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// SlackChannel posts an approval envelope to a Slack incoming webhook URL,
// rendered as a simple text message (Slack's incoming-webhook payload shape
// is a thin JSON wrapper, so this reuses WebhookChannel's transport).
type SlackChannel struct {
	webhook *WebhookChannel
}

// NewSlackChannel builds a SlackChannel posting to a Slack incoming webhook.
func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{webhook: NewWebhookChannel(webhookURL, nil)}
}

func (c *SlackChannel) Type() NotificationChannelType { return ChannelSlack }

func (c *SlackChannel) Send(ctx context.Context, envelope ApprovalEnvelope) error {
	payload := map[string]interface{}{
		"text": fmt.Sprintf("*%s*\n%s\n(approval_id: %s, execution: %s)",
			envelope.Title, envelope.Message, envelope.ApprovalID, envelope.ExecutionID),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.webhook.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// TeamsChannel posts an approval envelope to a Microsoft Teams incoming
// webhook connector URL, using Teams' MessageCard JSON shape.
type TeamsChannel struct {
	webhook *WebhookChannel
}

// NewTeamsChannel builds a TeamsChannel posting to a Teams incoming webhook.
func NewTeamsChannel(webhookURL string) *TeamsChannel {
	return &TeamsChannel{webhook: NewWebhookChannel(webhookURL, nil)}
}

func (c *TeamsChannel) Type() NotificationChannelType { return ChannelTeams }

func (c *TeamsChannel) Send(ctx context.Context, envelope ApprovalEnvelope) error {
	payload := map[string]interface{}{
		"@type":    "MessageCard",
		"@context": "https://schema.org/extensions",
		"summary":  envelope.Title,
		"title":    envelope.Title,
		"text":     envelope.Message,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal teams payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build teams request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.webhook.client.Do(req)
	if err != nil {
		return fmt.Errorf("teams request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("teams webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// EmailChannel sends an approval envelope via the Resend HTTP API, using
// the RESEND_API_KEY environment variable spec.md section 6 names.
type EmailChannel struct {
	apiKey string
	from   string
	to     []string
	client *http.Client
}

// NewEmailChannel builds an EmailChannel. apiKey is typically read from
// os.Getenv("RESEND_API_KEY") by the caller at construction time.
func NewEmailChannel(apiKey, from string, to []string) *EmailChannel {
	return &EmailChannel{apiKey: apiKey, from: from, to: to, client: &http.Client{Timeout: 10 * time.Second}}
}

func (c *EmailChannel) Type() NotificationChannelType { return ChannelEmail }

func (c *EmailChannel) Send(ctx context.Context, envelope ApprovalEnvelope) error {
	payload := map[string]interface{}{
		"from":    c.from,
		"to":      c.to,
		"subject": envelope.Title,
		"html":    fmt.Sprintf("<p>%s</p><p>Approval ID: %s</p>", envelope.Message, envelope.ApprovalID),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal email payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.resend.com/emails", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("email request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("resend API returned status %d", resp.StatusCode)
	}
	return nil
}

package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"
)

type block struct {
	Type   string       `json:"type"`
	Text   *blockText   `json:"text,omitempty"`
	Fields []*blockText `json:"fields,omitempty"`
}

type blockText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// WebhookProvider posts Block Kit messages to a Slack incoming webhook.
type WebhookProvider struct {
	url    string
	client *http.Client
}

func NewWebhook(url string) *WebhookProvider {
	return &WebhookProvider{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *WebhookProvider) PostMessage(ctx context.Context, header string, fields map[string]string) error {
	blocks := []block{
		{
			Type: "header",
			Text: &blockText{Type: "plain_text", Text: header, Emoji: true},
		},
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var texts []*blockText
	for _, k := range keys {
		texts = append(texts, &blockText{
			Type: "mrkdwn",
			Text: fmt.Sprintf("*%s:*\n%s", k, fields[k]),
		})
	}
	if len(texts) > 0 {
		blocks = append(blocks, block{Type: "section", Fields: texts})
	}

	body, err := json.Marshal(map[string]any{"blocks": blocks})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("slack webhook returned %d", resp.StatusCode)
	}
	return nil
}

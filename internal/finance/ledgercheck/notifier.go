package ledgercheck

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Alert is the notification sent when a check finds drift above the
// threshold.
type Alert struct {
	TenantID  string        `json:"tenant_id"`
	CheckedAt time.Time     `json:"checked_at"`
	Checked   int           `json:"checked"`
	MaxDrift  string        `json:"max_drift"`
	Accounts  []AlertAccount `json:"accounts"`
}

// AlertAccount is one drifted account inside an alert.
type AlertAccount struct {
	AccountID  string `json:"account_id"`
	Name       string `json:"name"`
	Currency   string `json:"currency"`
	Stored     string `json:"stored"`
	Replayed   string `json:"replayed"`
	Difference string `json:"difference"`
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// WebhookNotifier posts alerts as text messages to a chat webhook.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

type webhookPayload struct {
	MsgType string      `json:"msgtype"`
	Text    webhookText `json:"text"`
}

type webhookText struct {
	Content string `json:"content"`
}

// NewWebhookNotifier constructs a notifier.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify sends an alert to the webhook.
func (n *WebhookNotifier) Notify(ctx context.Context, alert Alert) error {
	if n == nil || n.url == "" {
		return errors.New("webhook notifier: empty url")
	}
	body, err := json.Marshal(webhookPayload{
		MsgType: "text",
		Text:    webhookText{Content: formatAlert(alert)},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook notifier: status %d", resp.StatusCode)
	}
	return nil
}

func formatAlert(alert Alert) string {
	var b strings.Builder
	b.WriteString("[Ledger Drift]\n")
	if alert.TenantID != "" {
		fmt.Fprintf(&b, "Tenant: %s\n", alert.TenantID)
	}
	fmt.Fprintf(&b, "Checked: %d account(s) at %s\n", alert.Checked, alert.CheckedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Drifted: %d, max %s\n", len(alert.Accounts), alert.MaxDrift)
	for _, a := range alert.Accounts {
		fmt.Fprintf(&b, "- %s (%s) stored %s replayed %s diff %s %s\n",
			a.Name, a.AccountID, a.Stored, a.Replayed, a.Difference, a.Currency)
	}
	b.WriteString("Suggested: run erpcore ledger verify and review recent postings")
	return strings.TrimSpace(b.String())
}

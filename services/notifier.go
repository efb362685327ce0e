package services

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// WebhookNotifier posts events to a webhook URL. Delivery is fire and
// forget: Send returns immediately and the HTTP call runs in its own
// goroutine, so it can never stall a trading critical section. An empty
// URL disables the notifier.
type WebhookNotifier struct {
	webhookURL string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewWebhookNotifier creates a notifier for the given webhook URL
func NewWebhookNotifier(webhookURL string) *WebhookNotifier {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &WebhookNotifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// Enabled reports whether a webhook URL is configured
func (n *WebhookNotifier) Enabled() bool {
	return n.webhookURL != ""
}

// Send dispatches a text event without waiting for delivery
func (n *WebhookNotifier) Send(message string) {
	if !n.Enabled() {
		return
	}

	go func() {
		payload, err := json.Marshal(map[string]string{"text": message})
		if err != nil {
			n.logger.WithError(err).Error("Failed to marshal notification")
			return
		}

		resp, err := n.httpClient.Post(n.webhookURL, "application/json", bytes.NewReader(payload))
		if err != nil {
			n.logger.WithError(err).Warn("Notification delivery failed")
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			n.logger.WithField("status", resp.StatusCode).Warn("Notification rejected by webhook")
		}
	}()
}

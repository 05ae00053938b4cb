// Package notification implements the SMS and email transport adapters
// the dispatcher fans out to. Both talk to generic HTTP providers and
// classify every outcome as ok, transient or permanent so the
// dispatcher can decide between retry and channel disablement.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"matchpulse/internal/model"
)

// SMSGateway sends SMS through an HTTP provider endpoint.
type SMSGateway struct {
	url    string
	apiKey string
	client *http.Client
}

// NewSMSGateway creates an SMS gateway.
// url: provider endpoint to POST messages to.
func NewSMSGateway(url, apiKey string) *SMSGateway {
	return &SMSGateway{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SendSMS posts one message. The body is already formatted and length
// limited by the caller.
func (g *SMSGateway) SendSMS(ctx context.Context, toE164, body string) (model.DeliveryStatus, error) {
	payload, _ := json.Marshal(map[string]string{
		"to":   toE164,
		"body": body,
	})

	status, err := postJSON(ctx, g.client, g.url, g.apiKey, payload)
	if err != nil {
		return status, fmt.Errorf("sms: %w", err)
	}
	log.Printf("[sms] sent to %s", toE164)
	return model.DeliveryOK, nil
}

// postJSON performs the provider POST and classifies the response.
// Network failures, 429 and 5xx are transient; any other non-2xx is
// permanent (bad recipient, rejected key, malformed payload).
func postJSON(ctx context.Context, client *http.Client, url, apiKey string, payload []byte) (model.DeliveryStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return model.DeliveryPermanent, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return model.DeliveryTransient, fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return model.DeliveryOK, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return model.DeliveryTransient, fmt.Errorf("provider status %d", resp.StatusCode)
	default:
		return model.DeliveryPermanent, fmt.Errorf("provider status %d", resp.StatusCode)
	}
}

package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"matchpulse/internal/model"
)

// EmailGateway sends email through an HTTP provider endpoint.
type EmailGateway struct {
	url    string
	apiKey string
	from   string
	client *http.Client
}

// NewEmailGateway creates an email gateway.
func NewEmailGateway(url, apiKey, from string) *EmailGateway {
	return &EmailGateway{
		url:    url,
		apiKey: apiKey,
		from:   from,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SendEmail posts one message.
func (g *EmailGateway) SendEmail(ctx context.Context, to, subject, body string) (model.DeliveryStatus, error) {
	payload, _ := json.Marshal(map[string]string{
		"from":    g.from,
		"to":      to,
		"subject": subject,
		"body":    body,
	})

	status, err := postJSON(ctx, g.client, g.url, g.apiKey, payload)
	if err != nil {
		return status, fmt.Errorf("email: %w", err)
	}
	log.Printf("[email] sent to %s: %s", to, subject)
	return model.DeliveryOK, nil
}

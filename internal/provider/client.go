// Package provider is the outbound decision channel to the external
// provider system. The call is synchronous with a bounded timeout; callers
// treat a failure as blocking their local commit.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"procurement/models"
)

const defaultTimeout = 10 * time.Second

// decisionPayload is the wire format the provider expects.
type decisionPayload struct {
	ProviderOfferID string `json:"providerOfferId"`
	Decision        string `json:"decision"`
	CorrelationID   string `json:"correlationId"`
}

// Client posts decisions to the provider's decision endpoint.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *zap.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// SendDecision delivers a decision about a provider offer. A non-2xx
// response or transport error is returned to the caller, which must not
// commit its local state change.
func (c *Client) SendDecision(ctx context.Context, providerOfferID string, decision models.Decision) error {
	correlationID := uuid.NewString()
	body, err := json.Marshal(decisionPayload{
		ProviderOfferID: providerOfferID,
		Decision:        string(decision),
		CorrelationID:   correlationID,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/decisions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send decision %s for offer %s: %w", decision, providerOfferID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider returned %d for offer %s: %s", resp.StatusCode, providerOfferID, snippet)
	}

	c.log.Info("decision delivered to provider",
		zap.String("providerOfferId", providerOfferID),
		zap.String("decision", string(decision)),
		zap.String("correlationId", correlationID))
	return nil
}

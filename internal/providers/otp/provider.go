// Package otp wraps the external one-time-code delivery provider.
package otp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"server/internal/domain"
)

// SendRequest asks the provider to deliver a code to a phone number.
type SendRequest struct {
	PhoneE164 string
	Code      string
	Channel   domain.OTPChannel
	Locale    string
}

// Sender is the contract for OTP delivery providers.
type Sender interface {
	Send(ctx context.Context, req SendRequest) error
}

// HTTPSender delivers codes through the configured SMS/WhatsApp gateway.
type HTTPSender struct {
	baseURL    string
	apiKey     string
	senderID   string
	httpClient *http.Client
}

func NewHTTPSender(baseURL, apiKey, senderID string, httpClient *http.Client) *HTTPSender {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPSender{baseURL: baseURL, apiKey: apiKey, senderID: senderID, httpClient: httpClient}
}

type sendPayload struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Channel string `json:"channel"`
	Code    string `json:"code"`
	Locale  string `json:"locale,omitempty"`
}

func (s *HTTPSender) Send(ctx context.Context, req SendRequest) error {
	channel := req.Channel
	if channel == "" {
		channel = domain.OTPChannelSMS
	}
	body, err := json.Marshal(sendPayload{
		To:      req.PhoneE164,
		From:    s.senderID,
		Channel: string(channel),
		Code:    req.Code,
		Locale:  req.Locale,
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", domain.ErrProviderFailure, resp.StatusCode, payload)
	}
	return nil
}

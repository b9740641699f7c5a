package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// SignalError reports a failed session description exchange.
type SignalError struct {
	StatusCode int
	Body       string
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("sdp exchange failed: status %d: %s", e.StatusCode, e.Body)
}

// Signaler exchanges session descriptions with the realtime service. It
// POSTs the local offer to the signaling endpoint and returns the
// remote answer.
type Signaler struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewSignaler(baseURL string, client *http.Client) *Signaler {
	if client == nil {
		client = http.DefaultClient
	}
	return &Signaler{BaseURL: baseURL, HTTPClient: client}
}

// Exchange sends the offer SDP authorized by the short-lived credential
// and returns the answer SDP.
func (s *Signaler) Exchange(ctx context.Context, credential, model, offer string) (string, error) {
	endpoint := fmt.Sprintf("%s?model=%s", s.BaseURL, url.QueryEscape(model))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(offer))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &SignalError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return string(body), nil
}

package phone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/phonechecker/phonechecker/internal/httpx"
)

const maxRemoteResponse = 1 << 20

// Remote delegates validation to an HTTP service that accepts
// {"phone_number", "region"} and answers with a Result document.
// Every failure to obtain a document wraps ErrNoResult.
type Remote struct {
	url    string
	region string
	client *http.Client
}

// NewRemote creates a remote validator posting to url.
func NewRemote(url, region string, timeout time.Duration) *Remote {
	return &Remote{
		url:    url,
		region: region,
		client: httpx.NewClient(timeout),
	}
}

type remoteRequest struct {
	PhoneNumber string `json:"phone_number"`
	Region      string `json:"region,omitempty"`
}

// Validate posts number to the remote service.
func (v *Remote) Validate(ctx context.Context, number string) (*Result, error) {
	body, err := json.Marshal(remoteRequest{PhoneNumber: number, Region: v.region})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpx.SetJSONHeaders(req)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoResult, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrNoResult, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteResponse))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrNoResult, err)
	}

	var result *Result
	if err := json.Unmarshal(raw, &result); err != nil || result == nil {
		return nil, fmt.Errorf("%w: status %d", ErrNoResult, resp.StatusCode)
	}
	if result.PhoneNumber.Original == "" {
		result.PhoneNumber.Original = number
	}
	return result, nil
}

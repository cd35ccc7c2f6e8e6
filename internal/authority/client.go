/*
Copyright 2025 Fiskal Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package authority is the boundary to the external tax authority. The
// pipeline only ever sees the Client interface; whether the real HTTP
// implementation or a test double sits behind it is invisible to handlers.
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/seliom/fiskal/internal/apierror"
)

// Verdicts returned when polling a submission ticket. PENDING is a
// legitimate outcome, not an error.
const (
	VerdictPending  = "PENDING"
	VerdictAccepted = "ACCEPTED"
	VerdictRejected = "REJECTED"
)

// SubmitResult is the authority's answer to a document submission.
type SubmitResult struct {
	Accepted bool   `json:"accepted"`
	TicketID string `json:"ticket_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// StatusResult is the authority's answer to a status poll.
type StatusResult struct {
	Verdict string `json:"verdict"`
	Ack     []byte `json:"ack,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// GuideResult is the synchronous answer to a shipment guide communication.
type GuideResult struct {
	Accepted bool   `json:"accepted"`
	Code     string `json:"code,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Client is the submission boundary. The authority is latent and fallible:
// transport faults surface as TRANSPORT_ERROR and are retried by the broker,
// explicit rejections come back inside the result, never as an error.
type Client interface {
	Submit(ctx context.Context, signedPayload []byte) (*SubmitResult, error)
	PollStatus(ctx context.Context, ticketID string) (*StatusResult, error)
	CommunicateGuide(ctx context.Context, signedPayload []byte) (*GuideResult, error)
}

// HTTPClient talks JSON over HTTP to the authority gateway. Transient
// transport faults are retried with bounded exponential backoff before the
// error is surfaced to the broker.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries uint64
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: 3,
	}
}

func (c *HTTPClient) Submit(ctx context.Context, signedPayload []byte) (*SubmitResult, error) {
	var result SubmitResult
	err := c.post(ctx, c.baseURL+"/v1/documents", signedPayload, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) PollStatus(ctx context.Context, ticketID string) (*StatusResult, error) {
	var result StatusResult
	err := c.get(ctx, fmt.Sprintf("%s/v1/submissions/%s", c.baseURL, ticketID), &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) CommunicateGuide(ctx context.Context, signedPayload []byte) (*GuideResult, error) {
	var result GuideResult
	err := c.post(ctx, c.baseURL+"/v1/guides", signedPayload, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) post(ctx context.Context, url string, body []byte, result interface{}) error {
	return c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, result)
}

func (c *HTTPClient) get(ctx context.Context, url string, result interface{}) error {
	return c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}, result)
}

func (c *HTTPClient) do(ctx context.Context, newReq func() (*http.Request, error), result interface{}) error {
	operation := func() error {
		req, err := newReq()
		if err != nil {
			return backoff.Permanent(err)
		}
		if c.apiKey != "" {
			req.Header.Set("X-Api-Key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		// 5xx means the authority gateway is degraded; retry.
		if resp.StatusCode >= 500 {
			return fmt.Errorf("authority returned status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("authority returned status %d", resp.StatusCode))
		}
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return backoff.Permanent(fmt.Errorf("decode authority response: %w", err))
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return apierror.NewAPIError(apierror.ErrTransport, "authority unreachable", err)
	}
	return nil
}

// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package intake submits parsed scans to the warehouse backend, which
// assigns each medicine a storage bin.
package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ffutop/scanintake/payload"
)

const (
	DefaultBaseURL = "http://localhost:8000"
	DefaultTimeout = 10 * time.Second

	assignBinPath = "/assign-bin"

	// fallbackMessage is shown when the backend gives no detail.
	fallbackMessage = "An error occurred while adding stock"
)

// Record is one stock intake sent to the backend.
type Record struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Category  string         `json:"category"`
	Count     int            `json:"count"`
	Source    payload.Source `json:"-"`
	ScannedAt time.Time      `json:"-"`
}

// NewRecord builds a record with a fresh id from a parsed payload.
func NewRecord(p payload.ScannedPayload, source payload.Source, scannedAt time.Time) Record {
	return Record{
		ID:        uuid.NewString(),
		Name:      p.Name,
		Category:  p.Category,
		Count:     p.Count,
		Source:    source,
		ScannedAt: scannedAt,
	}
}

// Bin is the storage location the backend assigned. Backends report it
// either as a string or a number.
type Bin string

func (b *Bin) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*b = Bin(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("bin must be a string or number: %w", err)
	}
	*b = Bin(n.String())
	return nil
}

// Result is the backend's confirmation of a stored intake.
type Result struct {
	MedicineName string `json:"medicine_name"`
	Bin          Bin    `json:"bin"`
	TotalStock   int    `json:"total_stock"`
	// Upserted is true when the medicine was new, false when an existing
	// item was updated.
	Upserted bool `json:"upserted"`
}

// Status is the operator-facing summary of the result.
func (r Result) Status() string {
	if r.Upserted {
		return "New Item Added"
	}
	return "Existing Item Updated"
}

// Submitter sends intakes to the backend.
type Submitter interface {
	Submit(ctx context.Context, rec Record) (Result, error)
}

// ErrRejected wraps every non-2xx answer from the backend.
var ErrRejected = errors.New("intake rejected")

// RejectedError carries the backend's message for a failed intake.
type RejectedError struct {
	StatusCode int
	Detail     string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("intake rejected: http %d: %s", e.StatusCode, e.Detail)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// UserMessage returns the text to show the operator for a failed submit.
func UserMessage(err error) string {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej.Detail
	}
	return fallbackMessage
}

// Client talks to the backend over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient returns a client for baseURL, or DefaultBaseURL when empty.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit posts rec to /assign-bin.
func (c *Client) Submit(ctx context.Context, rec Record) (Result, error) {
	var empty Result
	if strings.TrimSpace(rec.Name) == "" {
		return empty, errors.New("intake submit: name required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return empty, fmt.Errorf("intake submit: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+assignBinPath, bytes.NewReader(body))
	if err != nil {
		return empty, fmt.Errorf("intake submit: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return empty, fmt.Errorf("intake submit: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return empty, fmt.Errorf("intake submit: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return empty, &RejectedError{StatusCode: resp.StatusCode, Detail: errorDetail(raw)}
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return empty, fmt.Errorf("intake submit: decode response: %w", err)
	}
	return result, nil
}

// errorDetail extracts the backend's "detail" field. Validation errors
// carry a list of objects with a "msg" each.
func errorDetail(raw []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Detail) == 0 {
		return fallbackMessage
	}
	var s string
	if err := json.Unmarshal(body.Detail, &s); err == nil {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
		return fallbackMessage
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(body.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}
	return fallbackMessage
}

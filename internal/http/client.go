// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package http provides the outbound JSON client used for geolocation lookups and remote log
// delivery.
package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"runtime"
	"time"

	"github.com/wneessen/geoanchor/internal/logger"
)

// DefaultTimeout bounds every request that has no explicit timeout.
const DefaultTimeout = time.Second * 10

// maxDiscard is the amount of an ignored response body that is drained for connection reuse.
const maxDiscard = 1 << 16

var (
	// version is the version of the application (will be set at build time)
	version = "dev"
	// UserAgent is the User-Agent that the HTTP client sends with API requests
	UserAgent = fmt.Sprintf("Mozilla/5.0 (%s; %s) geoanchor/%s (+https://github.com/wneessen/geoanchor/)",
		runtime.GOOS,
		runtime.GOARCH,
		version,
	)

	ErrNonPointerTarget = errors.New("target must be a non-nil pointer")
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
)

// Client is a stdlib http.Client that speaks JSON.
type Client struct {
	*http.Client
	logger *logger.Logger
}

// New returns a Client with TLS 1.2 as minimum version and DefaultTimeout.
func New(logger *logger.Logger) *Client {
	transport := &http.Transport{TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12}}
	return &Client{
		Client: &http.Client{Timeout: DefaultTimeout, Transport: transport},
		logger: logger,
	}
}

// PostJSON posts payload as JSON to url and decodes the JSON response into target regardless
// of the status code, which is returned alongside.
func (h *Client) PostJSON(ctx context.Context, url string, payload, target any, timeout time.Duration) (int, error) {
	if !validTarget(target) {
		return 0, ErrNonPointerTarget
	}
	return h.post(ctx, url, payload, target, timeout)
}

// SendJSON posts payload as JSON to url and ignores the response body. Any status outside of
// 2xx is reported as ErrUnexpectedStatus.
func (h *Client) SendJSON(ctx context.Context, url string, payload any) (int, error) {
	code, err := h.post(ctx, url, payload, nil, DefaultTimeout)
	if err != nil {
		return code, err
	}
	if code < http.StatusOK || code >= http.StatusMultipleChoices {
		return code, fmt.Errorf("%w: %d", ErrUnexpectedStatus, code)
	}
	return code, nil
}

func (h *Client) post(ctx context.Context, url string, payload, target any, timeout time.Duration) (int, error) {
	body := bytes.NewBuffer(nil)
	if err := json.NewEncoder(body).Encode(payload); err != nil {
		return 0, fmt.Errorf("failed to encode JSON payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return 0, fmt.Errorf("failed create new HTTP request with context: %w", err)
	}
	request.Header.Set("User-Agent", UserAgent)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	response, err := h.Do(request)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to perform HTTP request: %w", err)
	}
	defer func() {
		if err := response.Body.Close(); err != nil {
			h.logger.Error("failed to close HTTP response body", logger.Err(err))
		}
	}()

	if target == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, maxDiscard))
		return response.StatusCode, nil
	}
	if err = json.NewDecoder(response.Body).Decode(target); err != nil {
		return response.StatusCode, fmt.Errorf("failed to decode JSON: %w", err)
	}
	return response.StatusCode, nil
}

func validTarget(target any) bool {
	rv := reflect.ValueOf(target)
	return rv.Kind() == reflect.Pointer && !rv.IsNil()
}

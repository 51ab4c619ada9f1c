// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package mgmt is a client for the charger's HTTP management service.
package mgmt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout bounds status and configuration requests
const DefaultTimeout = 3 * time.Second

// ErrLocked is matched by a StatusError carrying HTTP 423
var ErrLocked = errors.New("management service refused the request (locked)")

// StatusError is a non-2xx reply
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.Code, strings.TrimSpace(e.Body))
}

// Is reports 423 replies as ErrLocked
func (e *StatusError) Is(target error) bool {
	return target == ErrLocked && e.Code == http.StatusLocked
}

// IsConnectionReset reports whether err was caused by the peer resetting the
// connection, which is how the charger rejects an upload it will not accept.
func IsConnectionReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET)
}

// TagID is an NFC tag id; it travels as a JSON array of numbers
type TagID []uint8

func (id TagID) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(id))
	for i, b := range id {
		ints[i] = int(b)
	}
	return json.Marshal(ints)
}

func (id *TagID) UnmarshalJSON(data []byte) error {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	out := make(TagID, len(ints))
	for i, n := range ints {
		if n < 0 || n > 255 {
			return fmt.Errorf("tag id byte %d out of range", n)
		}
		out[i] = uint8(n)
	}
	*id = out
	return nil
}

// Equal compares two tag ids
func (id TagID) Equal(other TagID) bool {
	return bytes.Equal(id, other)
}

// IsZero reports an all-zero (empty reader slot) id
func (id TagID) IsZero() bool {
	for _, b := range id {
		if b != 0 {
			return false
		}
	}
	return true
}

func (id TagID) String() string {
	parts := make([]string, len(id))
	for i, b := range id {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

// SeenTag is one entry of the reader's recently seen list
type SeenTag struct {
	TagType  uint8 `json:"tag_type"`
	TagID    TagID `json:"tag_id"`
	LastSeen int64 `json:"last_seen"`
}

// AuthorizedTag is one entry of the credential store
type AuthorizedTag struct {
	TagName string `json:"tag_name"`
	TagType uint8  `json:"tag_type"`
	TagID   TagID  `json:"tag_id"`
}

// TagConfig is the body of /nfc/config_update
type TagConfig struct {
	RequireTagToStart bool            `json:"require_tag_to_start"`
	RequireTagToStop  bool            `json:"require_tag_to_stop"`
	AuthorizedTags    []AuthorizedTag `json:"authorized_tags"`
}

// MeterLive is the reply of /meter/live
type MeterLive struct {
	SamplesPerSecond float64   `json:"samples_per_second"`
	Samples          []float64 `json:"samples"`
}

// Client talks to one charger
type Client struct {
	base    string
	http    *http.Client
	timeout time.Duration
	log     zerolog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout sets the bound of status and configuration requests
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithLogger sets the client logger
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// New creates a client for host, which may be a bare host name or a URL
func New(host string, opts ...Option) *Client {
	base := strings.TrimRight(host, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	c := &Client{
		base:    base,
		http:    &http.Client{},
		timeout: DefaultTimeout,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the service root
func (c *Client) BaseURL() string {
	return c.base
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug().Str("method", method).Str("path", path).Err(err).Msg("request failed")
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: reading body: %w", method, path, err)
	}

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	data, err := c.do(ctx, http.MethodGet, path, nil, "", c.timeout)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("GET %s: decoding reply: %w", path, err)
	}
	return nil
}

func (c *Client) putJSON(ctx context.Context, path string, in any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPut, path, bytes.NewReader(body), "application/json", c.timeout)
	return err
}

// EventLog returns the event log text, which includes the firmware banner
func (c *Client) EventLog(ctx context.Context, timeout time.Duration) (string, error) {
	data, err := c.do(ctx, http.MethodGet, "/event_log", nil, "", timeout)
	return string(data), err
}

// IndexPage returns the web interface root document
func (c *Client) IndexPage(ctx context.Context) (string, error) {
	data, err := c.do(ctx, http.MethodGet, "/", nil, "", c.timeout)
	return string(data), err
}

func (c *Client) MeterLive(ctx context.Context) (MeterLive, error) {
	var live MeterLive
	err := c.getJSON(ctx, "/meter/live", &live)
	return live, err
}

func (c *Client) SeenTags(ctx context.Context) ([]SeenTag, error) {
	var tags []SeenTag
	err := c.getJSON(ctx, "/nfc/seen_tags", &tags)
	return tags, err
}

// FlashFirmware uploads a firmware image as a raw body without a content type.
// The upload is bounded by ctx only.
func (c *Client) FlashFirmware(ctx context.Context, image []byte) (string, error) {
	data, err := c.do(ctx, http.MethodPost, "/flash_firmware", bytes.NewReader(image), "", 0)
	return string(data), err
}

func (c *Client) FactoryReset(ctx context.Context, timeout time.Duration) error {
	body, _ := json.Marshal(map[string]bool{"do_i_know_what_i_am_doing": true})
	_, err := c.do(ctx, http.MethodPut, "/factory_reset", bytes.NewReader(body), "application/json", timeout)
	return err
}

// EnableProxy exposes the controller's protocol port on the network
func (c *Client) EnableProxy(ctx context.Context, timeout time.Duration) error {
	_, err := c.do(ctx, http.MethodGet, "/hidden_proxy/enable", nil, "", timeout)
	return err
}

func (c *Client) ConfigureTags(ctx context.Context, cfg TagConfig) error {
	return c.putJSON(ctx, "/nfc/config_update", cfg)
}

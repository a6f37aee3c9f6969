// Package openclinica is a SOAP 1.1 client for the OpenClinica 3.x web
// services. It implements study.Service on top of the study, studySubject,
// event, studyEventDefinition and data endpoints, authenticating every call
// with a WS-Security UsernameToken.
package openclinica

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/ocbridge/internal/domain/study"
)

// Endpoint names below <base>/ws/<name>/v1.
const (
	serviceStudy           = "study"
	serviceStudySubject    = "studySubject"
	serviceEvent           = "event"
	serviceEventDefinition = "studyEventDefinition"
	serviceData            = "data"
)

// maxResponseSize bounds the SOAP responses read into memory. Subject
// listings of large studies are the biggest payloads.
const maxResponseSize = 64 << 20

// Observer receives the outcome of every remote call.
type Observer interface {
	ObserveRemoteCall(operation string, d time.Duration, err error)
}

// Client talks to one OpenClinica web-services installation.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	logger     zerolog.Logger
	observer   Observer
	submitDate bool
}

// Option configures the Client during construction.
type Option func(*clientConfig) error

type clientConfig struct {
	httpClient   *http.Client
	logger       *zerolog.Logger
	timeout      time.Duration
	observer     Observer
	hashed       bool
	noSubmitDate bool
}

// New creates a client for the web services rooted at baseURL, e.g.
// "https://oc.example.org/OpenClinica-ws". The password is sent as its
// SHA-1 hex digest, as OpenClinica expects.
func New(baseURL, username, password string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("openclinica: baseURL is required")
	}
	if username == "" {
		return nil, fmt.Errorf("openclinica: username is required")
	}

	cfg := &clientConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	httpClient := cfg.httpClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}

	logger := zerolog.Nop()
	if cfg.logger != nil {
		logger = *cfg.logger
	}

	if !cfg.hashed {
		password = HashPassword(password)
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		username:   username,
		password:   password,
		httpClient: httpClient,
		logger:     logger,
		observer:   cfg.observer,
		submitDate: !cfg.noSubmitDate,
	}, nil
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *clientConfig) error {
		cfg.httpClient = c
		return nil
	}
}

// WithLogger configures structured logging.
func WithLogger(l zerolog.Logger) Option {
	return func(cfg *clientConfig) error {
		cfg.logger = &l
		return nil
	}
}

// WithTimeout sets a timeout on the HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) error {
		if d < 0 {
			return fmt.Errorf("openclinica: negative timeout %s", d)
		}
		cfg.timeout = d
		return nil
	}
}

// WithObserver reports every remote call to o.
func WithObserver(o Observer) Option {
	return func(cfg *clientConfig) error {
		cfg.observer = o
		return nil
	}
}

// WithHashedPassword marks the password passed to New as already hashed.
func WithHashedPassword() Option {
	return func(cfg *clientConfig) error {
		cfg.hashed = true
		return nil
	}
}

// WithoutSubmitDate stops the presence check from sending the subject's
// enrollment date.
func WithoutSubmitDate() Option {
	return func(cfg *clientConfig) error {
		cfg.noSubmitDate = true
		return nil
	}
}

// HashPassword returns the SHA-1 hex digest OpenClinica compares
// web-service passwords against.
func HashPassword(password string) string {
	sum := sha1.Sum([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Ping checks that the service is reachable and the credentials work.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ListAllStudies(ctx)
	return err
}

// call posts req to the named service and decodes the body content of the
// response into dst. Transport failures, SOAP faults and non-2xx statuses
// are returned as *study.RemoteError; the operation-level result status is
// checked by the caller.
func (c *Client) call(ctx context.Context, service, operation string, req, dst any) (err error) {
	start := time.Now()
	defer func() {
		if c.observer != nil {
			c.observer.ObserveRemoteCall(operation, time.Since(start), err)
		}
	}()

	payload, err := c.envelope(req)
	if err != nil {
		return &study.RemoteError{Operation: operation, Messages: []string{"encode request"}, Err: err}
	}

	url := fmt.Sprintf("%s/ws/%s/v1", c.baseURL, service)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &study.RemoteError{Operation: operation, Messages: []string{"create request"}, Err: err}
	}
	httpReq.Header.Set("Content-Type", "text/xml; charset=utf-8")
	httpReq.Header.Set("SOAPAction", `""`)

	c.logger.Debug().Str("operation", operation).Str("url", url).Msg("web service request")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &study.RemoteError{Operation: operation, Messages: []string{"exception while calling OpenClinica web service"}, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &study.RemoteError{Operation: operation, Messages: []string{"read response"}, Err: err}
	}
	c.logger.Debug().Str("operation", operation).Int("status", resp.StatusCode).Int("bytes", len(body)).Msg("web service response")

	var env responseEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &study.RemoteError{Operation: operation, Messages: []string{resp.Status}}
		}
		return &study.RemoteError{Operation: operation, Messages: []string{"decode response"}, Err: err}
	}
	if f := env.Body.Fault; f != nil {
		return &study.RemoteError{Operation: operation, Messages: []string{f.Message()}}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &study.RemoteError{Operation: operation, Messages: []string{resp.Status}}
	}
	if dst == nil {
		return nil
	}
	if err := xml.Unmarshal(env.Body.Content, dst); err != nil {
		return &study.RemoteError{Operation: operation, Messages: []string{"decode response body"}, Err: err}
	}
	return nil
}

var _ study.Service = (*Client)(nil)

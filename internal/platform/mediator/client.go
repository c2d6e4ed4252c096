// Package mediator is the HTTP client for the interoperability layer in
// front of the patient index and the shared record store. All engine writes
// to either registry go through here; nothing else in the codebase opens an
// HTTP connection to them.
package mediator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/hie-sync/internal/platform/fhir"
)

const fhirMediaType = "application/fhir+json"

type Config struct {
	BaseURL  string
	Channel  string // mediator channel path, e.g. "/SHR/fhir"
	Username string
	Password string
	ClientID string // value for the mediator's client identification header
	Timeout  time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	log  zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  logger.With().Str("component", "mediator").Str("channel", cfg.Channel).Logger(),
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+c.cfg.Channel+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	req.Header.Set("X-OpenHIM-ClientID", c.cfg.ClientID)
	req.Header.Set("Accept", fhirMediaType)
	if body != nil {
		req.Header.Set("Content-Type", fhirMediaType)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Method: method, Path: path, Err: err}
	}

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("mediator call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(respBody), 2048),
			Location:   resp.Header.Get("Location"),
		}
	}

	// Success: the new resource id may arrive in the Location header
	// instead of the body, so thread it through for extraction.
	if loc := resp.Header.Get("Location"); loc != "" && len(respBody) == 0 {
		respBody = []byte(fmt.Sprintf(`{"id":%q}`, fhir.StripReferencePrefix(trimHistory(loc))))
	}
	return respBody, nil
}

// CreatePatient POSTs a patient to the channel and returns the id the store
// assigned, or "" when the store did not report one.
func (c *Client) CreatePatient(ctx context.Context, p *fhir.Patient) (string, error) {
	body, err := c.do(ctx, http.MethodPost, "/Patient", p)
	if err != nil {
		return "", err
	}
	return extractID(body), nil
}

// CreateObservation POSTs an observation (append semantics, not idempotent).
func (c *Client) CreateObservation(ctx context.Context, o *fhir.Observation) (string, error) {
	body, err := c.do(ctx, http.MethodPost, "/Observation", o)
	if err != nil {
		return "", err
	}
	return extractID(body), nil
}

// UpsertObservation PUTs an observation under its deterministic id, which is
// safe to repeat.
func (c *Client) UpsertObservation(ctx context.Context, o *fhir.Observation) error {
	_, err := c.do(ctx, http.MethodPut, "/Observation/"+o.ID, o)
	return err
}

// SearchPatients queries "?identifier=system|value" and returns the first
// page of the result bundle.
func (c *Client) SearchPatients(ctx context.Context, system, value string) (*fhir.Bundle, error) {
	q := url.Values{}
	q.Set("identifier", system+"|"+value)
	body, err := c.do(ctx, http.MethodGet, "/Patient?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var b fhir.Bundle
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, fmt.Errorf("decode search bundle: %w", err)
	}
	return &b, nil
}

// GetPatient fetches a single patient resource by id.
func (c *Client) GetPatient(ctx context.Context, id string) (*fhir.Patient, error) {
	body, err := c.do(ctx, http.MethodGet, "/Patient/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var p fhir.Patient
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode patient: %w", err)
	}
	return &p, nil
}

// Ping probes the channel root. Used only as a startup reachability check;
// failures are logged, not fatal.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/Patient?_count=1", nil)
	return err
}

func extractID(body []byte) string {
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	return fhir.StripReferencePrefix(resp.ID)
}

// trimHistory removes a "/_history/N" suffix from a Location URL.
func trimHistory(loc string) string {
	if i := strings.Index(loc, "/_history/"); i >= 0 {
		return loc[:i]
	}
	return loc
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

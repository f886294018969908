// Package hass implements the connector contracts against the Home Assistant
// REST API.
package hass

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/fentz26/presencesim/internal/connectors"
	"github.com/fentz26/presencesim/internal/models"
)

const (
	// DefaultBaseURL is the Supervisor proxy to the Core API.
	DefaultBaseURL = "http://supervisor/core/api"

	// DefaultTimeout bounds every request.
	DefaultTimeout = 20 * time.Second

	// BaseURLEnv and TokenEnv name the environment the Supervisor provides.
	BaseURLEnv = "HA_URL"
	TokenEnv   = "SUPERVISOR_TOKEN"

	maxErrorBody = 512
)

// ErrNoToken is reported when no access token is configured.
var ErrNoToken = errors.New("SUPERVISOR_TOKEN missing (Supervisor required)")

// Client talks to Home Assistant. It satisfies connectors.CommandSink,
// connectors.HistorySource and connectors.StateReader.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	now        func() time.Time
}

var (
	_ connectors.CommandSink   = (*Client)(nil)
	_ connectors.HistorySource = (*Client)(nil)
	_ connectors.StateReader   = (*Client)(nil)
)

// NewClient creates a client for baseURL authenticated with token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		now: time.Now,
	}
}

// EnvSettings returns the base URL and token from the environment. The base
// URL defaults to DefaultBaseURL; the token may be empty.
func EnvSettings() (baseURL, token string) {
	baseURL = os.Getenv(BaseURLEnv)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return baseURL, os.Getenv(TokenEnv)
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// States returns every entity state.
func (c *Client) States(ctx context.Context) ([]models.EntityState, error) {
	var states []models.EntityState
	if err := c.get(ctx, "/states", nil, &states); err != nil {
		return nil, err
	}
	return states, nil
}

// State returns one entity state, or nil when Home Assistant does not know
// the entity.
func (c *Client) State(ctx context.Context, entityID string) (*models.EntityState, error) {
	var st models.EntityState
	err := c.get(ctx, "/states/"+url.PathEscape(entityID), nil, &st)
	var callErr *connectors.CallError
	if errors.As(err, &callErr) && callErr.Kind == connectors.KindHTTP && callErr.Status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Call invokes domain.service with entity_id as the only service data.
func (c *Client) Call(ctx context.Context, domain, service, entityID string) error {
	payload, err := json.Marshal(map[string]string{"entity_id": entityID})
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/services/%s/%s", url.PathEscape(domain), url.PathEscape(service))
	resp, err := c.do(ctx, http.MethodPost, path, nil, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// History returns the state changes of entityID over the last lookbackDays,
// oldest first.
func (c *Client) History(ctx context.Context, entityID string, lookbackDays int) ([]models.HistoryEvent, error) {
	end := c.now().UTC()
	start := end.AddDate(0, 0, -lookbackDays)

	q := url.Values{}
	q.Set("filter_entity_id", entityID)
	q.Set("end_time", end.Format(time.RFC3339))
	q.Set("minimal_response", "1")

	// The API returns one list per matched entity.
	var series [][]models.HistoryEvent
	if err := c.get(ctx, "/history/period/"+start.Format(time.RFC3339), q, &series); err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return []models.HistoryEvent{}, nil
	}
	return series[0], nil
}

// Ping checks that the API root answers.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/", nil, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	resp, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// do sends one request. Transport failures become KindNetwork and non-2xx
// answers KindHTTP; on success the caller owns the body.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &connectors.CallError{Kind: connectors.KindNetwork, Detail: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &connectors.CallError{
			Kind:   connectors.KindHTTP,
			Status: resp.StatusCode,
			Detail: strings.TrimSpace(string(detail)),
		}
	}
	return resp, nil
}

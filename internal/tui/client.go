package tui

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fentz26/presencesim/internal/controlplane"
	"github.com/fentz26/presencesim/internal/models"
	"github.com/fentz26/presencesim/internal/scheduler"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the presencesim API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// Health reports whether the daemon answers /health with 200.
func (c *Client) Health() bool {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Status fetches the simulation status.
func (c *Client) Status() (controlplane.StatusResponse, error) {
	var status controlplane.StatusResponse
	err := c.do(http.MethodGet, "/api/status", &status)
	return status, err
}

// Preview fetches the next count queued actions.
func (c *Client) Preview(count int) ([]models.PlannedAction, error) {
	var actions []models.PlannedAction
	err := c.do(http.MethodGet, fmt.Sprintf("/api/preview?count=%d", count), &actions)
	return actions, err
}

// History fetches the newest executed actions.
func (c *Client) History(limit int) ([]models.ActionRecord, error) {
	var records []models.ActionRecord
	err := c.do(http.MethodGet, fmt.Sprintf("/api/history?limit=%d", limit), &records)
	return records, err
}

// Start starts the simulation.
func (c *Client) Start() (models.RunState, error) {
	var state models.RunState
	err := c.do(http.MethodPost, "/api/start", &state)
	return state, err
}

// Stop stops the simulation.
func (c *Client) Stop() (models.RunState, error) {
	var state models.RunState
	err := c.do(http.MethodPost, "/api/stop", &state)
	return state, err
}

// Step runs one executor iteration.
func (c *Client) Step() (scheduler.StepReport, error) {
	var report scheduler.StepReport
	err := c.do(http.MethodPost, "/api/step", &report)
	return report, err
}

func (c *Client) do(method, path string, out interface{}) error {
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s", strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

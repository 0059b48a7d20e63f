package ateliersdk

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
)

// Client is a minimal Atelier HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Item represents the API design item model.
type Item struct {
	ID               string `json:"id"`
	ProjectID        string `json:"project_id"`
	Name             string `json:"name"`
	SourcingType     string `json:"sourcing_type"`
	CurrentStage     string `json:"current_stage"`
	OverallReadiness int    `json:"overall_readiness"`
}

// Readiness is the aggregate RAG view of an item.
type Readiness struct {
	ItemID  string `json:"item_id"`
	Summary struct {
		Overall    int            `json:"overall"`
		ByCategory map[string]int `json:"by_category"`
		Worst      string         `json:"worst"`
		Counts     map[string]int `json:"counts"`
	} `json:"summary"`
}

// GateCheck is the evaluation of a gate for a target stage.
type GateCheck struct {
	ItemID       string `json:"item_id"`
	CurrentStage string `json:"current_stage"`
	TargetStage  string `json:"target_stage"`
	Decision     struct {
		CanAdvance bool     `json:"can_advance"`
		Failures   []string `json:"failures"`
		Warnings   []string `json:"warnings"`
	} `json:"decision"`
}

// Transition is one stage history entry.
type Transition struct {
	ID             int64  `json:"id"`
	ItemID         string `json:"item_id"`
	FromStage      string `json:"from_stage"`
	ToStage        string `json:"to_stage"`
	TransitionedAt string `json:"transitioned_at"`
	TransitionedBy string `json:"transitioned_by"`
	Notes          string `json:"notes,omitempty"`
	IsOverride     bool   `json:"is_override"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateItem creates a design item.
func (c *Client) CreateItem(ctx context.Context, name, sourcingType string) (Item, error) {
	body := map[string]any{
		"name":          name,
		"sourcing_type": sourcingType,
	}
	var resp Item
	err := c.do(ctx, http.MethodPost, c.projectPath("items"), body, &resp)
	return resp, err
}

// GetItem fetches a design item by id.
func (c *Client) GetItem(ctx context.Context, itemID string) (Item, error) {
	var resp Item
	endpoint := c.projectPath(fmt.Sprintf("items/%s", url.PathEscape(itemID)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SetRAG sets one RAG aspect and returns the recomputed readiness.
func (c *Client) SetRAG(ctx context.Context, itemID, aspect, status, notes string) (Readiness, error) {
	body := map[string]any{
		"aspect": aspect,
		"status": status,
		"notes":  notes,
	}
	var resp Readiness
	endpoint := c.projectPath(fmt.Sprintf("items/%s/rag", url.PathEscape(itemID)))
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp)
	return resp, err
}

// ItemReadiness returns the aggregate readiness of an item.
func (c *Client) ItemReadiness(ctx context.Context, itemID string) (Readiness, error) {
	var resp Readiness
	endpoint := c.projectPath(fmt.Sprintf("items/%s/readiness", url.PathEscape(itemID)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CheckGate evaluates the gate to a target stage without moving the item.
// Empty target means the next stage on the item's track.
func (c *Client) CheckGate(ctx context.Context, itemID, target string) (GateCheck, error) {
	endpoint := c.projectPath(fmt.Sprintf("items/%s/gate-check", url.PathEscape(itemID)))
	if target != "" {
		endpoint = fmt.Sprintf("%s?to=%s", endpoint, url.QueryEscape(target))
	}
	var resp GateCheck
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Transition moves an item to a stage. Set override with a note to bypass a
// failing gate.
func (c *Client) Transition(ctx context.Context, itemID, to, notes string, override bool) (Item, error) {
	body := map[string]any{
		"to":       to,
		"notes":    notes,
		"override": override,
	}
	var resp Item
	endpoint := c.projectPath(fmt.Sprintf("items/%s/transition", url.PathEscape(itemID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Revert moves an item back to an earlier stage. A note is mandatory.
func (c *Client) Revert(ctx context.Context, itemID, to, notes string) (Item, error) {
	body := map[string]any{
		"to":    to,
		"notes": notes,
	}
	var resp Item
	endpoint := c.projectPath(fmt.Sprintf("items/%s/revert", url.PathEscape(itemID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// History returns an item's stage history.
func (c *Client) History(ctx context.Context, itemID string) ([]Transition, error) {
	var resp []Transition
	endpoint := c.projectPath(fmt.Sprintf("items/%s/history", url.PathEscape(itemID)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := c.projectPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

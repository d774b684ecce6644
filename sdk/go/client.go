package radwerksdk

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

// Client is a minimal Radwerk HTTP API client.
type Client struct {
	BaseURL     string
	WorkshopID  string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, workshopID string) *Client {
	return &Client{
		BaseURL:    baseURL,
		WorkshopID: workshopID,
		Timeout:    10 * time.Second,
	}
}

// Order represents the API order model (partial).
type Order struct {
	ID           string  `json:"id"`
	WorkshopID   string  `json:"workshop_id"`
	Title        string  `json:"title"`
	CustomerName string  `json:"customer_name,omitempty"`
	Status       string  `json:"status"`
	AssigneeID   *string `json:"assignee_id,omitempty"`
	DueDate      *string `json:"due_date,omitempty"`
	ArchivedAt   *string `json:"archived_at,omitempty"`
}

// Build represents the API build model (partial).
type Build struct {
	ID         string            `json:"id"`
	WorkshopID string            `json:"workshop_id"`
	Title      string            `json:"title"`
	Status     string            `json:"status"`
	AssigneeID *string           `json:"assignee_id,omitempty"`
	DueDate    *string           `json:"due_date,omitempty"`
	Specs      map[string]string `json:"specs,omitempty"`
	ArchivedAt *string           `json:"archived_at,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Kind       string         `json:"kind"`
	WorkshopID string         `json:"workshop_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}

// CockpitEntry is one classified dashboard row.
type CockpitEntry struct {
	ID         string  `json:"id"`
	EntityKind string  `json:"entity_kind"`
	Title      string  `json:"title"`
	Status     string  `json:"status"`
	DueDate    *string `json:"due_date,omitempty"`
	Tier       string  `json:"tier"`
	Label      string  `json:"label"`
	Badge      string  `json:"badge"`
	IsUrgent   bool    `json:"is_urgent"`
}

// CockpitView is the dashboard payload.
type CockpitView struct {
	Filter  string         `json:"filter"`
	Entries []CockpitEntry `json:"entries"`
	Counts  map[string]int `json:"counts"`
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

// CreateOrder takes in a repair order.
func (c *Client) CreateOrder(ctx context.Context, title, customerName string) (Order, error) {
	body := map[string]any{
		"title":         title,
		"customer_name": customerName,
	}
	var resp Order
	err := c.do(ctx, http.MethodPost, c.workshopPath("orders"), body, &resp)
	return resp, err
}

// SetOrderStatus moves an order to a new status.
func (c *Client) SetOrderStatus(ctx context.Context, orderID, status string) (Order, error) {
	body := map[string]any{"status": status}
	var resp Order
	endpoint := c.workshopPath(fmt.Sprintf("orders/%s/status", url.PathEscape(orderID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// GetOrder fetches an order by id.
func (c *Client) GetOrder(ctx context.Context, orderID string) (Order, error) {
	var resp Order
	endpoint := c.workshopPath(fmt.Sprintf("orders/%s", url.PathEscape(orderID)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateBuild opens an assembly build.
func (c *Client) CreateBuild(ctx context.Context, title, customerName string) (Build, error) {
	body := map[string]any{
		"title":         title,
		"customer_name": customerName,
	}
	var resp Build
	err := c.do(ctx, http.MethodPost, c.workshopPath("builds"), body, &resp)
	return resp, err
}

// SetBuildStatus moves a build to a new status.
func (c *Client) SetBuildStatus(ctx context.Context, buildID, status string) (Build, error) {
	body := map[string]any{"status": status}
	var resp Build
	endpoint := c.workshopPath(fmt.Sprintf("builds/%s/status", url.PathEscape(buildID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// CompleteBuild records the bike attributes and advances the build.
func (c *Client) CompleteBuild(ctx context.Context, buildID string, fields map[string]string) (Build, error) {
	body := map[string]any{"fields": fields}
	var resp Build
	endpoint := c.workshopPath(fmt.Sprintf("builds/%s/complete", url.PathEscape(buildID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Cockpit returns the dashboard view for a filter ("" means all).
func (c *Client) Cockpit(ctx context.Context, filter string) (CockpitView, error) {
	endpoint := c.workshopPath("cockpit")
	if filter != "" {
		endpoint = fmt.Sprintf("%s?filter=%s", endpoint, url.QueryEscape(filter))
	}
	var resp CockpitView
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// History returns the audit trail for an order.
func (c *Client) OrderHistory(ctx context.Context, orderID string) ([]Event, error) {
	var resp []Event
	endpoint := c.workshopPath(fmt.Sprintf("orders/%s/history", url.PathEscape(orderID)))
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
	endpoint := c.workshopPath("events")
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

// Purge runs the retention sweep.
func (c *Client) Purge(ctx context.Context) (int, error) {
	var resp struct {
		Purged int `json:"purged"`
	}
	err := c.do(ctx, http.MethodPost, c.workshopPath("purge"), map[string]any{}, &resp)
	return resp.Purged, err
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
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
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

func (c *Client) workshopPath(p string) string {
	workshop := url.PathEscape(c.WorkshopID)
	return fmt.Sprintf("v0/workshops/%s/%s", workshop, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

package ticketapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/go-querystring/query"

	"github.com/diagnosis/venue-scanner/internal/domain"
	"github.com/diagnosis/venue-scanner/pkg/logger"
)

// APIError carries the backend's message together with the failure category.
type APIError struct {
	Status  int
	Message string
	Kind    error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ticket api: status %d: %v", e.Status, e.Kind)
	}
	return fmt.Sprintf("ticket api: status %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return e.Kind }

// MessageOf returns the server-provided message inside err, or fallback.
func MessageOf(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

type envelope struct {
	Success *bool           `json:"success,omitempty"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *envelope) hasData() bool {
	return len(e.Data) > 0 && string(e.Data) != "null"
}

type bookingQuery struct {
	BookingID string `url:"bookingId"`
}

type verifyRequest struct {
	BookingID string `json:"bookingId"`
}

// Client talks to the ticketing backend's scanner endpoints.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// NewClientWithHTTP is used when the caller owns the transport (tests, proxies).
func NewClientWithHTTP(baseURL string, hc *http.Client) *Client {
	return &Client{baseURL: baseURL, client: hc}
}

func (c *Client) FetchTicketDetails(ctx context.Context, kind domain.TicketKind, bookingID, token string) (*domain.TicketDetail, error) {
	var detail domain.TicketDetail
	env, err := c.get(ctx, kind, "ticket", bookingID, token, &detail)
	if err != nil {
		return nil, err
	}
	if !env.hasData() {
		return nil, &APIError{Status: http.StatusNotFound, Message: env.Message, Kind: domain.ErrNotFound}
	}
	return &detail, nil
}

func (c *Client) FetchFoodItems(ctx context.Context, kind domain.TicketKind, bookingID, token string) ([]domain.FoodItem, error) {
	var items []domain.FoodItem
	if _, err := c.get(ctx, kind, "food", bookingID, token, &items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.FoodItem{}
	}
	return items, nil
}

// VerifyTicket marks the booking as checked in and returns the backend's message.
func (c *Client) VerifyTicket(ctx context.Context, kind domain.TicketKind, bookingID, token string) (string, error) {
	body, err := json.Marshal(verifyRequest{BookingID: bookingID})
	if err != nil {
		return "", fmt.Errorf("failed to encode verify request: %w", err)
	}
	env, err := c.do(ctx, http.MethodPost, c.path(kind, "verify"), body, token)
	if err != nil {
		return "", err
	}
	return env.Message, nil
}

func (c *Client) path(kind domain.TicketKind, action string) string {
	return fmt.Sprintf("/api/scanner/%s/%s", kind, action)
}

func (c *Client) get(ctx context.Context, kind domain.TicketKind, action, bookingID, token string, out any) (*envelope, error) {
	values, err := query.Values(bookingQuery{BookingID: bookingID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}
	env, err := c.do(ctx, http.MethodGet, c.path(kind, action)+"?"+values.Encode(), nil, token)
	if err != nil {
		return nil, err
	}
	if !env.hasData() {
		return env, nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return nil, &APIError{Status: http.StatusOK, Kind: fmt.Errorf("%w: malformed response: %v", domain.ErrServer, err)}
	}
	return env, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, token string) (*envelope, error) {
	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requestID, ok := ctx.Value(logger.RequestIDKey).(string); ok {
		req.Header.Set("X-Request-ID", requestID)
	}

	logger.DebugContext(ctx, "Calling ticket backend", "method", method, "url", url)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrNetwork, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode >= 400 {
		return nil, &APIError{Status: resp.StatusCode, Message: env.Message, Kind: kindForStatus(resp.StatusCode)}
	}
	if decodeErr != nil {
		return nil, &APIError{Status: resp.StatusCode, Kind: fmt.Errorf("%w: malformed response: %v", domain.ErrServer, decodeErr)}
	}
	if env.Success != nil && !*env.Success {
		return nil, &APIError{Status: resp.StatusCode, Message: env.Message, Kind: domain.ErrInvalidBooking}
	}
	return &env, nil
}

func kindForStatus(status int) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.ErrUnauthenticated
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusConflict:
		return domain.ErrAlreadyVerified
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return domain.ErrInvalidBooking
	default:
		return domain.ErrServer
	}
}

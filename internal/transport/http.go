package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// HTTP talks to the reference entity service with the fiber client.
type HTTP struct {
	baseURL string
	timeout time.Duration
	token   string
}

// HTTPOption configures an HTTP transport.
type HTTPOption func(*HTTP)

// WithTimeout bounds every request. A context deadline that is sooner wins.
func WithTimeout(d time.Duration) HTTPOption {
	return func(h *HTTP) { h.timeout = d }
}

// WithSessionToken sends token as the session cookie used by the service for
// authenticated change submission.
func WithSessionToken(token string) HTTPOption {
	return func(h *HTTP) { h.token = token }
}

// NewHTTP returns a transport for the service at baseURL, e.g. http://localhost:3000.
func NewHTTP(baseURL string, opts ...HTTPOption) *HTTP {
	h := &HTTP{baseURL: strings.TrimRight(baseURL, "/"), timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: status %d: %s", e.Code, e.Body)
}

func (h *HTTP) deadline(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d := h.timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < d {
			d = left
		}
	}
	if d <= 0 {
		return 0, context.DeadlineExceeded
	}
	return d, nil
}

func (h *HTTP) do(ctx context.Context, a *fiber.Agent, out any) error {
	d, err := h.deadline(ctx)
	if err != nil {
		fiber.ReleaseAgent(a)
		return err
	}
	a.Timeout(d)
	if h.token != "" {
		a.Cookie("cookie_session", h.token)
	}
	code, body, errs := a.Struct(out)
	if code != 0 && (code < 200 || code > 299) {
		return &StatusError{Code: code, Body: string(body)}
	}
	if len(errs) > 0 {
		return fmt.Errorf("transport: %w", errors.Join(errs...))
	}
	return nil
}

func (h *HTTP) post(ctx context.Context, path string, in, out any) error {
	a := fiber.Post(h.baseURL + path)
	a.JSON(in)
	return h.do(ctx, a, out)
}

// Query implements Transport.
func (h *HTTP) Query(ctx context.Context, req *QueryRequest) (*Response, error) {
	var resp Response
	if err := h.post(ctx, "/api/instances", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// List implements Transport.
func (h *HTTP) List(ctx context.Context, req *ListRequest) (*Response, error) {
	var resp Response
	if err := h.post(ctx, "/api/lists", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Types implements Transport.
func (h *HTTP) Types(ctx context.Context, req *TypesRequest) (*TypesResponse, error) {
	a := fiber.Get(h.baseURL + "/api/types")
	a.QueryString("names=" + strings.Join(req.Names, ","))
	var resp TypesResponse
	if err := h.do(ctx, a, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Submit implements Transport.
func (h *HTTP) Submit(ctx context.Context, req *SubmitRequest) (*Response, error) {
	var resp Response
	if err := h.post(ctx, "/api/changes", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

/*
Package api is the HTTP client for the remote mark endpoints.

Key Functions:
  - CheckStatus: GET /posts/{id}/mark, returns whether the viewer marked the post.
  - SetMarked: POST /posts/{id}/mark.
  - ClearMarked: DELETE /posts/{id}/mark.

Failures are returned as *Error carrying a types.ErrorKind so callers can tell
rate limits, conflicts and forbidden operations from plain network failures.
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Nexora-Open-Source/markstatus/middleware"
	"github.com/Nexora-Open-Source/markstatus/monitoring"
	"github.com/Nexora-Open-Source/markstatus/types"
	"github.com/Nexora-Open-Source/markstatus/utils"
	"github.com/sirupsen/logrus"
)

const maxErrorBody = 4096

// StatusResponse is the body of a status check
type StatusResponse struct {
	IsMarked bool `json:"is_marked"`
}

// MutationResponse is the body of a mark or unmark call
type MutationResponse struct {
	OK bool `json:"ok"`
}

// ClientConfig configures a Client
type ClientConfig struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the remote mark endpoints
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient validates cfg and builds a Client
func NewClient(cfg ClientConfig, logger *logrus.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("api base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid api base URL %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("api base URL %q must be http or https", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Client{
		baseURL:    base,
		token:      cfg.Token,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// CheckStatus asks whether the viewer has marked itemID
func (c *Client) CheckStatus(ctx context.Context, itemID string) (bool, error) {
	var resp StatusResponse
	if err := c.do(ctx, http.MethodGet, itemID, &resp); err != nil {
		return false, err
	}
	return resp.IsMarked, nil
}

// SetMarked marks itemID for the viewer
func (c *Client) SetMarked(ctx context.Context, itemID string) error {
	return c.mutate(ctx, http.MethodPost, itemID)
}

// ClearMarked removes the viewer's mark from itemID
func (c *Client) ClearMarked(ctx context.Context, itemID string) error {
	return c.mutate(ctx, http.MethodDelete, itemID)
}

func (c *Client) mutate(ctx context.Context, method, itemID string) error {
	var resp MutationResponse
	if err := c.do(ctx, method, itemID, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return NewError(types.ErrorKindNetwork, "mutation was not acknowledged")
	}
	return nil
}

func (c *Client) markURL(itemID string) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + "/posts/" + itemID + "/mark"
	u.RawPath = c.baseURL.EscapedPath() + "/posts/" + url.PathEscape(itemID) + "/mark"
	return u.String()
}

func (c *Client) do(ctx context.Context, method, itemID string, out interface{}) error {
	if itemID == "" {
		return NewError(types.ErrorKindNetwork, "item id is required")
	}

	start := time.Now()
	requestID := utils.GenerateRequestID()

	ctx, span := monitoring.CreateSpan(ctx, "api "+method+" mark")
	defer span.End()
	monitoring.SetSpanAttributes(span, map[string]interface{}{
		"http.method": method,
		"item.id":     itemID,
		"request.id":  requestID,
	})

	req, err := http.NewRequestWithContext(ctx, method, c.markURL(itemID), nil)
	if err != nil {
		return &Error{Kind: types.ErrorKindNetwork, Message: "cannot build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(utils.RequestIDHeader, requestID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		monitoring.RecordAPIRequest(method, "transport_error", time.Since(start).Seconds())
		monitoring.SetSpanError(span, err)
		c.logger.WithFields(logrus.Fields{
			"method":     method,
			"item_id":    itemID,
			"request_id": requestID,
			"error":      err.Error(),
		}).Debug("Mark API request failed")
		return &Error{Kind: types.ErrorKindNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	status := strconv.Itoa(resp.StatusCode)
	monitoring.RecordAPIRequest(method, status, time.Since(start).Seconds())
	monitoring.SetSpanAttributes(span, map[string]interface{}{"http.status_code": resp.StatusCode})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeError(resp)
		monitoring.SetSpanError(span, apiErr)
		c.logger.WithFields(logrus.Fields{
			"method":      method,
			"item_id":     itemID,
			"request_id":  requestID,
			"status_code": resp.StatusCode,
			"kind":        apiErr.Kind,
		}).Debug("Mark API returned an error")
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		monitoring.SetSpanError(span, err)
		return &Error{Kind: types.ErrorKindNetwork, StatusCode: resp.StatusCode, Message: "invalid response body", Err: err}
	}
	return nil
}

func decodeError(resp *http.Response) *Error {
	apiErr := &Error{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err == nil && len(body) > 0 {
		var envelope middleware.APIError
		if jsonErr := json.Unmarshal(body, &envelope); jsonErr == nil && envelope.Error != "" {
			apiErr.Code = string(envelope.Error)
			if envelope.Message != "" {
				apiErr.Message = envelope.Message
			}
		}
	}

	apiErr.Kind = classifyResponse(resp.StatusCode, middleware.ErrorCode(apiErr.Code))
	return apiErr
}

// IsTimeout reports whether err came from a deadline or client timeout
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

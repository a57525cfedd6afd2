// Package supabase implements backend.Backend against a hosted Supabase
// project: GoTrue admin endpoints for identities and PostgREST for rows.
package supabase

import (
	"bytes"
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

	"github.com/tidwall/gjson"

	"github.com/fortressi/sellerhub/backend"
)

const (
	defaultTimeout = 30 * time.Second

	maxResponseBytes  = 8 << 20  // 8 MiB
	maxErrorBodyBytes = 32 << 10 // 32 KiB
)

// Config holds the project URL and the service role key.
type Config struct {
	URL        string
	ServiceKey string
	// HTTPClient overrides the default client. Timeout is ignored when set.
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Client talks to one Supabase project using the service role key.
type Client struct {
	url        string
	serviceKey string
	httpClient *http.Client
}

var _ backend.Backend = (*Client)(nil)

// New creates a client. URL and ServiceKey are required.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("supabase URL is required")
	}
	if cfg.ServiceKey == "" {
		return nil, errors.New("supabase service key is required")
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("supabase URL %q is not an absolute URL", cfg.URL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		url:        strings.TrimRight(cfg.URL, "/"),
		serviceKey: cfg.ServiceKey,
		httpClient: httpClient,
	}, nil
}

type createUserRequest struct {
	Email        string         `json:"email"`
	Password     string         `json:"password"`
	EmailConfirm bool           `json:"email_confirm"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// CreateIdentity creates a confirmed user through the admin API.
func (c *Client) CreateIdentity(ctx context.Context, params backend.IdentityParams) (*backend.Identity, error) {
	body, err := c.do(ctx, http.MethodPost, "/auth/v1/admin/users", nil, createUserRequest{
		Email:        params.Email,
		Password:     params.Password,
		EmailConfirm: true,
		UserMetadata: params.Metadata,
	})
	if err != nil {
		return nil, err
	}

	var identity backend.Identity
	if err := json.Unmarshal(body, &identity); err != nil {
		return nil, fmt.Errorf("decode created user: %w", err)
	}
	if identity.ID == "" {
		return nil, errors.New("created user has no id")
	}
	return &identity, nil
}

// DeleteIdentity deletes a user through the admin API.
func (c *Client) DeleteIdentity(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/auth/v1/admin/users/"+url.PathEscape(id), nil, nil)
	return err
}

func (c *Client) Insert(ctx context.Context, table string, record any) error {
	_, err := c.do(ctx, http.MethodPost, restPath(table), nil, record)
	return err
}

func (c *Client) Select(ctx context.Context, table string, q backend.Query, dest any) error {
	body, err := c.do(ctx, http.MethodGet, restPath(table), encodeQuery(q), nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode %s rows: %w", table, err)
	}
	return nil
}

func (c *Client) Update(ctx context.Context, table string, q backend.Query, patch any) (int, error) {
	body, err := c.do(ctx, http.MethodPatch, restPath(table), encodeQuery(q), patch)
	if err != nil {
		return 0, err
	}
	return countRows(body), nil
}

func (c *Client) Delete(ctx context.Context, table string, q backend.Query) (int, error) {
	body, err := c.do(ctx, http.MethodDelete, restPath(table), encodeQuery(q), nil)
	if err != nil {
		return 0, err
	}
	return countRows(body), nil
}

func restPath(table string) string {
	return "/rest/v1/" + url.PathEscape(table)
}

// encodeQuery renders q in PostgREST's horizontal filtering syntax.
func encodeQuery(q backend.Query) url.Values {
	values := url.Values{}
	for _, f := range q.Filters {
		values.Add(f.Column, "eq."+f.Value)
	}
	if q.Order != "" {
		dir := "asc"
		if q.Desc {
			dir = "desc"
		}
		values.Set("order", q.Order+"."+dir)
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	return values
}

// countRows counts the rows PostgREST echoed back under
// Prefer: return=representation.
func countRows(body []byte) int {
	result := gjson.ParseBytes(body)
	if !result.IsArray() {
		return 0
	}
	return int(result.Get("#").Int())
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	endpoint := c.url + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	if method != http.MethodGet {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		if readErr != nil {
			return nil, fmt.Errorf("read error response: %w", readErr)
		}
		return nil, parseError(resp.StatusCode, respBody)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(respBody) > maxResponseBytes {
		return nil, fmt.Errorf("response from %s exceeds %d bytes", path, maxResponseBytes)
	}
	return respBody, nil
}

// parseError turns an error response into a *backend.Error. GoTrue and
// PostgREST disagree on field names, so several are tried.
func parseError(status int, body []byte) *backend.Error {
	apiErr := &backend.Error{Status: status}

	if gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		for _, field := range []string{"msg", "message", "error_description", "error"} {
			if v := parsed.Get(field); v.Type == gjson.String && v.String() != "" {
				apiErr.Message = v.String()
				break
			}
		}
		for _, field := range []string{"error_code", "code"} {
			if v := parsed.Get(field); v.Exists() && v.String() != "" {
				apiErr.Code = v.String()
				break
			}
		}
	}

	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

package routeragent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/HotspotSync/internal/pkg/attrmap"
	"github.com/ManuelReschke/HotspotSync/internal/pkg/config"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

// HTTPClient implements Client against the router agent REST API
type HTTPClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client

	limiter *rate.Limiter
}

// NewHTTPClient creates a client limited to rps requests per second
func NewHTTPClient(baseURL, token string, timeout time.Duration, rps float64, burst int) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &HTTPClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// NewHTTPClientFromConfig creates a client from the router agent settings
func NewHTTPClientFromConfig(cfg config.RouterAgent) *HTTPClient {
	return NewHTTPClient(strings.TrimSpace(cfg.URL), strings.TrimSpace(cfg.Token), cfg.Timeout, cfg.Rate, cfg.Burst)
}

func (c *HTTPClient) UpsertProfile(ctx context.Context, profile attrmap.HotspotProfile) error {
	return c.do(ctx, "upsert profile", http.MethodPut, "/hotspot/profiles/"+url.PathEscape(profile.Name), profile, nil, false)
}

func (c *HTTPClient) UpsertUser(ctx context.Context, user HotspotUser) error {
	return c.do(ctx, "upsert user", http.MethodPut, "/hotspot/users/"+url.PathEscape(user.Name), user, nil, false)
}

func (c *HTTPClient) SetUserDisabled(ctx context.Context, name string, disabled bool) error {
	body := map[string]bool{"disabled": disabled}
	return c.do(ctx, "set user state", http.MethodPatch, "/hotspot/users/"+url.PathEscape(name), body, nil, false)
}

func (c *HTTPClient) RemoveUser(ctx context.Context, name string) error {
	return c.do(ctx, "remove user", http.MethodDelete, "/hotspot/users/"+url.PathEscape(name), nil, nil, true)
}

func (c *HTTPClient) GetSession(ctx context.Context, user string) (*Session, error) {
	var raw []map[string]interface{}
	if err := c.do(ctx, "get session", http.MethodGet, "/hotspot/active?user="+url.QueryEscape(user), nil, &raw, false); err != nil {
		return nil, err
	}
	for _, r := range raw {
		s := decodeSession(r)
		if s.User == user {
			return &s, nil
		}
	}
	return nil, nil
}

func (c *HTTPClient) ListSessions(ctx context.Context) ([]Session, error) {
	var raw []map[string]interface{}
	if err := c.do(ctx, "list sessions", http.MethodGet, "/hotspot/active", nil, &raw, false); err != nil {
		return nil, err
	}
	sessions := make([]Session, 0, len(raw))
	for _, r := range raw {
		sessions = append(sessions, decodeSession(r))
	}
	return sessions, nil
}

func (c *HTTPClient) DisconnectSession(ctx context.Context, user string) error {
	return c.do(ctx, "disconnect session", http.MethodDelete, "/hotspot/active/"+url.PathEscape(user), nil, nil, true)
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, in, out interface{}, notFoundOK bool) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &ProviderError{Op: op, Err: err}
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return &ProviderError{Op: op, Err: err}
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return &ProviderError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &ProviderError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if notFoundOK && resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ProviderError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ProviderError{Op: op, Err: fmt.Errorf("malformed response: %w", err)}
	}
	return nil
}

// decodeSession keeps every reported field as a string so the comparator can
// apply its own normalization.
func decodeSession(raw map[string]interface{}) Session {
	s := Session{Fields: make(map[string]string, len(raw))}
	for k, v := range raw {
		var str string
		switch val := v.(type) {
		case nil:
			continue
		case string:
			str = val
		case float64:
			str = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			str = strconv.FormatBool(val)
		default:
			b, _ := json.Marshal(val)
			str = string(b)
		}
		switch k {
		case ".id", "id":
			s.ID = str
		case "user":
			s.User = str
		case "address":
			s.Address = str
		case "mac-address":
			s.MAC = str
		}
		s.Fields[k] = str
	}
	return s
}

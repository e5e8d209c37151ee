package hass

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// defaultRESTTimeout bounds each REST request.
const defaultRESTTimeout = 10 * time.Second

// ErrRESTStatus is returned for non-2xx REST responses.
var ErrRESTStatus = errors.New("hass: unexpected REST status")

// RESTClient talks to the hub's REST API with a bearer token. It is used for
// one-off commands that do not need a websocket session.
//
// Thread Safety: All methods are safe for concurrent use.
type RESTClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewRESTClient creates a REST client for host:port.
func NewRESTClient(host string, port int, secure bool, token string, timeout time.Duration) *RESTClient {
	scheme := "http"
	if secure {
		scheme = "https"
	}
	if timeout <= 0 {
		timeout = defaultRESTTimeout
	}
	u := url.URL{Scheme: scheme, Host: net.JoinHostPort(host, strconv.Itoa(port))}
	return &RESTClient{
		baseURL:    u.String(),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// NewRESTClientURL creates a REST client for an explicit base URL.
func NewRESTClientURL(baseURL, token string) *RESTClient {
	return &RESTClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultRESTTimeout},
	}
}

// Ping checks that the API answers and the token is accepted.
func (c *RESTClient) Ping(ctx context.Context) error {
	var out struct {
		Message string `json:"message"`
	}
	return c.do(ctx, http.MethodGet, "/api/", nil, &out)
}

// GetStates returns every entity snapshot.
func (c *RESTClient) GetStates(ctx context.Context) ([]map[string]any, error) {
	var out []map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/states", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetState returns one entity snapshot.
func (c *RESTClient) GetState(ctx context.Context, entityID string) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/states/"+url.PathEscape(entityID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CallService invokes domain.service. entity_id is added to data when set.
//
// Returns:
//   - []map[string]any: Snapshots of the states the call changed
//   - error: ErrRESTStatus wrapped with the status code on failure
func (c *RESTClient) CallService(ctx context.Context, domain, service, entityID string, data map[string]any) ([]map[string]any, error) {
	body := make(map[string]any, len(data)+1)
	for k, v := range data {
		body[k] = v
	}
	if entityID != "" {
		body["entity_id"] = entityID
	}

	var out []map[string]any
	path := "/api/services/" + url.PathEscape(domain) + "/" + url.PathEscape(service)
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RESTClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building %s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionRefused, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return fmt.Errorf("%w: %w: HTTP %d", ErrAuthRejected, ErrRESTStatus, resp.StatusCode)
		}
		return fmt.Errorf("%w: %s %s: HTTP %d: %s",
			ErrRESTStatus, method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrDecode, method, path, err)
	}
	return nil
}

package zap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	scanerrors "github.com/exploopio/scanorch/pkg/errors"
	"github.com/exploopio/scanorch/pkg/retry"
)

// maxErrorBody bounds the response body kept on a StatusError.
const maxErrorBody = 512

// Client calls the ZAP JSON API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retry      retry.Policy
}

// NewClient creates a client for the API at baseURL (e.g. http://localhost:8080).
func NewClient(baseURL, apiKey string, httpClient *http.Client, policy retry.Policy) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		retry:      policy,
	}
}

// Version returns the ZAP version; used as the reachability check.
func (c *Client) Version(ctx context.Context) (string, error) {
	var out versionResponse
	if err := c.get(ctx, "core/view/version", nil, &out); err != nil {
		return "", err
	}
	return out.Version, nil
}

// NewContext creates a named context and returns its id.
func (c *Client) NewContext(ctx context.Context, name string) (string, error) {
	var out contextResponse
	if err := c.get(ctx, "context/action/newContext", url.Values{"contextName": {name}}, &out); err != nil {
		return "", err
	}
	if out.ContextID == "" {
		return "", scanerrors.E(scanerrors.KindExecution, "zap.NewContext", "empty context id")
	}
	return out.ContextID, nil
}

// IncludeInContext adds regex to the context scope.
func (c *Client) IncludeInContext(ctx context.Context, name, regex string) error {
	var out actionResponse
	return c.get(ctx, "context/action/includeInContext", url.Values{"contextName": {name}, "regex": {regex}}, &out)
}

// StartSpider starts the spider and returns the scan id.
func (c *Client) StartSpider(ctx context.Context, target, contextName string) (string, error) {
	var out scanResponse
	err := c.get(ctx, "spider/action/scan", url.Values{"url": {target}, "contextName": {contextName}}, &out)
	return out.Scan, err
}

// SpiderStatus returns the spider progress, "100" when done.
func (c *Client) SpiderStatus(ctx context.Context, scanID string) (string, error) {
	var out statusResponse
	err := c.get(ctx, "spider/view/status", url.Values{"scanId": {scanID}}, &out)
	return out.Status, err
}

// StartActiveScan starts the active scanner and returns the scan id.
func (c *Client) StartActiveScan(ctx context.Context, target, contextID string) (string, error) {
	var out scanResponse
	err := c.get(ctx, "ascan/action/scan", url.Values{"url": {target}, "recurse": {"true"}, "contextId": {contextID}}, &out)
	return out.Scan, err
}

// ActiveScanStatus returns the active scan progress, "100" when done.
func (c *Client) ActiveScanStatus(ctx context.Context, scanID string) (string, error) {
	var out statusResponse
	err := c.get(ctx, "ascan/view/status", url.Values{"scanId": {scanID}}, &out)
	return out.Status, err
}

// Alerts returns every alert raised for baseURL.
func (c *Client) Alerts(ctx context.Context, baseURL string) ([]Alert, error) {
	var out alertsResponse
	if err := c.get(ctx, "core/view/alerts", url.Values{"baseurl": {baseURL}}, &out); err != nil {
		return nil, err
	}
	return out.Alerts, nil
}

// get calls /JSON/{path}/ and decodes the response into out, retrying
// transient failures.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	if c.apiKey != "" {
		q.Set("apikey", c.apiKey)
	}
	endpoint := fmt.Sprintf("%s/JSON/%s/", c.baseURL, path)
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	return retry.Do(ctx, c.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return scanerrors.E(scanerrors.KindInvalidInput, "zap."+path, err)
		}
		if c.apiKey != "" {
			req.Header.Set("X-ZAP-API-Key", c.apiKey)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return scanerrors.E(scanerrors.KindNetwork, "zap."+path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return &scanerrors.StatusError{StatusCode: resp.StatusCode, Endpoint: "/JSON/" + path, Body: strings.TrimSpace(string(body))}
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return scanerrors.E(scanerrors.KindExecution, "zap."+path, "invalid JSON response", err)
		}
		return nil
	})
}

package shodan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	scanerrors "github.com/exploopio/scanorch/pkg/errors"
	"github.com/exploopio/scanorch/pkg/retry"
)

// DefaultBaseURL is the public Shodan REST API.
const DefaultBaseURL = "https://api.shodan.io"

const maxErrorBody = 512

// Banner is one service record returned by Shodan.
type Banner struct {
	Port      int    `json:"port"`
	Transport string `json:"transport"`
	Product   string `json:"product"`
	Version   string `json:"version"`
	OS        string `json:"os"`
	IPStr     string `json:"ip_str"`
}

// HostInfo is the response of /shodan/host/{ip}.
type HostInfo struct {
	IPStr     string   `json:"ip_str"`
	Hostnames []string `json:"hostnames"`
	OS        string   `json:"os"`
	Ports     []int    `json:"ports"`
	Data      []Banner `json:"data"`
}

// FacetValue is one bucket of a search facet.
type FacetValue struct {
	Value any `json:"value"`
	Count int `json:"count"`
}

// SearchResult is the response of /shodan/host/search.
type SearchResult struct {
	Total   int                     `json:"total"`
	Matches []Banner                `json:"matches"`
	Facets  map[string][]FacetValue `json:"facets"`
}

// Client calls the Shodan REST API. Every request waits on the limiter and
// transient failures are retried.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      retry.Policy
}

// NewClient creates a Shodan client. A nil limiter disables pacing.
func NewClient(baseURL, apiKey string, httpClient *http.Client, limiter *rate.Limiter, policy retry.Policy) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		limiter:    limiter,
		retry:      policy,
	}
}

// Host returns everything Shodan knows about ip.
func (c *Client) Host(ctx context.Context, ip string) (*HostInfo, error) {
	var out HostInfo
	if err := c.get(ctx, "/shodan/host/"+url.PathEscape(ip), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Search runs a host search with the given facets.
func (c *Client) Search(ctx context.Context, query string, facets ...string) (*SearchResult, error) {
	params := url.Values{"query": {query}}
	if len(facets) > 0 {
		params.Set("facets", strings.Join(facets, ","))
	}
	var out SearchResult
	if err := c.get(ctx, "/shodan/host/search", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("key", c.apiKey)
	endpoint := c.baseURL + path + "?" + q.Encode()

	return retry.Do(ctx, c.retry, func(ctx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return scanerrors.E(scanerrors.KindInvalidInput, "shodan"+path, err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return scanerrors.E(scanerrors.KindNetwork, "shodan"+path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return &scanerrors.StatusError{StatusCode: resp.StatusCode, Endpoint: path, Body: strings.TrimSpace(string(body))}
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return scanerrors.E(scanerrors.KindExecution, "shodan"+path, fmt.Sprintf("invalid JSON response: %v", err))
		}
		return nil
	})
}

package crmsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// crmClient talks to the upstream CRM REST API. All calls share one
// rate-limit channel so resync jobs and importers stay inside the vendor's
// per-minute quota.
type crmClient struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
	limiter   <-chan time.Time
}

func newCRMClient() (*crmClient, error) {
	baseURL := strings.TrimSpace(os.Getenv("CRM_API_BASE_URL"))
	if baseURL == "" {
		return nil, errors.New("CRM_API_BASE_URL is not set")
	}
	apiKey := strings.TrimSpace(os.Getenv("CRM_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("CRM_API_KEY is not set")
	}
	apiKeyHeader := strings.TrimSpace(os.Getenv("CRM_API_KEY_HEADER"))
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}

	rateLimitPerMin := int64(60)
	if v := strings.TrimSpace(os.Getenv("CRM_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &crmClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiKeyHdr: apiKeyHeader,
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   time.Tick(interval),
	}, nil
}

type crmListResponse struct {
	Data       []json.RawMessage `json:"data"`
	Items      []json.RawMessage `json:"items"`
	NextCursor string            `json:"next_cursor"`
	HasMore    *bool             `json:"has_more"`
}

// records merges the two list field spellings the CRM API has used across
// versions.
func (r crmListResponse) records() []json.RawMessage {
	if len(r.Data) > 0 {
		return r.Data
	}
	return r.Items
}

// more reports whether another page exists, preferring the explicit flag and
// falling back to cursor presence.
func (r crmListResponse) more() bool {
	if r.HasMore != nil {
		return *r.HasMore
	}
	return r.NextCursor != ""
}

func (c *crmClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	<-c.limiter
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrLeadNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("crm api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// ErrLeadNotFound marks a lead the CRM no longer knows about.
var ErrLeadNotFound = errors.New("lead not found in crm")

// FetchLead returns the raw CRM payload of one lead by its external id.
func (c *crmClient) FetchLead(ctx context.Context, externalID string) (json.RawMessage, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, errors.New("external id is empty")
	}
	body, err := c.get(ctx, "/v1/leads/"+url.PathEscape(externalID), nil)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// ListLeads returns one page of leads plus the cursor for the next page.
func (c *crmClient) ListLeads(ctx context.Context, cursor string, limit int) ([]json.RawMessage, string, bool, error) {
	params := url.Values{}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.get(ctx, "/v1/leads", params)
	if err != nil {
		return nil, "", false, err
	}
	var parsed crmListResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, "", false, err
	}
	return parsed.records(), parsed.NextCursor, parsed.more(), nil
}

package inriver

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

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	APIKeyHeader = "X-inRiver-APIKey"

	DefaultPageSize = 100

	defaultTimeout   = 30 * time.Second
	defaultRateLimit = 10.0
	defaultRateBurst = 5
)

type Config struct {
	APIKey    string
	APIURL    string
	ChannelID string
}

type Option func(*Client)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithRateLimit paces outgoing requests. A non-positive limit disables pacing.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// Client is a thin wrapper around the inriver REST API. It never retries;
// retry policy belongs to the caller.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

func NewClient(config Config, opts ...Option) (*Client, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.APIURL == "" {
		return nil, ErrMissingAPIURL
	}
	config.APIURL = strings.TrimSuffix(config.APIURL, "/")

	c := &Client{
		config:     config,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimit), defaultRateBurst),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) ChannelID() string {
	return c.config.ChannelID
}

// ListEntityIDs returns every entity id of the given type in a channel.
func (c *Client) ListEntityIDs(ctx context.Context, entityTypeID, channelID string) ([]int64, error) {
	q := url.Values{}
	q.Set("entityTypeId", entityTypeID)
	path := fmt.Sprintf("/api/v1.0.0/channels/%s/entitylist", url.PathEscape(channelID))

	c.logger.Info("Fetching entity ids",
		zap.String("entity_type", entityTypeID),
		zap.String("channel_id", channelID),
	)

	var list EntityListResponse
	if err := c.do(ctx, http.MethodGet, path, q, nil, &list); err != nil {
		return nil, err
	}
	return list.EntityIDs, nil
}

// FetchEntitySummaries batch fetches entity summaries. The response order
// is not guaranteed to match ids.
func (c *Client) FetchEntitySummaries(ctx context.Context, ids []int64) ([]EntityData, error) {
	c.logger.Info("Fetching entity summaries", zap.Int("count", len(ids)))

	body := fetchDataRequest{
		EntityIDs: ids,
		Objects:   "EntitySummary",
	}

	var data []EntityData
	if err := c.do(ctx, http.MethodPost, "/api/v1.0.1/entities:fetchdata", nil, body, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// GetChannelEntities returns one page of entity summaries for a type in the
// configured channel. The id list endpoint has no paging, so the full list
// is fetched and sliced locally. An empty result means the type is exhausted.
func (c *Client) GetChannelEntities(ctx context.Context, entityTypeID string, pageSize, pageIndex int) ([]EntityData, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageIndex < 0 {
		return nil, fmt.Errorf("invalid page index %d", pageIndex)
	}

	ids, err := c.ListEntityIDs(ctx, entityTypeID, c.config.ChannelID)
	if err != nil {
		return nil, err
	}

	page := pageIDs(ids, pageSize, pageIndex)
	if len(page) == 0 {
		return []EntityData{}, nil
	}
	return c.FetchEntitySummaries(ctx, page)
}

func pageIDs(ids []int64, pageSize, pageIndex int) []int64 {
	start := pageIndex * pageSize
	if start >= len(ids) {
		return nil
	}
	end := start + pageSize
	if end > len(ids) {
		end = len(ids)
	}
	return ids[start:end]
}

func (c *Client) GetEntity(ctx context.Context, id int64) (*Entity, error) {
	c.logger.Info("Fetching entity", zap.Int64("entity_id", id))

	var entity Entity
	path := "/api/v1.0.0/entities/" + strconv.FormatInt(id, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &entity); err != nil {
		return nil, err
	}
	return &entity, nil
}

// GetResourceURL returns the media URL of a resource entity. Lookups are
// best effort: any failure is logged and reported as not found.
func (c *Client) GetResourceURL(ctx context.Context, resourceID int64) (string, bool) {
	path := fmt.Sprintf("/api/v1.0.0/entities/%d/resourceurl", resourceID)

	body, err := c.raw(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		c.logger.Warn("Could not fetch resource url",
			zap.Int64("resource_id", resourceID),
			zap.Error(err),
		)
		return "", false
	}

	u := strings.Trim(strings.TrimSpace(string(body)), `"`)
	return u, u != ""
}

// GetChannel returns channel metadata. An empty id uses the configured channel.
func (c *Client) GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	if channelID == "" {
		channelID = c.config.ChannelID
	}

	var channel Channel
	if err := c.do(ctx, http.MethodGet, "/api/v1.0.0/channels/"+url.PathEscape(channelID), nil, nil, &channel); err != nil {
		return nil, err
	}
	return &channel, nil
}

func (c *Client) GetEntityLinks(ctx context.Context, entityID int64, linkTypeID string) ([]Link, error) {
	var q url.Values
	if linkTypeID != "" {
		q = url.Values{}
		q.Set("linkTypeId", linkTypeID)
	}

	var links []Link
	path := fmt.Sprintf("/api/v1.0.0/entities/%d/links", entityID)
	if err := c.do(ctx, http.MethodGet, path, q, nil, &links); err != nil {
		return nil, err
	}
	return links, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	respBody, err := c.raw(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) raw(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	fullURL := c.config.APIURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(bs)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(APIKeyHeader, c.config.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
	}
	return respBody, nil
}

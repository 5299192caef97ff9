// Package notion implements vellum.ContentProvider over the Notion REST API.
package notion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ex-vellum/pkg/vellum"
)

const (
	// DefaultBaseURL is the public API endpoint.
	DefaultBaseURL = "https://api.notion.com"
	// DefaultVersion is the API version header sent with every request.
	DefaultVersion = "2022-06-28"
	// DefaultTimeout bounds one HTTP round trip.
	DefaultTimeout = 15 * time.Second

	pageSize         = 100
	maxResponseBytes = 8 << 20
	// maxPages bounds pagination of one children listing.
	maxPages = 200
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// Token is the integration secret sent as a bearer token.
	Token string
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string
	// Version defaults to DefaultVersion.
	Version string
	// Timeout applies when HTTPClient is nil.
	Timeout time.Duration
	// HTTPClient is used for all requests. If nil, a client with Timeout is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client fetches block children and page metadata.
type Client struct {
	baseURL    string
	token      string
	version    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a provider client.
func NewClient(config ClientConfig) (*Client, error) {
	if strings.TrimSpace(config.Token) == "" {
		return nil, fmt.Errorf("notion: token is required")
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("notion: invalid base url %q: %w", baseURL, err)
	}

	version := config.Version
	if version == "" {
		version = DefaultVersion
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      config.Token,
		version:    version,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// FetchChildren returns every child of blockID, following pagination cursors.
func (c *Client) FetchChildren(ctx context.Context, blockID string) ([]vellum.Block, error) {
	blocks := make([]vellum.Block, 0)
	cursor := ""

	for range maxPages {
		query := url.Values{"page_size": []string{fmt.Sprint(pageSize)}}
		if cursor != "" {
			query.Set("start_cursor", cursor)
		}

		var page childrenResponse
		path := "/v1/blocks/" + url.PathEscape(blockID) + "/children?" + query.Encode()
		if err := c.get(ctx, blockID, path, &page); err != nil {
			return nil, err
		}
		for _, raw := range page.Results {
			blocks = append(blocks, raw.toBlock())
		}

		if !page.HasMore || page.NextCursor == "" {
			return blocks, nil
		}
		cursor = page.NextCursor
	}

	return nil, &vellum.ProviderError{
		Kind:       vellum.ProviderErrorOther,
		ResourceID: blockID,
		Cause:      fmt.Errorf("children listing exceeded %d pages", maxPages),
	}
}

// FetchPageMeta returns the page title and cover image.
func (c *Client) FetchPageMeta(ctx context.Context, pageID string) (vellum.PageMeta, error) {
	var page pageResponse
	if err := c.get(ctx, pageID, "/v1/pages/"+url.PathEscape(pageID), &page); err != nil {
		return vellum.PageMeta{}, err
	}

	return page.meta(), nil
}

func (c *Client) get(ctx context.Context, resourceID string, path string, target any) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &vellum.ProviderError{Kind: vellum.ProviderErrorOther, ResourceID: resourceID, Cause: err}
	}
	request.Header.Set("Authorization", "Bearer "+c.token)
	request.Header.Set("Notion-Version", c.version)
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return &vellum.ProviderError{Kind: vellum.ProviderErrorOther, ResourceID: resourceID, Cause: err}
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return &vellum.ProviderError{
			Kind:       vellum.ProviderErrorOther,
			ResourceID: resourceID,
			StatusCode: response.StatusCode,
			Cause:      fmt.Errorf("read response: %w", err),
		}
	}

	if response.StatusCode != http.StatusOK {
		providerErr := &vellum.ProviderError{
			Kind:       classifyStatus(response.StatusCode),
			ResourceID: resourceID,
			StatusCode: response.StatusCode,
			Cause:      decodeAPIError(body),
		}
		c.logger.DebugContext(ctx, "provider request failed",
			"block_id", resourceID,
			"status", response.StatusCode,
			"error", providerErr.Cause,
		)
		return providerErr
	}

	if err := json.Unmarshal(body, target); err != nil {
		return &vellum.ProviderError{
			Kind:       vellum.ProviderErrorOther,
			ResourceID: resourceID,
			StatusCode: response.StatusCode,
			Cause:      fmt.Errorf("decode response: %w", err),
		}
	}

	return nil
}

func classifyStatus(status int) vellum.ProviderErrorKind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return vellum.ProviderErrorUnauthorized
	case http.StatusNotFound:
		return vellum.ProviderErrorNotFound
	default:
		return vellum.ProviderErrorOther
	}
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func decodeAPIError(body []byte) error {
	var decoded apiError
	if err := json.Unmarshal(body, &decoded); err != nil || decoded.Code == "" {
		return fmt.Errorf("unexpected response")
	}

	return fmt.Errorf("%s: %s", decoded.Code, decoded.Message)
}

// Package archive is the thin client for the remote digital-archive service:
// catalog search and per-item metadata. The byte transfer itself belongs to
// the external worker process and is deliberately absent here.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/archive_mirror/internal/job"
	"github.com/italolelis/archive_mirror/internal/logctx"
	"github.com/italolelis/archive_mirror/internal/retry"
	"github.com/italolelis/archive_mirror/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

const (
	requestTimeout   = 30 * time.Second
	metadataParallel = 5
)

// Doc is one catalog entry returned by the search endpoint.
type Doc struct {
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
	MediaType  string `json:"mediatype"`
	Downloads  int64  `json:"downloads"`
	ItemSize   int64  `json:"item_size"`
}

// SearchResult is one page of catalog search results.
type SearchResult struct {
	NumFound int   `json:"numFound"`
	Page     int   `json:"page"`
	Docs     []Doc `json:"docs"`
}

// File is one downloadable file inside an item.
type File struct {
	Name   string
	Size   int64
	Format string
}

// Item is the metadata record for one catalog identifier.
type Item struct {
	Identifier string
	Title      string
	MediaType  string
	Files      []File
	TotalSize  int64
}

// Client talks to the archive's search and metadata endpoints. All calls go
// through the retry helper; failures surface as job.NetworkError.
type Client struct {
	httpClient *http.Client
	baseURL    string
	telemetry  *telemetry.Telemetry
	retryCfg   retry.Config
}

// NewClient builds a client for the archive API. A non-empty token enables
// bearer authentication for rate-limit exemptions on the remote side.
func NewClient(baseURL, token string, tel *telemetry.Telemetry, retryCfg retry.Config) *Client {
	base := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   requestTimeout,
	}

	httpClient := base
	if token != "" {
		tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		httpClient = oauth2.NewClient(ctx, tokenSource)
		httpClient.Timeout = requestTimeout
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		telemetry:  tel,
		retryCfg:   retryCfg,
	}
}

// Search proxies an advanced-search query against the remote catalog.
func (c *Client) Search(ctx context.Context, query string, rows, page int) (*SearchResult, error) {
	logger := logctx.LoggerFromContext(ctx).With("query", query)

	params := url.Values{}
	params.Set("q", query)
	params.Set("output", "json")
	params.Set("rows", strconv.Itoa(rows))
	params.Set("page", strconv.Itoa(page))
	params.Add("fl[]", "identifier")
	params.Add("fl[]", "title")
	params.Add("fl[]", "mediatype")
	params.Add("fl[]", "downloads")
	params.Add("fl[]", "item_size")

	endpoint := c.baseURL + "/advancedsearch.php?" + params.Encode()

	var payload struct {
		Response SearchResult `json:"response"`
	}

	err := c.telemetry.InstrumentArchiveCall(ctx, "search", func(ctx context.Context) error {
		_, err := retry.Do(ctx, c.retryCfg, nil, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.getJSON(ctx, "search", endpoint, &payload)
		})

		return err
	})
	if err != nil {
		return nil, err
	}

	payload.Response.Page = page

	logger.Debug("catalog search finished", "num_found", payload.Response.NumFound, "rows", len(payload.Response.Docs))

	return &payload.Response, nil
}

// GetMetadata fetches the metadata record for one identifier.
func (c *Client) GetMetadata(ctx context.Context, identifier string) (*Item, error) {
	logger := logctx.LoggerFromContext(ctx).With("identifier", identifier)

	endpoint := c.baseURL + "/metadata/" + url.PathEscape(identifier)

	var payload struct {
		Metadata struct {
			Identifier string `json:"identifier"`
			Title      string `json:"title"`
			MediaType  string `json:"mediatype"`
		} `json:"metadata"`
		Files []struct {
			Name   string `json:"name"`
			Size   string `json:"size"`
			Format string `json:"format"`
		} `json:"files"`
	}

	err := c.telemetry.InstrumentArchiveCall(ctx, "fetch_metadata", func(ctx context.Context) error {
		_, err := retry.Do(ctx, c.retryCfg, nil, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.getJSON(ctx, "fetch_metadata", endpoint, &payload)
		})

		return err
	})
	if err != nil {
		return nil, err
	}

	if payload.Metadata.Identifier == "" {
		return nil, &job.NotFoundError{Identifier: identifier}
	}

	item := &Item{
		Identifier: payload.Metadata.Identifier,
		Title:      payload.Metadata.Title,
		MediaType:  payload.Metadata.MediaType,
		Files:      make([]File, 0, len(payload.Files)),
	}

	for _, f := range payload.Files {
		// The remote API serializes sizes as strings; unparseable sizes count as zero.
		size, _ := strconv.ParseInt(f.Size, 10, 64)

		item.Files = append(item.Files, File{Name: f.Name, Size: size, Format: f.Format})
		item.TotalSize += size
	}

	logger.Debug("item metadata fetched",
		"file_count", len(item.Files),
		"total_size", humanize.Bytes(uint64(item.TotalSize)),
	)

	return item, nil
}

// GetMetadataBatch fetches metadata for several identifiers with bounded
// parallelism, preserving input order. The first failure aborts the batch.
func (c *Client) GetMetadataBatch(ctx context.Context, identifiers []string) ([]*Item, error) {
	items := make([]*Item, len(identifiers))

	wg, ctx := errgroup.WithContext(ctx)
	wg.SetLimit(metadataParallel)

	for i, identifier := range identifiers {
		wg.Go(func() error {
			item, err := c.GetMetadata(ctx, identifier)
			if err != nil {
				return err
			}

			items[i] = item

			return nil
		})
	}

	if err := wg.Wait(); err != nil {
		return nil, fmt.Errorf("failed to fetch metadata batch: %w", err)
	}

	return items, nil
}

func (c *Client) getJSON(ctx context.Context, operation, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &job.NetworkError{Operation: operation, APIMessage: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return &job.NetworkError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			APIMessage: string(body),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", operation, err)
	}

	return nil
}

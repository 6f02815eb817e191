package archive

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/italolelis/archive_mirror/internal/job"
	"github.com/italolelis/archive_mirror/internal/retry"
	"github.com/italolelis/archive_mirror/internal/telemetry"
	"github.com/stretchr/testify/require"
)

func fastRetry() retry.Config {
	return retry.Config{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2,
	}
}

func newTestClient(baseURL, token string) *Client {
	return NewClient(baseURL, token, &telemetry.Telemetry{}, fastRetry())
}

func TestSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/advancedsearch.php", r.URL.Path)
		require.Equal(t, "nasa", r.URL.Query().Get("q"))
		require.Equal(t, "json", r.URL.Query().Get("output"))
		require.Equal(t, "25", r.URL.Query().Get("rows"))
		require.Equal(t, "2", r.URL.Query().Get("page"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"response": map[string]any{
				"numFound": 2,
				"docs": []map[string]any{
					{"identifier": "apollo11", "title": "Apollo 11", "mediatype": "movies", "downloads": 120, "item_size": 2048},
					{"identifier": "apollo12", "title": "Apollo 12", "mediatype": "movies", "downloads": 80, "item_size": 1024},
				},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL, "")

	result, err := client.Search(context.Background(), "nasa", 25, 2)
	require.NoError(t, err)
	require.Equal(t, 2, result.NumFound)
	require.Equal(t, 2, result.Page)
	require.Len(t, result.Docs, 2)
	require.Equal(t, "apollo11", result.Docs[0].Identifier)
	require.Equal(t, int64(2048), result.Docs[0].ItemSize)
}

func TestSearchRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)

			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"response": map[string]any{"numFound": 0, "docs": []any{}},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL, "")

	_, err := client.Search(context.Background(), "nasa", 10, 1)
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
}

func TestSearchGivesUpOnClientErrors(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad query", http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(server.URL, "")

	_, err := client.Search(context.Background(), "nasa", 10, 1)

	var netErr *job.NetworkError
	require.ErrorAs(t, err, &netErr)
	require.Equal(t, http.StatusBadRequest, netErr.StatusCode)
	require.Equal(t, int32(1), calls.Load(), "client errors are permanent")
}

func TestGetMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/metadata/apollo11", r.URL.Path)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"metadata": map[string]any{"identifier": "apollo11", "title": "Apollo 11", "mediatype": "movies"},
			"files": []map[string]any{
				{"name": "launch.mp4", "size": "1048576", "format": "MPEG4"},
				{"name": "launch.srt", "size": "2048", "format": "SubRip"},
				{"name": "notes.txt", "size": "", "format": "Text"},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL, "")

	item, err := client.GetMetadata(context.Background(), "apollo11")
	require.NoError(t, err)
	require.Equal(t, "apollo11", item.Identifier)
	require.Equal(t, "movies", item.MediaType)
	require.Len(t, item.Files, 3)
	require.Equal(t, int64(1048576), item.Files[0].Size)
	require.Zero(t, item.Files[2].Size, "unparseable sizes count as zero")
	require.Equal(t, int64(1048576+2048), item.TotalSize)
}

func TestGetMetadataUnknownIdentifier(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The archive answers an unknown identifier with an empty object.
		_, _ = w.Write([]byte("{}"))
	}))
	defer server.Close()

	client := newTestClient(server.URL, "")

	_, err := client.GetMetadata(context.Background(), "missing")

	var notFound *job.NotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, "missing", notFound.Identifier)
}

func TestGetMetadataBatchPreservesOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identifier := r.URL.Path[len("/metadata/"):]

		_ = json.NewEncoder(w).Encode(map[string]any{
			"metadata": map[string]any{"identifier": identifier, "title": identifier},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL, "")

	identifiers := []string{"charlie", "alpha", "bravo"}

	items, err := client.GetMetadataBatch(context.Background(), identifiers)
	require.NoError(t, err)
	require.Len(t, items, 3)

	for i, identifier := range identifiers {
		require.Equal(t, identifier, items[i].Identifier)
	}
}

func TestClientSendsBearerToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"response": map[string]any{"numFound": 0, "docs": []any{}},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL, "secret-token")

	_, err := client.Search(context.Background(), "nasa", 10, 1)
	require.NoError(t, err)
}

package rest

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/archive_mirror/internal/archive"
	"github.com/italolelis/archive_mirror/internal/job"
)

const (
	defaultSearchRows = 50
	maxSearchRows     = 200
)

// CatalogClient is the remote archive surface the handler proxies.
type CatalogClient interface {
	Search(ctx context.Context, query string, rows, page int) (*archive.SearchResult, error)
	GetMetadata(ctx context.Context, identifier string) (*archive.Item, error)
}

// CatalogHandler is a thin proxy over the remote catalog: search and item
// metadata for the front end. Retries and error classification live in the
// archive client.
type CatalogHandler struct {
	client CatalogClient
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(client CatalogClient) *CatalogHandler {
	return &CatalogHandler{client: client}
}

func (h *CatalogHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/search", h.Search)
	r.Get("/metadata/{identifier}", h.Metadata)

	return r
}

// Search proxies a catalog query.
func (h *CatalogHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		respondError(w, r, &job.ValidationError{Field: "q", Reason: "query is required"})

		return
	}

	rows := queryInt(r, "rows", defaultSearchRows)
	if rows < 1 || rows > maxSearchRows {
		rows = defaultSearchRows
	}

	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}

	result, err := h.client.Search(r.Context(), query, rows, page)
	if err != nil {
		respondError(w, r, err)

		return
	}

	respondJSON(w, http.StatusOK, result)
}

// Metadata proxies one item's metadata record.
func (h *CatalogHandler) Metadata(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")

	item, err := h.client.GetMetadata(r.Context(), identifier)
	if err != nil {
		respondError(w, r, err)

		return
	}

	respondJSON(w, http.StatusOK, item)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

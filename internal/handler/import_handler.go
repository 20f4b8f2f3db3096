package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/shelfman/internal/importer"
	"github.com/hitoshi/shelfman/internal/middleware"
	"github.com/hitoshi/shelfman/internal/model"
)

// ImporterInterface はフィードインポートのインターフェース。
type ImporterInterface interface {
	Import(ctx context.Context, caller model.Caller, collectionID string, req importer.Request) (*importer.Result, error)
}

// ImportHandler はフィードインポートのHTTPハンドラー。
type ImportHandler struct {
	importer ImporterInterface
}

// NewImportHandler はImportHandlerを生成する。
func NewImportHandler(im ImporterInterface) *ImportHandler {
	return &ImportHandler{importer: im}
}

type importRequest struct {
	URL    string `json:"url"`
	Status string `json:"status"`
}

type importResponse struct {
	FeedURL   string `json:"feedUrl"`
	FeedTitle string `json:"feedTitle"`
	Imported  int    `json:"imported"`
	Skipped   int    `json:"skipped"`
}

// Import はフィードの各エントリをコレクションのアイテムとして登録する。
// POST /api/collections/{id}/import
func (h *ImportHandler) Import(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.importer.Import(r.Context(), middleware.CallerFromContext(r.Context()), chi.URLParam(r, "id"), importer.Request{
		URL:    req.URL,
		Status: req.Status,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, importResponse{
		FeedURL:   res.FeedURL,
		FeedTitle: res.FeedTitle,
		Imported:  res.Imported,
		Skipped:   res.Skipped,
	})
}

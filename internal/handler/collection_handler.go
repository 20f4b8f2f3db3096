package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/shelfman/internal/collection"
	"github.com/hitoshi/shelfman/internal/middleware"
	"github.com/hitoshi/shelfman/internal/model"
)

// CollectionServiceInterface はコレクションハンドラーが必要とするサービスインターフェース。
type CollectionServiceInterface interface {
	Create(ctx context.Context, caller model.Caller, in collection.CreateInput) (*model.Collection, error)
	Get(ctx context.Context, caller model.Caller, id string) (*collection.Detail, error)
	ListOwnedBy(ctx context.Context, caller model.Caller) ([]collection.Summary, error)
	Update(ctx context.Context, caller model.Caller, id string, p collection.Patch) (*model.Collection, error)
	Delete(ctx context.Context, caller model.Caller, id string) error
}

// CollectionHandler はコレクション管理のHTTPハンドラー。
type CollectionHandler struct {
	service CollectionServiceInterface
}

// NewCollectionHandler はCollectionHandlerを生成する。
func NewCollectionHandler(service CollectionServiceInterface) *CollectionHandler {
	return &CollectionHandler{service: service}
}

type createCollectionRequest struct {
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	Description *string `json:"description"`
	IsPublic    bool    `json:"isPublic"`
}

// updateCollectionRequest は部分更新のリクエスト。descriptionはnullでクリアできる。
type updateCollectionRequest struct {
	Name        *string         `json:"name"`
	Category    *string         `json:"category"`
	Description json.RawMessage `json:"description"`
	IsPublic    *bool           `json:"isPublic"`
}

// List は呼び出し元が所有するコレクションの一覧を返す。
// GET /api/collections
func (h *CollectionHandler) List(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.service.ListOwnedBy(r.Context(), middleware.CallerFromContext(r.Context()))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	resp := make([]collectionSummaryResponse, len(summaries))
	for i := range summaries {
		resp[i] = collectionSummaryResponse{
			collectionResponse: toCollectionResponse(&summaries[i].Collection),
			ItemCount:          summaries[i].ItemCount,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": resp})
}

// Create はコレクションを作成する。
// POST /api/collections
func (h *CollectionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createCollectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.service.Create(r.Context(), middleware.CallerFromContext(r.Context()), collection.CreateInput{
		Name:        req.Name,
		Category:    req.Category,
		Description: req.Description,
		IsPublic:    req.IsPublic,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/collections/"+c.ID)
	writeJSON(w, http.StatusCreated, toCollectionResponse(c))
}

// Get はコレクションと所属アイテムを返す。
// GET /api/collections/{id}
func (h *CollectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.Get(r.Context(), middleware.CallerFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCollectionDetailResponse(detail))
}

// Update はコレクションを部分更新する。
// PATCH /api/collections/{id}
func (h *CollectionHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateCollectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	desc, err := nullableString("description", req.Description)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	c, err := h.service.Update(r.Context(), middleware.CallerFromContext(r.Context()), chi.URLParam(r, "id"), collection.Patch{
		Name:        req.Name,
		Category:    req.Category,
		Description: desc,
		IsPublic:    req.IsPublic,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCollectionResponse(c))
}

// Delete はコレクションと所属アイテムを削除する。
// DELETE /api/collections/{id}
func (h *CollectionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), middleware.CallerFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/shelfman/internal/item"
	"github.com/hitoshi/shelfman/internal/middleware"
	"github.com/hitoshi/shelfman/internal/model"
)

// ItemServiceInterface はアイテムハンドラーが必要とするサービスインターフェース。
type ItemServiceInterface interface {
	Create(ctx context.Context, caller model.Caller, collectionID string, in item.CreateInput) (*model.Item, error)
	Get(ctx context.Context, caller model.Caller, itemID string) (*item.ItemDetail, error)
	Update(ctx context.Context, caller model.Caller, itemID string, p item.Patch) (*model.Item, error)
	Delete(ctx context.Context, caller model.Caller, itemID string) (bool, error)
}

// ItemHandler はアイテム管理のHTTPハンドラー。
type ItemHandler struct {
	service ItemServiceInterface
}

// NewItemHandler はItemHandlerを生成する。
func NewItemHandler(service ItemServiceInterface) *ItemHandler {
	return &ItemHandler{service: service}
}

// createItemRequest はアイテム作成のリクエスト。
// attributesはオブジェクトのほか、オブジェクトを埋め込んだJSON文字列も受け付ける。
type createItemRequest struct {
	Title       string          `json:"title"`
	Status      string          `json:"status"`
	Description *string         `json:"description"`
	Notes       *string         `json:"notes"`
	ImageURL    *string         `json:"imageUrl"`
	Attributes  json.RawMessage `json:"attributes"`
}

// updateItemRequest は部分更新のリクエスト。任意項目はnullでクリアできる。
type updateItemRequest struct {
	Title       *string         `json:"title"`
	Status      *string         `json:"status"`
	Description json.RawMessage `json:"description"`
	Notes       json.RawMessage `json:"notes"`
	ImageURL    json.RawMessage `json:"imageUrl"`
	Attributes  json.RawMessage `json:"attributes"`
}

// Create はコレクションにアイテムを追加する。
// POST /api/collections/{id}/items
func (h *ItemHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	it, err := h.service.Create(r.Context(), middleware.CallerFromContext(r.Context()), chi.URLParam(r, "id"), item.CreateInput{
		Title:       req.Title,
		Status:      req.Status,
		Description: req.Description,
		Notes:       req.Notes,
		ImageURL:    req.ImageURL,
		Attributes:  req.Attributes,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/items/"+it.ID)
	writeJSON(w, http.StatusCreated, toItemResponse(it))
}

// Get はアイテムと親コレクションを返す。
// GET /api/items/{id}
func (h *ItemHandler) Get(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.Get(r.Context(), middleware.CallerFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDetailResponse(detail))
}

// Update はアイテムを部分更新する。
// PATCH /api/items/{id}
func (h *ItemHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p := item.Patch{Title: req.Title, Status: req.Status, Attributes: req.Attributes}
	var err error
	if p.Description, err = nullableString("description", req.Description); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if p.Notes, err = nullableString("notes", req.Notes); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if p.ImageURL, err = nullableString("imageUrl", req.ImageURL); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	it, err := h.service.Update(r.Context(), middleware.CallerFromContext(r.Context()), chi.URLParam(r, "id"), p)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(it))
}

// Delete はアイテムを削除する。
// DELETE /api/items/{id}
func (h *ItemHandler) Delete(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.service.Delete(r.Context(), middleware.CallerFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

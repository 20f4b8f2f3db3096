package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/hitoshi/shelfman/internal/collection"
	"github.com/hitoshi/shelfman/internal/item"
	"github.com/hitoshi/shelfman/internal/middleware"
	"github.com/hitoshi/shelfman/internal/model"
)

// maxRequestBodySize はJSONリクエストボディの上限（1MiB）。
const maxRequestBodySize = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON はリクエストボディをdstに読み込む。失敗した場合はエラーレスポンスを書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		reason := "リクエストボディの解析に失敗しました。"
		if errors.As(err, &tooLarge) {
			reason = "リクエストボディが大きすぎます。"
		}
		middleware.WriteError(w, r, model.NewValidationError("body", reason))
		return false
	}
	return true
}

// nullableString は部分更新の任意項目を解釈する。
// 未指定はnil、nullと空文字列はクリア指定（空文字列へのポインタ）として返す。
func nullableString(field string, raw json.RawMessage) (*string, error) {
	if raw == nil {
		return nil, nil
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		empty := ""
		return &empty, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, model.NewValidationError(field, "文字列で指定してください。")
	}
	return &s, nil
}

// --- レスポンス型 ---

type collectionResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Category      string    `json:"category"`
	CategoryLabel string    `json:"categoryLabel"`
	Description   *string   `json:"description"`
	IsPublic      bool      `json:"isPublic"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type collectionSummaryResponse struct {
	collectionResponse
	ItemCount int `json:"itemCount"`
}

type ownerResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type collectionDetailResponse struct {
	Collection collectionResponse `json:"collection"`
	Owner      *ownerResponse     `json:"owner"`
	Items      []itemResponse     `json:"items"`
	IsOwner    bool               `json:"isOwner"`
}

type itemResponse struct {
	ID           string            `json:"id"`
	CollectionID string            `json:"collectionId"`
	Title        string            `json:"title"`
	Description  *string           `json:"description"`
	Status       string            `json:"status"`
	Notes        *string           `json:"notes"`
	ImageURL     *string           `json:"imageUrl"`
	Attributes   map[string]string `json:"attributes"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

type itemDetailResponse struct {
	Item       itemResponse       `json:"item"`
	Collection collectionResponse `json:"collection"`
	IsOwner    bool               `json:"isOwner"`
}

func toCollectionResponse(c *model.Collection) collectionResponse {
	return collectionResponse{
		ID:            c.ID,
		Name:          c.Name,
		Category:      string(c.Category),
		CategoryLabel: c.Category.Label(),
		Description:   c.Description,
		IsPublic:      c.IsPublic,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func toCollectionDetailResponse(d *collection.Detail) collectionDetailResponse {
	resp := collectionDetailResponse{
		Collection: toCollectionResponse(d.Collection),
		Items:      make([]itemResponse, len(d.Items)),
		IsOwner:    d.IsOwner,
	}
	if d.Owner != nil {
		resp.Owner = &ownerResponse{ID: d.Owner.ID, Name: d.Owner.Name}
	}
	for i, it := range d.Items {
		resp.Items[i] = toItemResponse(it)
	}
	return resp
}

func toItemResponse(it *model.Item) itemResponse {
	return itemResponse{
		ID:           it.ID,
		CollectionID: it.CollectionID,
		Title:        it.Title,
		Description:  it.Description,
		Status:       string(it.Status),
		Notes:        it.Notes,
		ImageURL:     it.ImageURL,
		Attributes:   it.Attributes,
		CreatedAt:    it.CreatedAt,
		UpdatedAt:    it.UpdatedAt,
	}
}

func toItemDetailResponse(d *item.ItemDetail) itemDetailResponse {
	return itemDetailResponse{
		Item:       toItemResponse(d.Item),
		Collection: toCollectionResponse(d.Collection),
		IsOwner:    d.IsOwner,
	}
}

package handler

import (
	"net/http"

	"github.com/hitoshi/shelfman/internal/model"
)

type optionResponse struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

type optionsResponse struct {
	Categories []optionResponse `json:"categories"`
	Statuses   []string         `json:"statuses"`
	Limits     map[string]int   `json:"limits"`
}

// Options はフォームで選択できるカテゴリとステータス、入力上限を返す。
// GET /api/options
func Options(w http.ResponseWriter, r *http.Request) {
	resp := optionsResponse{
		Limits: map[string]int{
			"collectionName":        model.MaxCollectionNameLength,
			"collectionDescription": model.MaxCollectionDescriptionLength,
			"itemTitle":             model.MaxItemTitleLength,
			"itemDescription":       model.MaxItemDescriptionLength,
			"itemNotes":             model.MaxItemNotesLength,
			"attributeKeys":         model.MaxAttributeKeys,
		},
	}
	for _, c := range model.Categories() {
		resp.Categories = append(resp.Categories, optionResponse{Value: string(c), Label: c.Label()})
	}
	for _, s := range model.ItemStatuses() {
		resp.Statuses = append(resp.Statuses, string(s))
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, resp)
}

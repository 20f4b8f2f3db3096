package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/shelfman/internal/item"
	"github.com/hitoshi/shelfman/internal/model"
)

// --- モック定義 ---

type mockItemService struct {
	createFn func(ctx context.Context, caller model.Caller, collectionID string, in item.CreateInput) (*model.Item, error)
	getFn    func(ctx context.Context, caller model.Caller, itemID string) (*item.ItemDetail, error)
	updateFn func(ctx context.Context, caller model.Caller, itemID string, p item.Patch) (*model.Item, error)
	deleteFn func(ctx context.Context, caller model.Caller, itemID string) (bool, error)
}

func (m *mockItemService) Create(ctx context.Context, caller model.Caller, collectionID string, in item.CreateInput) (*model.Item, error) {
	return m.createFn(ctx, caller, collectionID, in)
}

func (m *mockItemService) Get(ctx context.Context, caller model.Caller, itemID string) (*item.ItemDetail, error) {
	return m.getFn(ctx, caller, itemID)
}

func (m *mockItemService) Update(ctx context.Context, caller model.Caller, itemID string, p item.Patch) (*model.Item, error) {
	return m.updateFn(ctx, caller, itemID, p)
}

func (m *mockItemService) Delete(ctx context.Context, caller model.Caller, itemID string) (bool, error) {
	return m.deleteFn(ctx, caller, itemID)
}

func sampleItem() *model.Item {
	return &model.Item{
		ID:           "item-1",
		CollectionID: "coll-1",
		Title:        "Catan",
		Status:       model.ItemStatusOwned,
		Attributes:   model.Attributes{"players": "3-4"},
	}
}

// --- テスト ---

func TestItemHandler_Create(t *testing.T) {
	var gotCollection string
	var got item.CreateInput
	h := NewItemHandler(&mockItemService{
		createFn: func(ctx context.Context, caller model.Caller, collectionID string, in item.CreateInput) (*model.Item, error) {
			gotCollection, got = collectionID, in
			return sampleItem(), nil
		},
	})

	req := jsonRequest(http.MethodPost, "/api/collections/coll-1/items",
		`{"title":"Catan","status":"owned","imageUrl":"https://example.com/catan.jpg","attributes":{"players":"3-4"}}`)
	w := serveRoute(http.MethodPost, "/api/collections/{id}/items", h.Create, req, testCaller)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	if loc := w.Header().Get("Location"); loc != "/api/items/item-1" {
		t.Errorf("Location = %q", loc)
	}
	if gotCollection != "coll-1" || got.Title != "Catan" || got.Status != "owned" {
		t.Errorf("collection = %q, input = %+v", gotCollection, got)
	}
	if got.ImageURL == nil || *got.ImageURL != "https://example.com/catan.jpg" {
		t.Errorf("imageUrl = %v", got.ImageURL)
	}
	if string(got.Attributes) != `{"players":"3-4"}` {
		t.Errorf("attributes = %s", got.Attributes)
	}

	var body itemResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.CollectionID != "coll-1" || body.Attributes["players"] != "3-4" {
		t.Errorf("body = %+v", body)
	}
}

func TestItemHandler_Create_Forbidden(t *testing.T) {
	h := NewItemHandler(&mockItemService{
		createFn: func(ctx context.Context, caller model.Caller, collectionID string, in item.CreateInput) (*model.Item, error) {
			return nil, model.NewForbiddenError("コレクション")
		},
	})

	w := serveRoute(http.MethodPost, "/api/collections/{id}/items", h.Create,
		jsonRequest(http.MethodPost, "/api/collections/coll-2/items", `{"title":"x"}`), testCaller)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestItemHandler_Get(t *testing.T) {
	h := NewItemHandler(&mockItemService{
		getFn: func(ctx context.Context, caller model.Caller, itemID string) (*item.ItemDetail, error) {
			return &item.ItemDetail{Item: sampleItem(), Collection: sampleCollection(), IsOwner: caller.UserID == "user-1"}, nil
		},
	})

	w := serveRoute(http.MethodGet, "/api/items/{id}", h.Get, httptest.NewRequest(http.MethodGet, "/api/items/item-1", nil), testCaller)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body itemDetailResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Item.ID != "item-1" || body.Collection.ID != "coll-1" || !body.IsOwner {
		t.Errorf("body = %+v", body)
	}
}

func TestItemHandler_Update_ClearableFields(t *testing.T) {
	var got item.Patch
	h := NewItemHandler(&mockItemService{
		updateFn: func(ctx context.Context, caller model.Caller, itemID string, p item.Patch) (*model.Item, error) {
			got = p
			return sampleItem(), nil
		},
	})

	req := jsonRequest(http.MethodPatch, "/api/items/item-1", `{"status":"sold","notes":null,"imageUrl":"","attributes":null}`)
	w := serveRoute(http.MethodPatch, "/api/items/{id}", h.Update, req, testCaller)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if got.Status == nil || *got.Status != "sold" {
		t.Errorf("status = %v", got.Status)
	}
	if got.Title != nil || got.Description != nil {
		t.Errorf("absent fields should stay nil: title=%v description=%v", got.Title, got.Description)
	}
	if got.Notes == nil || *got.Notes != "" {
		t.Errorf("notes = %v, want clear", got.Notes)
	}
	if got.ImageURL == nil || *got.ImageURL != "" {
		t.Errorf("imageUrl = %v, want clear", got.ImageURL)
	}
	if string(got.Attributes) != "null" {
		t.Errorf("attributes = %q, want null", got.Attributes)
	}
}

func TestItemHandler_Update_WrongTypes(t *testing.T) {
	for _, field := range []string{"description", "notes", "imageUrl"} {
		t.Run(field, func(t *testing.T) {
			h := NewItemHandler(&mockItemService{})

			req := jsonRequest(http.MethodPatch, "/api/items/item-1", `{"`+field+`":["x"]}`)
			w := serveRoute(http.MethodPatch, "/api/items/{id}", h.Update, req, testCaller)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if body := decodeError(t, w); body.Field != field {
				t.Errorf("field = %q, want %q", body.Field, field)
			}
		})
	}
}

func TestItemHandler_Delete(t *testing.T) {
	for _, deleted := range []bool{true, false} {
		h := NewItemHandler(&mockItemService{
			deleteFn: func(ctx context.Context, caller model.Caller, itemID string) (bool, error) {
				return deleted, nil
			},
		})

		w := serveRoute(http.MethodDelete, "/api/items/{id}", h.Delete, httptest.NewRequest(http.MethodDelete, "/api/items/item-1", nil), testCaller)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		var body map[string]bool
		json.NewDecoder(w.Body).Decode(&body)
		if body["deleted"] != deleted {
			t.Errorf("deleted = %v, want %v", body["deleted"], deleted)
		}
	}
}

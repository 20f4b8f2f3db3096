package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/shelfman/internal/model"
)

func newTestCollection(ownerID, name string, createdAt time.Time) *model.Collection {
	return &model.Collection{
		ID:        uuid.NewString(),
		UserID:    ownerID,
		Name:      name,
		Category:  model.CategoryBoardGames,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func newTestItem(collectionID, title string, createdAt time.Time) *model.Item {
	return &model.Item{
		ID:           uuid.NewString(),
		CollectionID: collectionID,
		Title:        title,
		Status:       model.ItemStatusOwned,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
}

func TestPostgresCollectionRepo_CreateFindList(t *testing.T) {
	db := setupRepoDB(t)
	ctx := context.Background()
	owner := createTestUser(t, db, "owner@example.com")
	repo := NewPostgresCollectionRepo(db)
	itemRepo := NewPostgresItemRepo(db)

	base := time.Now().UTC().Truncate(time.Microsecond)
	older := newTestCollection(owner.ID, "Books", base.Add(-time.Hour))
	desc := "my games"
	newer := newTestCollection(owner.ID, "Games", base)
	newer.Description = &desc
	for _, c := range []*model.Collection{older, newer} {
		if err := repo.Create(ctx, c); err != nil {
			t.Fatalf("Create error: %v", err)
		}
	}
	if ok, err := itemRepo.CreateInOwnedCollection(ctx, newTestItem(newer.ID, "Catan", base), owner.ID); err != nil || !ok {
		t.Fatalf("CreateInOwnedCollection = (%v, %v)", ok, err)
	}

	got, err := repo.FindByID(ctx, newer.ID)
	if err != nil {
		t.Fatalf("FindByID error: %v", err)
	}
	if got.Name != "Games" || got.Description == nil || *got.Description != desc || got.IsPublic {
		t.Errorf("FindByID = %+v", got)
	}

	list, err := repo.ListByUserIDWithCount(ctx, owner.ID)
	if err != nil {
		t.Fatalf("ListByUserIDWithCount error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len(list) = %d, want 2", len(list))
	}
	if list[0].ID != newer.ID || list[0].ItemCount != 1 || list[1].ItemCount != 0 {
		t.Errorf("list order or counts wrong: %+v", list)
	}
}

func TestPostgresCollectionRepo_UpdateOwned(t *testing.T) {
	db := setupRepoDB(t)
	ctx := context.Background()
	owner := createTestUser(t, db, "owner@example.com")
	other := createTestUser(t, db, "other@example.com")
	repo := NewPostgresCollectionRepo(db)

	c := newTestCollection(owner.ID, "Games", time.Now())
	desc := "old"
	c.Description = &desc
	if err := repo.Create(ctx, c); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	public := true
	empty := ""
	got, err := repo.UpdateOwned(ctx, c.ID, other.ID, CollectionUpdate{IsPublic: &public}, time.Now())
	if err != nil || got != nil {
		t.Fatalf("UpdateOwned by other = (%+v, %v), want nil", got, err)
	}

	got, err = repo.UpdateOwned(ctx, c.ID, owner.ID, CollectionUpdate{IsPublic: &public, Description: &empty}, time.Now())
	if err != nil {
		t.Fatalf("UpdateOwned error: %v", err)
	}
	if got == nil || !got.IsPublic || got.Description != nil || got.Name != "Games" {
		t.Errorf("UpdateOwned = %+v", got)
	}
}

func TestPostgresCollectionRepo_DeleteOwnedWithItems(t *testing.T) {
	db := setupRepoDB(t)
	ctx := context.Background()
	owner := createTestUser(t, db, "owner@example.com")
	other := createTestUser(t, db, "other@example.com")
	repo := NewPostgresCollectionRepo(db)
	itemRepo := NewPostgresItemRepo(db)

	c := newTestCollection(owner.ID, "Games", time.Now())
	if err := repo.Create(ctx, c); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	var itemIDs []string
	for _, title := range []string{"Catan", "Azul", "Root"} {
		it := newTestItem(c.ID, title, time.Now())
		if ok, err := itemRepo.CreateInOwnedCollection(ctx, it, owner.ID); err != nil || !ok {
			t.Fatalf("CreateInOwnedCollection = (%v, %v)", ok, err)
		}
		itemIDs = append(itemIDs, it.ID)
	}

	deleted, err := repo.DeleteOwnedWithItems(ctx, c.ID, other.ID)
	if err != nil || deleted {
		t.Fatalf("DeleteOwnedWithItems by other = (%v, %v), want false", deleted, err)
	}
	if items, _ := itemRepo.ListByCollectionID(ctx, c.ID); len(items) != 3 {
		t.Fatalf("所有者以外の削除でアイテムが消えた: %d", len(items))
	}

	deleted, err = repo.DeleteOwnedWithItems(ctx, c.ID, owner.ID)
	if err != nil || !deleted {
		t.Fatalf("DeleteOwnedWithItems = (%v, %v), want true", deleted, err)
	}
	for _, id := range itemIDs {
		if it, _ := itemRepo.FindByID(ctx, id); it != nil {
			t.Errorf("アイテム %s が残存している", id)
		}
	}
	if got, _ := repo.FindByID(ctx, c.ID); got != nil {
		t.Error("コレクションが残存している")
	}
}

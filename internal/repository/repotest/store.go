// Package repotest はサービス層のテストで使うインメモリのリポジトリ実装を提供する。
// 所有者条件付きの更新・削除やカスケード削除など、PostgreSQL実装と同じ結果を返す。
package repotest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/shelfman/internal/model"
	"github.com/hitoshi/shelfman/internal/repository"
)

// Store はコレクションとアイテムを保持するインメモリストア。
type Store struct {
	mu          sync.Mutex
	collections map[string]model.Collection
	items       map[string]model.Item
	seq         int
	order       map[string]int // 挿入順（同一時刻の並び替え用）

	// FailNext が設定されている場合、次の書き込み操作はこのエラーを返す。
	FailNext error
}

// NewStore は空のStoreを生成する。
func NewStore() *Store {
	return &Store{
		collections: map[string]model.Collection{},
		items:       map[string]model.Item{},
		order:       map[string]int{},
	}
}

// Collections はCollectionRepositoryとしてのビューを返す。
func (s *Store) Collections() repository.CollectionRepository { return collectionView{s} }

// Items はItemRepositoryとしてのビューを返す。
func (s *Store) Items() repository.ItemRepository { return itemView{s} }

// CollectionCount は保存されているコレクション数を返す。
func (s *Store) CollectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.collections)
}

// ItemCount は保存されているアイテム数を返す。
func (s *Store) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) takeFailure() error {
	err := s.FailNext
	s.FailNext = nil
	return err
}

func (s *Store) nextSeq(id string) {
	s.seq++
	s.order[id] = s.seq
}

// newerFirst は作成日時の降順、同時刻なら挿入順の降順で比較する。
func (s *Store) newerFirst(aID string, aAt time.Time, bID string, bAt time.Time) bool {
	if !aAt.Equal(bAt) {
		return aAt.After(bAt)
	}
	return s.order[aID] > s.order[bID]
}

type collectionView struct{ s *Store }

func (v collectionView) Create(ctx context.Context, c *model.Collection) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if err := v.s.takeFailure(); err != nil {
		return err
	}
	v.s.collections[c.ID] = *c
	v.s.nextSeq(c.ID)
	return nil
}

func (v collectionView) FindByID(ctx context.Context, id string) (*model.Collection, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	c, ok := v.s.collections[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (v collectionView) ListByUserIDWithCount(ctx context.Context, userID string) ([]repository.CollectionWithCount, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	var out []repository.CollectionWithCount
	for _, c := range v.s.collections {
		if c.UserID != userID {
			continue
		}
		n := 0
		for _, it := range v.s.items {
			if it.CollectionID == c.ID {
				n++
			}
		}
		out = append(out, repository.CollectionWithCount{Collection: c, ItemCount: n})
	}
	sort.Slice(out, func(i, j int) bool {
		return v.s.newerFirst(out[i].ID, out[i].CreatedAt, out[j].ID, out[j].CreatedAt)
	})
	return out, nil
}

func (v collectionView) UpdateOwned(ctx context.Context, id, userID string, u repository.CollectionUpdate, updatedAt time.Time) (*model.Collection, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if err := v.s.takeFailure(); err != nil {
		return nil, err
	}
	c, ok := v.s.collections[id]
	if !ok || c.UserID != userID {
		return nil, nil
	}
	if u.Name != nil {
		c.Name = *u.Name
	}
	if u.Category != nil {
		c.Category = *u.Category
	}
	if u.Description != nil {
		c.Description = emptyToNil(*u.Description)
	}
	if u.IsPublic != nil {
		c.IsPublic = *u.IsPublic
	}
	c.UpdatedAt = updatedAt
	v.s.collections[id] = c
	return &c, nil
}

func (v collectionView) DeleteOwnedWithItems(ctx context.Context, id, userID string) (bool, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if err := v.s.takeFailure(); err != nil {
		return false, err
	}
	c, ok := v.s.collections[id]
	if !ok || c.UserID != userID {
		return false, nil
	}
	for itemID, it := range v.s.items {
		if it.CollectionID == id {
			delete(v.s.items, itemID)
		}
	}
	delete(v.s.collections, id)
	return true, nil
}

type itemView struct{ s *Store }

func (v itemView) CreateInOwnedCollection(ctx context.Context, item *model.Item, ownerID string) (bool, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if err := v.s.takeFailure(); err != nil {
		return false, err
	}
	c, ok := v.s.collections[item.CollectionID]
	if !ok || c.UserID != ownerID {
		return false, nil
	}
	v.s.items[item.ID] = *item
	v.s.nextSeq(item.ID)
	return true, nil
}

func (v itemView) FindByID(ctx context.Context, id string) (*model.Item, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	it, ok := v.s.items[id]
	if !ok {
		return nil, nil
	}
	return &it, nil
}

func (v itemView) ListByCollectionID(ctx context.Context, collectionID string) ([]*model.Item, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	var out []*model.Item
	for _, it := range v.s.items {
		if it.CollectionID == collectionID {
			it := it
			out = append(out, &it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return v.s.newerFirst(out[i].ID, out[i].CreatedAt, out[j].ID, out[j].CreatedAt)
	})
	return out, nil
}

func (v itemView) UpdateOwned(ctx context.Context, id, ownerID string, u repository.ItemUpdate, updatedAt time.Time) (*model.Item, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if err := v.s.takeFailure(); err != nil {
		return nil, err
	}
	it, ok := v.s.items[id]
	if !ok || v.s.collections[it.CollectionID].UserID != ownerID {
		return nil, nil
	}
	if u.Title != nil {
		it.Title = *u.Title
	}
	if u.Description != nil {
		it.Description = emptyToNil(*u.Description)
	}
	if u.Status != nil {
		it.Status = *u.Status
	}
	if u.Notes != nil {
		it.Notes = emptyToNil(*u.Notes)
	}
	if u.ImageURL != nil {
		it.ImageURL = emptyToNil(*u.ImageURL)
	}
	if u.SetAttributes {
		it.Attributes = u.Attributes
	}
	it.UpdatedAt = updatedAt
	v.s.items[id] = it
	return &it, nil
}

func (v itemView) DeleteOwned(ctx context.Context, id, ownerID string) (bool, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if err := v.s.takeFailure(); err != nil {
		return false, err
	}
	it, ok := v.s.items[id]
	if !ok || v.s.collections[it.CollectionID].UserID != ownerID {
		return false, nil
	}
	delete(v.s.items, id)
	return true, nil
}

func emptyToNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var (
	_ repository.CollectionRepository = collectionView{}
	_ repository.ItemRepository       = itemView{}
)

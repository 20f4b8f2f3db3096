// Package collection はコレクション管理のドメインロジックを提供する。
package collection

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/shelfman/internal/access"
	"github.com/hitoshi/shelfman/internal/metrics"
	"github.com/hitoshi/shelfman/internal/model"
	"github.com/hitoshi/shelfman/internal/repository"
)

// OwnerLookup はコレクション詳細に所有者情報を付与するためのユーザー参照。
type OwnerLookup interface {
	Lookup(ctx context.Context, userID string) (*model.User, error)
}

// CreateInput はコレクション作成の入力値。
type CreateInput struct {
	Name        string
	Category    string
	Description *string
	IsPublic    bool
}

// Patch はコレクションの部分更新の入力値。nilのフィールドは変更しない。
type Patch struct {
	Name        *string
	Category    *string
	Description *string
	IsPublic    *bool
}

// Detail はコレクションと所属アイテムを結合したドメインオブジェクト。
type Detail struct {
	Collection *model.Collection
	Owner      *model.User
	Items      []*model.Item
	IsOwner    bool
}

// Summary は一覧表示用のコレクション情報。
type Summary struct {
	Collection model.Collection
	ItemCount  int
}

// Service はコレクション管理のサービス層。
type Service struct {
	collRepo repository.CollectionRepository
	itemRepo repository.ItemRepository
	owners   OwnerLookup
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// ownersとmcはnilでもよい。
func NewService(
	collRepo repository.CollectionRepository,
	itemRepo repository.ItemRepository,
	owners OwnerLookup,
	mc metrics.MetricsCollector,
) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		collRepo: collRepo,
		itemRepo: itemRepo,
		owners:   owners,
		metrics:  mc,
		now:      time.Now,
	}
}

// Create はコレクションを作成する。名前とカテゴリは必須。
func (s *Service) Create(ctx context.Context, caller model.Caller, in CreateInput) (*model.Collection, error) {
	if err := access.RequireCaller(caller); err != nil {
		return nil, s.record("create", err)
	}

	name, err := model.RequiredText("name", in.Name, model.MaxCollectionNameLength)
	if err != nil {
		return nil, s.record("create", err)
	}
	category, err := model.ParseCategory(in.Category)
	if err != nil {
		return nil, s.record("create", err)
	}
	desc, err := model.OptionalText("description", in.Description, model.MaxCollectionDescriptionLength)
	if err != nil {
		return nil, s.record("create", err)
	}

	now := s.timestamp()
	c := &model.Collection{
		ID:          uuid.New().String(),
		UserID:      caller.UserID,
		Name:        name,
		Category:    category,
		Description: desc,
		IsPublic:    in.IsPublic,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.collRepo.Create(ctx, c); err != nil {
		return nil, s.record("create", fmt.Errorf("コレクションの作成に失敗しました: %w", err))
	}

	s.record("create", nil)
	return c, nil
}

// Get はコレクションと所属アイテム（新しい順）を返す。
// 存在しない場合と読み取り権限がない場合はどちらもNotFoundとなる。
func (s *Service) Get(ctx context.Context, caller model.Caller, id string) (*Detail, error) {
	if err := access.RequireCaller(caller); err != nil {
		return nil, s.record("get", err)
	}

	c, err := s.load(ctx, id)
	if err != nil {
		return nil, s.record("get", err)
	}
	if c == nil {
		return nil, s.record("get", model.NewNotFoundError("コレクション", id))
	}
	if err := access.Check(caller, access.ForCollection(c), access.OpRead); err != nil {
		return nil, s.record("get", err)
	}

	items, err := s.itemRepo.ListByCollectionID(ctx, c.ID)
	if err != nil {
		return nil, s.record("get", fmt.Errorf("アイテム一覧の取得に失敗しました: %w", err))
	}
	if items == nil {
		items = []*model.Item{}
	}

	detail := &Detail{
		Collection: c,
		Items:      items,
		IsOwner:    c.UserID == caller.UserID,
	}
	if s.owners != nil {
		owner, err := s.owners.Lookup(ctx, c.UserID)
		if err != nil {
			return nil, s.record("get", fmt.Errorf("所有者の取得に失敗しました: %w", err))
		}
		detail.Owner = owner
	}

	s.record("get", nil)
	return detail, nil
}

// ListOwnedBy は呼び出し元が所有するコレクションをアイテム数付きで新しい順に返す。
func (s *Service) ListOwnedBy(ctx context.Context, caller model.Caller) ([]Summary, error) {
	if err := access.RequireCaller(caller); err != nil {
		return nil, s.record("list", err)
	}

	rows, err := s.collRepo.ListByUserIDWithCount(ctx, caller.UserID)
	if err != nil {
		return nil, s.record("list", fmt.Errorf("コレクション一覧の取得に失敗しました: %w", err))
	}

	results := make([]Summary, len(rows))
	for i, row := range rows {
		results[i] = Summary{Collection: row.Collection, ItemCount: row.ItemCount}
	}
	s.record("list", nil)
	return results, nil
}

// Update はコレクションを部分更新する。
// 所有者確認と更新は id と user_id を条件とする1文で行う。
func (s *Service) Update(ctx context.Context, caller model.Caller, id string, p Patch) (*model.Collection, error) {
	if err := access.RequireCaller(caller); err != nil {
		return nil, s.record("update", err)
	}

	u, err := toUpdate(p)
	if err != nil {
		// 所有者以外には入力内容より先に権限の判定結果を返す
		if denied := s.checkOwner(ctx, caller, id); denied != nil {
			return nil, s.record("update", denied)
		}
		return nil, s.record("update", err)
	}

	if u.Empty() {
		c, err := s.load(ctx, id)
		if err != nil {
			return nil, s.record("update", err)
		}
		if err := s.writeDenied(caller, id, c); err != nil {
			return nil, s.record("update", err)
		}
		s.record("update", nil)
		return c, nil
	}

	updated, err := s.collRepo.UpdateOwned(ctx, id, caller.UserID, u, s.timestamp())
	if err != nil {
		return nil, s.record("update", fmt.Errorf("コレクションの更新に失敗しました: %w", err))
	}
	if updated == nil {
		return nil, s.record("update", s.classifyMiss(ctx, caller, id))
	}

	s.record("update", nil)
	return updated, nil
}

// Delete はコレクションと所属アイテムを1つのトランザクションで削除する。
func (s *Service) Delete(ctx context.Context, caller model.Caller, id string) error {
	if err := access.RequireCaller(caller); err != nil {
		return s.record("delete", err)
	}

	deleted, err := s.collRepo.DeleteOwnedWithItems(ctx, id, caller.UserID)
	if err != nil {
		return s.record("delete", fmt.Errorf("コレクションの削除に失敗しました: %w", err))
	}
	if !deleted {
		return s.record("delete", s.classifyMiss(ctx, caller, id))
	}

	slog.Info("collection deleted",
		slog.String("collection_id", id),
		slog.String("user_id", caller.UserID),
	)
	s.record("delete", nil)
	return nil
}

func (s *Service) load(ctx context.Context, id string) (*model.Collection, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	c, err := s.collRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("コレクションの取得に失敗しました: %w", err)
	}
	return c, nil
}

// classifyMiss は条件付き更新・削除が0行だった理由を判定する。
// 行が存在しなければNotFound、所有者以外であればForbiddenを返す。
func (s *Service) classifyMiss(ctx context.Context, caller model.Caller, id string) error {
	if err := s.checkOwner(ctx, caller, id); err != nil {
		return err
	}
	// 判定の直前に行が消えた、または所有者が一致した状態で0行になった場合
	return model.NewNotFoundError("コレクション", id)
}

// checkOwner は行を読み直し、呼び出し元が書き込めない場合にNotFoundかForbiddenを返す。
func (s *Service) checkOwner(ctx context.Context, caller model.Caller, id string) error {
	c, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	return s.writeDenied(caller, id, c)
}

func (s *Service) writeDenied(caller model.Caller, id string, c *model.Collection) error {
	if c == nil {
		return model.NewNotFoundError("コレクション", id)
	}
	return access.Check(caller, access.ForCollection(c), access.OpWrite)
}

// timestamp はPostgreSQLの保存精度（マイクロ秒）に丸めた現在時刻を返す。
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *Service) record(op string, err error) error {
	s.metrics.RecordStoreOp("collection", op, metrics.ResultOf(err))
	return err
}

func toUpdate(p Patch) (repository.CollectionUpdate, error) {
	var u repository.CollectionUpdate
	if p.Name != nil {
		name, err := model.RequiredText("name", *p.Name, model.MaxCollectionNameLength)
		if err != nil {
			return u, err
		}
		u.Name = &name
	}
	if p.Category != nil {
		category, err := model.ParseCategory(*p.Category)
		if err != nil {
			return u, err
		}
		u.Category = &category
	}
	if p.Description != nil {
		desc, err := model.OptionalText("description", p.Description, model.MaxCollectionDescriptionLength)
		if err != nil {
			return u, err
		}
		cleared := ""
		if desc == nil {
			desc = &cleared
		}
		u.Description = desc
	}
	u.IsPublic = p.IsPublic
	return u, nil
}

// Package item はコレクションに属するアイテムの管理機能を提供する。
package item

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/shelfman/internal/access"
	"github.com/hitoshi/shelfman/internal/metrics"
	"github.com/hitoshi/shelfman/internal/model"
	"github.com/hitoshi/shelfman/internal/repository"
)

// CreateInput はアイテム作成の入力値。
// Attributesはクライアントから受け取ったJSONをそのまま保持する。
type CreateInput struct {
	Title       string
	Status      string
	Description *string
	Notes       *string
	ImageURL    *string
	Attributes  json.RawMessage
}

// Patch はアイテムの部分更新の入力値。nilのフィールドは変更しない。
// Attributesがnullまたは空オブジェクトの場合は属性を削除する。
type Patch struct {
	Title       *string
	Status      *string
	Description *string
	Notes       *string
	ImageURL    *string
	Attributes  json.RawMessage
}

// ItemDetail はアイテムと親コレクションを結合したドメインオブジェクト。
type ItemDetail struct {
	Item       *model.Item
	Collection *model.Collection
	IsOwner    bool
}

// ItemService はアイテムの作成・取得・更新・削除のサービス。
// アイテムの所有者は親コレクションの所有者であり、認可は常に親コレクションで判定する。
type ItemService struct {
	itemRepo repository.ItemRepository
	collRepo repository.CollectionRepository
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewItemService はItemServiceの新しいインスタンスを生成する。
func NewItemService(
	itemRepo repository.ItemRepository,
	collRepo repository.CollectionRepository,
	mc metrics.MetricsCollector,
) *ItemService {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &ItemService{
		itemRepo: itemRepo,
		collRepo: collRepo,
		metrics:  mc,
		now:      time.Now,
	}
}

// Create はコレクションにアイテムを追加する。
// 親コレクションの所有者確認と挿入は1文で行い、所有者以外の場合はForbiddenを返す。
func (s *ItemService) Create(ctx context.Context, caller model.Caller, collectionID string, in CreateInput) (*model.Item, error) {
	if err := access.RequireCaller(caller); err != nil {
		return nil, s.record("create", err)
	}

	title, err := model.RequiredText("title", in.Title, model.MaxItemTitleLength)
	if err != nil {
		return nil, s.record("create", err)
	}
	status, err := model.ParseItemStatus(in.Status)
	if err != nil {
		return nil, s.record("create", err)
	}
	desc, err := model.OptionalText("description", in.Description, model.MaxItemDescriptionLength)
	if err != nil {
		return nil, s.record("create", err)
	}
	notes, err := model.OptionalText("notes", in.Notes, model.MaxItemNotesLength)
	if err != nil {
		return nil, s.record("create", err)
	}
	imageURL, err := model.OptionalImageURL("imageUrl", in.ImageURL)
	if err != nil {
		return nil, s.record("create", err)
	}
	attrs, _, err := s.parseAttributes(in.Attributes, caller, collectionID)
	if err != nil {
		return nil, s.record("create", err)
	}

	now := s.timestamp()
	item := &model.Item{
		ID:           uuid.New().String(),
		CollectionID: collectionID,
		Title:        title,
		Description:  desc,
		Status:       status,
		Notes:        notes,
		ImageURL:     imageURL,
		Attributes:   attrs,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if _, err := uuid.Parse(collectionID); err != nil {
		return nil, s.record("create", model.NewNotFoundError("コレクション", collectionID))
	}
	created, err := s.itemRepo.CreateInOwnedCollection(ctx, item, caller.UserID)
	if err != nil {
		return nil, s.record("create", fmt.Errorf("アイテムの作成に失敗しました: %w", err))
	}
	if !created {
		return nil, s.record("create", s.classifyCollectionMiss(ctx, caller, collectionID))
	}

	s.record("create", nil)
	return item, nil
}

// Get はアイテムを返す。読み取り可否は親コレクションの規則に従う。
func (s *ItemService) Get(ctx context.Context, caller model.Caller, itemID string) (*ItemDetail, error) {
	if err := access.RequireCaller(caller); err != nil {
		return nil, s.record("get", err)
	}

	item, parent, err := s.loadWithParent(ctx, itemID)
	if err != nil {
		return nil, s.record("get", err)
	}
	if item == nil || parent == nil {
		return nil, s.record("get", model.NewNotFoundError("アイテム", itemID))
	}
	if err := access.Check(caller, access.ForItem(item.ID, parent), access.OpRead); err != nil {
		return nil, s.record("get", err)
	}

	s.record("get", nil)
	return &ItemDetail{
		Item:       item,
		Collection: parent,
		IsOwner:    parent.UserID == caller.UserID,
	}, nil
}

// Update はアイテムを部分更新する。
func (s *ItemService) Update(ctx context.Context, caller model.Caller, itemID string, p Patch) (*model.Item, error) {
	if err := access.RequireCaller(caller); err != nil {
		return nil, s.record("update", err)
	}

	u, err := s.toUpdate(p, caller, itemID)
	if err != nil {
		// 所有者以外には入力内容より先に権限の判定結果を返す
		if denied := s.checkItemOwner(ctx, caller, itemID); denied != nil {
			return nil, s.record("update", denied)
		}
		return nil, s.record("update", err)
	}

	if u.Empty() {
		item, parent, err := s.loadWithParent(ctx, itemID)
		if err != nil {
			return nil, s.record("update", err)
		}
		if err := writeDenied(caller, itemID, item, parent); err != nil {
			return nil, s.record("update", err)
		}
		s.record("update", nil)
		return item, nil
	}

	updated, err := s.itemRepo.UpdateOwned(ctx, itemID, caller.UserID, u, s.timestamp())
	if err != nil {
		return nil, s.record("update", fmt.Errorf("アイテムの更新に失敗しました: %w", err))
	}
	if updated == nil {
		return nil, s.record("update", s.classifyItemMiss(ctx, caller, itemID))
	}

	s.record("update", nil)
	return updated, nil
}

// Delete はアイテムを削除し、削除できたかどうかを返す。
func (s *ItemService) Delete(ctx context.Context, caller model.Caller, itemID string) (bool, error) {
	if err := access.RequireCaller(caller); err != nil {
		return false, s.record("delete", err)
	}

	deleted, err := s.itemRepo.DeleteOwned(ctx, itemID, caller.UserID)
	if err != nil {
		return false, s.record("delete", fmt.Errorf("アイテムの削除に失敗しました: %w", err))
	}
	if !deleted {
		return false, s.record("delete", s.classifyItemMiss(ctx, caller, itemID))
	}

	s.record("delete", nil)
	return true, nil
}

// parseAttributes は属性バッグを解釈する。
// 形式不正の入力はエラーにせず、警告ログを出して属性なしとして扱う（okはfalse）。
// 形式が正しくても上限を超える場合はValidationErrorを返す。
func (s *ItemService) parseAttributes(raw json.RawMessage, caller model.Caller, target string) (model.Attributes, bool, error) {
	attrs, err := model.ParseAttributes(raw)
	if errors.Is(err, model.ErrMalformedAttributes) {
		slog.Warn("malformed attributes ignored",
			slog.String("user_id", caller.UserID),
			slog.String("target_id", target),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordAttributesIgnored()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if err := attrs.Validate(); err != nil {
		return nil, false, err
	}
	return attrs, true, nil
}

func (s *ItemService) toUpdate(p Patch, caller model.Caller, itemID string) (repository.ItemUpdate, error) {
	var u repository.ItemUpdate
	if p.Title != nil {
		title, err := model.RequiredText("title", *p.Title, model.MaxItemTitleLength)
		if err != nil {
			return u, err
		}
		u.Title = &title
	}
	if p.Status != nil {
		status, err := model.ParseItemStatus(*p.Status)
		if err != nil {
			return u, err
		}
		u.Status = &status
	}

	var err error
	if u.Description, err = clearable("description", p.Description, model.MaxItemDescriptionLength); err != nil {
		return u, err
	}
	if u.Notes, err = clearable("notes", p.Notes, model.MaxItemNotesLength); err != nil {
		return u, err
	}
	if p.ImageURL != nil {
		imageURL, err := model.OptionalImageURL("imageUrl", p.ImageURL)
		if err != nil {
			return u, err
		}
		u.ImageURL = orEmpty(imageURL)
	}

	if p.Attributes != nil {
		attrs, ok, err := s.parseAttributes(p.Attributes, caller, itemID)
		if err != nil {
			return u, err
		}
		// 形式不正の場合は既存の属性を変更しない
		if ok {
			u.SetAttributes = true
			u.Attributes = attrs
		}
	}
	return u, nil
}

// clearable は任意項目の更新値を検証する。空文字列はNULLに戻す指定として扱う。
func clearable(field string, value *string, max int) (*string, error) {
	if value == nil {
		return nil, nil
	}
	v, err := model.OptionalText(field, value, max)
	if err != nil {
		return nil, err
	}
	return orEmpty(v), nil
}

func orEmpty(v *string) *string {
	if v == nil {
		empty := ""
		return &empty
	}
	return v
}

func (s *ItemService) loadWithParent(ctx context.Context, itemID string) (*model.Item, *model.Collection, error) {
	if _, err := uuid.Parse(itemID); err != nil {
		return nil, nil, nil
	}
	item, err := s.itemRepo.FindByID(ctx, itemID)
	if err != nil {
		return nil, nil, fmt.Errorf("アイテムの取得に失敗しました: %w", err)
	}
	if item == nil {
		return nil, nil, nil
	}
	parent, err := s.collRepo.FindByID(ctx, item.CollectionID)
	if err != nil {
		return nil, nil, fmt.Errorf("コレクションの取得に失敗しました: %w", err)
	}
	return item, parent, nil
}

// classifyItemMiss は条件付き更新・削除が0行だった理由を判定する。
func (s *ItemService) classifyItemMiss(ctx context.Context, caller model.Caller, itemID string) error {
	if err := s.checkItemOwner(ctx, caller, itemID); err != nil {
		return err
	}
	return model.NewNotFoundError("アイテム", itemID)
}

// checkItemOwner はアイテムと親コレクションを読み直し、書き込めない場合にNotFoundかForbiddenを返す。
func (s *ItemService) checkItemOwner(ctx context.Context, caller model.Caller, itemID string) error {
	item, parent, err := s.loadWithParent(ctx, itemID)
	if err != nil {
		return err
	}
	return writeDenied(caller, itemID, item, parent)
}

// classifyCollectionMiss は条件付き挿入が0行だった理由を親コレクションから判定する。
func (s *ItemService) classifyCollectionMiss(ctx context.Context, caller model.Caller, collectionID string) error {
	parent, err := s.collRepo.FindByID(ctx, collectionID)
	if err != nil {
		return fmt.Errorf("コレクションの取得に失敗しました: %w", err)
	}
	if parent == nil {
		return model.NewNotFoundError("コレクション", collectionID)
	}
	if err := access.Check(caller, access.ForCollection(parent), access.OpWrite); err != nil {
		return err
	}
	return model.NewNotFoundError("コレクション", collectionID)
}

func writeDenied(caller model.Caller, itemID string, item *model.Item, parent *model.Collection) error {
	if item == nil || parent == nil {
		return model.NewNotFoundError("アイテム", itemID)
	}
	return access.Check(caller, access.ForItem(item.ID, parent), access.OpWrite)
}

func (s *ItemService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *ItemService) record(op string, err error) error {
	s.metrics.RecordStoreOp("item", op, metrics.ResultOf(err))
	return err
}

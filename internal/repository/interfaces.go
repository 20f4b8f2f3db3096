// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/shelfman/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
// ユーザーはIdPのミラーであり、作成後に更新・削除されることはない。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	// (provider, provider_user_id) が既に存在する場合はErrDuplicateIdentityを返す。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindUserByIdentity はproviderとprovider_user_idに紐づくユーザーを取得する。
	// 見つからない場合はnilを返す。
	FindUserByIdentity(ctx context.Context, provider, providerUserID string) (*model.User, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
// PostgreSQLとRedisの2つの実装がある。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// CollectionUpdate はコレクションの部分更新内容を表す。
// nilのフィールドは変更しない。Descriptionに空文字列を指定するとNULLに戻す。
type CollectionUpdate struct {
	Name        *string
	Category    *model.Category
	Description *string
	IsPublic    *bool
}

// Empty は変更対象のフィールドが1つもないかどうかを返す。
func (u CollectionUpdate) Empty() bool {
	return u.Name == nil && u.Category == nil && u.Description == nil && u.IsPublic == nil
}

// CollectionWithCount はコレクションと所属アイテム数を結合した構造体。
type CollectionWithCount struct {
	model.Collection
	ItemCount int
}

// CollectionRepository はコレクションの永続化インターフェース。
// 書き込み系はすべて所有者IDを条件に含め、所有権の確認と変更を1文で行う。
type CollectionRepository interface {
	// Create はコレクションを作成する。
	Create(ctx context.Context, c *model.Collection) error

	// FindByID は指定IDのコレクションを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Collection, error)

	// ListByUserIDWithCount は所有者のコレクション一覧をアイテム数付きで作成日時の降順に返す。
	ListByUserIDWithCount(ctx context.Context, userID string) ([]CollectionWithCount, error)

	// UpdateOwned は id と user_id の両方が一致する行のみを更新し、更新後の行を返す。
	// 一致する行がない場合はnilを返す。
	UpdateOwned(ctx context.Context, id, userID string, u CollectionUpdate, updatedAt time.Time) (*model.Collection, error)

	// DeleteOwnedWithItems は所属アイテムとコレクションを1つのトランザクションで削除する。
	// id と user_id の両方が一致する行がない場合はfalseを返し、何も削除しない。
	DeleteOwnedWithItems(ctx context.Context, id, userID string) (bool, error)
}

// ItemUpdate はアイテムの部分更新内容を表す。
// nilのフィールドは変更しない。文字列フィールドに空文字列を指定するとNULLに戻す。
// SetAttributesがtrueの場合のみAttributesを書き込む（nilは属性の削除）。
type ItemUpdate struct {
	Title         *string
	Description   *string
	Status        *model.ItemStatus
	Notes         *string
	ImageURL      *string
	SetAttributes bool
	Attributes    model.Attributes
}

// Empty は変更対象のフィールドが1つもないかどうかを返す。
func (u ItemUpdate) Empty() bool {
	return u.Title == nil && u.Description == nil && u.Status == nil &&
		u.Notes == nil && u.ImageURL == nil && !u.SetAttributes
}

// ItemRepository はアイテムの永続化インターフェース。
// アイテムの所有者は親コレクションの所有者であり、書き込み系はcollectionsとの結合で判定する。
type ItemRepository interface {
	// CreateInOwnedCollection は親コレクションの所有者がownerIDの場合のみアイテムを作成する。
	// 条件に一致するコレクションがない場合はfalseを返す。
	CreateInOwnedCollection(ctx context.Context, item *model.Item, ownerID string) (bool, error)

	// FindByID は指定IDのアイテムを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Item, error)

	// ListByCollectionID はコレクションのアイテム一覧を作成日時の降順に返す。
	ListByCollectionID(ctx context.Context, collectionID string) ([]*model.Item, error)

	// UpdateOwned は親コレクションの所有者がownerIDの場合のみ更新し、更新後の行を返す。
	// 一致する行がない場合はnilを返す。
	UpdateOwned(ctx context.Context, id, ownerID string, u ItemUpdate, updatedAt time.Time) (*model.Item, error)

	// DeleteOwned は親コレクションの所有者がownerIDの場合のみ削除する。
	// 一致する行がない場合はfalseを返す。
	DeleteOwned(ctx context.Context, id, ownerID string) (bool, error)
}

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/shelfman/internal/model"
)

const itemColumns = `items.id, items.collection_id, items.title, items.description, items.status,
	items.notes, items.image_url, items.attributes, items.created_at, items.updated_at`

// PostgresItemRepo はPostgreSQLを使用したアイテムリポジトリ。
type PostgresItemRepo struct {
	db *sql.DB
}

// NewPostgresItemRepo はPostgresItemRepoを生成する。
func NewPostgresItemRepo(db *sql.DB) *PostgresItemRepo {
	return &PostgresItemRepo{db: db}
}

func scanItem(row rowScanner) (*model.Item, error) {
	item := &model.Item{}
	var status string
	var description, notes, imageURL sql.NullString
	err := row.Scan(
		&item.ID, &item.CollectionID, &item.Title, &description, &status,
		&notes, &imageURL, &item.Attributes, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.Status = model.ItemStatus(status)
	item.Description = stringPtr(description)
	item.Notes = stringPtr(notes)
	item.ImageURL = stringPtr(imageURL)
	return item, nil
}

// CreateInOwnedCollection は親コレクションの所有者がownerIDの場合のみアイテムを作成する。
// INSERT ... SELECT で所有権の確認と挿入を1文で行う。
func (r *PostgresItemRepo) CreateInOwnedCollection(ctx context.Context, item *model.Item, ownerID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO items (id, collection_id, title, description, status, notes,
		                    image_url, attributes, created_at, updated_at)
		 SELECT $1::uuid, c.id, $3::varchar, $4::varchar, $5::varchar, $6::varchar,
		        $7::varchar, $8::jsonb, $9::timestamptz, $10::timestamptz
		 FROM collections c
		 WHERE c.id = $2::uuid AND c.user_id = $11::uuid`,
		item.ID, item.CollectionID, item.Title, nullableString(item.Description),
		string(item.Status), nullableString(item.Notes), nullableString(item.ImageURL),
		item.Attributes, item.CreatedAt, item.UpdatedAt, ownerID,
	)
	if isInvalidUUID(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("アイテムの作成に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// FindByID は指定IDのアイテムを取得する。見つからない場合はnilを返す。
func (r *PostgresItemRepo) FindByID(ctx context.Context, id string) (*model.Item, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE items.id = $1`,
		id,
	)
	item, err := scanItem(row)
	if err == sql.ErrNoRows || isInvalidUUID(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("アイテムの取得に失敗しました: %w", err)
	}
	return item, nil
}

// ListByCollectionID はコレクションのアイテム一覧を作成日時の降順に返す。
func (r *PostgresItemRepo) ListByCollectionID(ctx context.Context, collectionID string) ([]*model.Item, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+itemColumns+`
		 FROM items
		 WHERE items.collection_id = $1
		 ORDER BY items.created_at DESC, items.id DESC`,
		collectionID,
	)
	if err != nil {
		return nil, fmt.Errorf("アイテム一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var items []*model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("アイテム一覧のスキャンに失敗しました: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("アイテム一覧の読み込みに失敗しました: %w", err)
	}
	return items, nil
}

// UpdateOwned は親コレクションの所有者がownerIDの場合のみ更新し、更新後の行を返す。
func (r *PostgresItemRepo) UpdateOwned(ctx context.Context, id, ownerID string, u ItemUpdate, updatedAt time.Time) (*model.Item, error) {
	set := newSetClause(id, ownerID)
	if u.Title != nil {
		set.add("title", *u.Title)
	}
	if u.Description != nil {
		set.addExpr("description", "NULLIF(%s, '')", *u.Description)
	}
	if u.Status != nil {
		set.add("status", string(*u.Status))
	}
	if u.Notes != nil {
		set.addExpr("notes", "NULLIF(%s, '')", *u.Notes)
	}
	if u.ImageURL != nil {
		set.addExpr("image_url", "NULLIF(%s, '')", *u.ImageURL)
	}
	if u.SetAttributes {
		set.addExpr("attributes", "%s::jsonb", u.Attributes)
	}
	set.add("updated_at", updatedAt)

	row := r.db.QueryRowContext(ctx,
		`UPDATE items SET `+set.String()+`
		 FROM collections c
		 WHERE items.id = $1 AND items.collection_id = c.id AND c.user_id = $2
		 RETURNING `+itemColumns,
		set.args...,
	)
	item, err := scanItem(row)
	if err == sql.ErrNoRows || isInvalidUUID(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("アイテムの更新に失敗しました: %w", err)
	}
	return item, nil
}

// DeleteOwned は親コレクションの所有者がownerIDの場合のみ削除する。
func (r *PostgresItemRepo) DeleteOwned(ctx context.Context, id, ownerID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM items
		 USING collections c
		 WHERE items.id = $1 AND items.collection_id = c.id AND c.user_id = $2`,
		id, ownerID,
	)
	if isInvalidUUID(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("アイテムの削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// compile-time interface check
var _ ItemRepository = (*PostgresItemRepo)(nil)

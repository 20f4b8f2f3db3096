package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/shelfman/internal/model"
)

const collectionColumns = `id, user_id, name, category, description, is_public, created_at, updated_at`

// PostgresCollectionRepo はPostgreSQLを使用したコレクションリポジトリ。
type PostgresCollectionRepo struct {
	db *sql.DB
}

// NewPostgresCollectionRepo はPostgresCollectionRepoを生成する。
func NewPostgresCollectionRepo(db *sql.DB) *PostgresCollectionRepo {
	return &PostgresCollectionRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCollection(row rowScanner, extra ...any) (*model.Collection, error) {
	c := &model.Collection{}
	var category string
	var description sql.NullString
	dest := []any{
		&c.ID, &c.UserID, &c.Name, &category, &description,
		&c.IsPublic, &c.CreatedAt, &c.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	c.Category = model.Category(category)
	c.Description = stringPtr(description)
	return c, nil
}

// Create はコレクションを作成する。
func (r *PostgresCollectionRepo) Create(ctx context.Context, c *model.Collection) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO collections (`+collectionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.UserID, c.Name, string(c.Category), nullableString(c.Description),
		c.IsPublic, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("コレクションの作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDのコレクションを取得する。見つからない場合はnilを返す。
func (r *PostgresCollectionRepo) FindByID(ctx context.Context, id string) (*model.Collection, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+collectionColumns+` FROM collections WHERE id = $1`,
		id,
	)
	c, err := scanCollection(row)
	if err == sql.ErrNoRows || isInvalidUUID(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("コレクションの取得に失敗しました: %w", err)
	}
	return c, nil
}

// ListByUserIDWithCount は所有者のコレクション一覧をアイテム数付きで作成日時の降順に返す。
func (r *PostgresCollectionRepo) ListByUserIDWithCount(ctx context.Context, userID string) ([]CollectionWithCount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT c.id, c.user_id, c.name, c.category, c.description, c.is_public,
		        c.created_at, c.updated_at, COUNT(i.id)
		 FROM collections c
		 LEFT JOIN items i ON i.collection_id = c.id
		 WHERE c.user_id = $1
		 GROUP BY c.id
		 ORDER BY c.created_at DESC, c.id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("コレクション一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var result []CollectionWithCount
	for rows.Next() {
		var count int
		c, err := scanCollection(rows, &count)
		if err != nil {
			return nil, fmt.Errorf("コレクション一覧のスキャンに失敗しました: %w", err)
		}
		result = append(result, CollectionWithCount{Collection: *c, ItemCount: count})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("コレクション一覧の読み込みに失敗しました: %w", err)
	}
	return result, nil
}

// UpdateOwned は id と user_id の両方が一致する行のみを更新し、更新後の行を返す。
// 所有権の確認と更新が1文で行われるため、確認後に所有者以外が書き込む余地はない。
func (r *PostgresCollectionRepo) UpdateOwned(ctx context.Context, id, userID string, u CollectionUpdate, updatedAt time.Time) (*model.Collection, error) {
	set := newSetClause(id, userID)
	if u.Name != nil {
		set.add("name", *u.Name)
	}
	if u.Category != nil {
		set.add("category", string(*u.Category))
	}
	if u.Description != nil {
		set.addExpr("description", "NULLIF(%s, '')", *u.Description)
	}
	if u.IsPublic != nil {
		set.add("is_public", *u.IsPublic)
	}
	set.add("updated_at", updatedAt)

	row := r.db.QueryRowContext(ctx,
		`UPDATE collections SET `+set.String()+`
		 WHERE id = $1 AND user_id = $2
		 RETURNING `+collectionColumns,
		set.args...,
	)
	c, err := scanCollection(row)
	if err == sql.ErrNoRows || isInvalidUUID(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("コレクションの更新に失敗しました: %w", err)
	}
	return c, nil
}

// DeleteOwnedWithItems は所属アイテムとコレクションを1つのトランザクションで削除する。
// 外部キーのON DELETE CASCADEにも頼れるが、アイテムの削除を明示してから親を削除する。
// 途中で失敗した場合はロールバックされ、アイテムだけが消えることはない。
func (r *PostgresCollectionRepo) DeleteOwnedWithItems(ctx context.Context, id, userID string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 所有者の行をロックし、削除中に他のトランザクションがアイテムを追加できないようにする
	var lockedID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM collections WHERE id = $1 AND user_id = $2 FOR UPDATE`,
		id, userID,
	).Scan(&lockedID)
	if err == sql.ErrNoRows || isInvalidUUID(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("コレクションのロックに失敗しました: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE collection_id = $1`, id); err != nil {
		return false, fmt.Errorf("アイテムの削除に失敗しました: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM collections WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("コレクションの削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// compile-time interface check
var _ CollectionRepository = (*PostgresCollectionRepo)(nil)

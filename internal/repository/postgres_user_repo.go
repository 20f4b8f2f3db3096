package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/shelfman/internal/model"
)

// PostgresUserRepo はusersテーブルを使うユーザーリポジトリ。
// ユーザーはIdPのミラーで、作成はidentityとの同時作成のみ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

func scanUser(row rowScanner) (*model.User, error) {
	u := &model.User{}
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt); err != nil {
		return nil, err
	}
	return u, nil
}

// FindByID は指定IDのユーザーを返す。存在しないかIDがUUIDでない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT id, email, name, created_at FROM users WHERE id = $1`, id,
	))
	if errors.Is(err, sql.ErrNoRows) || isInvalidUUID(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	return u, nil
}

// CreateWithIdentity はユーザーとidentityを1つのトランザクションで作成する。
// 同じidentityが並行して作られた場合はユーザー行も残さず、ErrDuplicateIdentityを返す。
func (r *PostgresUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (id, email, name, created_at) VALUES ($1, $2, $3, $4)`,
		user.ID, user.Email, user.Name, user.CreatedAt,
	); err != nil {
		return fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO identities (id, user_id, provider, provider_user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		identity.ID, identity.UserID, identity.Provider, identity.ProviderUserID, identity.CreatedAt,
	)
	switch {
	case isUniqueViolation(err):
		return ErrDuplicateIdentity
	case err != nil:
		return fmt.Errorf("identityの作成に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// PostgresIdentityRepo はidentitiesテーブルを使うリポジトリ。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindUserByIdentity はIdP上の識別子に紐づくユーザーを結合クエリ1回で取得する。
func (r *PostgresIdentityRepo) FindUserByIdentity(ctx context.Context, provider, providerUserID string) (*model.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT u.id, u.email, u.name, u.created_at
		 FROM identities i
		 JOIN users u ON u.id = i.user_id
		 WHERE i.provider = $1 AND i.provider_user_id = $2`,
		provider, providerUserID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("identityからのユーザー取得に失敗しました: %w", err)
	}
	return u, nil
}

var (
	_ UserRepository     = (*PostgresUserRepo)(nil)
	_ IdentityRepository = (*PostgresIdentityRepo)(nil)
)

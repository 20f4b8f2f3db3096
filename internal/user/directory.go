// Package user はIdPで認証されたユーザーをアプリケーション側にミラーするディレクトリを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/shelfman/internal/model"
	"github.com/hitoshi/shelfman/internal/repository"
)

// ExternalIdentity はIdPから受け取った呼び出し元の情報を表す。
// (Provider, Subject) がIdP上の安定した識別子となる。
type ExternalIdentity struct {
	Provider string
	Subject  string
	Email    string
	Name     string
}

// Directory はユーザーディレクトリ。
// 初回の認証済みアクセス時にユーザーを遅延作成し、以後は同じIDを返す。
type Directory struct {
	userRepo  repository.UserRepository
	identRepo repository.IdentityRepository
	now       func() time.Time
}

// NewDirectory はDirectoryを生成する。
func NewDirectory(userRepo repository.UserRepository, identRepo repository.IdentityRepository) *Directory {
	return &Directory{
		userRepo:  userRepo,
		identRepo: identRepo,
		now:       time.Now,
	}
}

// Ensure はIdPの識別子に対応するユーザーを返す。存在しない場合はユーザーとidentityを作成する。
// 同じ識別子で初回アクセスが並行した場合、後発の作成は一意制約で失敗するため再読み込みで解決する。
func (d *Directory) Ensure(ctx context.Context, ext ExternalIdentity) (*model.User, error) {
	if ext.Provider == "" || ext.Subject == "" {
		return nil, fmt.Errorf("identity provider and subject are required")
	}

	existing, err := d.identRepo.FindUserByIdentity(ctx, ext.Provider, ext.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	now := d.now()
	u := &model.User{
		ID:        uuid.New().String(),
		Email:     ext.Email,
		Name:      displayName(ext),
		CreatedAt: now,
	}
	ident := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         u.ID,
		Provider:       ext.Provider,
		ProviderUserID: ext.Subject,
		CreatedAt:      now,
	}

	err = d.userRepo.CreateWithIdentity(ctx, u, ident)
	if errors.Is(err, repository.ErrDuplicateIdentity) {
		winner, findErr := d.identRepo.FindUserByIdentity(ctx, ext.Provider, ext.Subject)
		if findErr != nil {
			return nil, fmt.Errorf("failed to reload identity: %w", findErr)
		}
		if winner == nil {
			return nil, fmt.Errorf("identity vanished after duplicate insert: %s/%s", ext.Provider, ext.Subject)
		}
		return winner, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user and identity: %w", err)
	}

	slog.Info("new user mirrored",
		slog.String("user_id", u.ID),
		slog.String("provider", ext.Provider),
	)
	return u, nil
}

// Caller はユーザーIDから呼び出し元を解決する。
// ユーザーが存在しない場合はゼロ値（未認証）を返す。
func (d *Directory) Caller(ctx context.Context, userID string) (model.Caller, error) {
	if userID == "" {
		return model.Caller{}, nil
	}
	u, err := d.userRepo.FindByID(ctx, userID)
	if err != nil {
		return model.Caller{}, fmt.Errorf("failed to find user: %w", err)
	}
	return model.CallerFromUser(u), nil
}

// Lookup は指定IDのユーザーを返す。見つからない場合はnilを返す。
func (d *Directory) Lookup(ctx context.Context, userID string) (*model.User, error) {
	u, err := d.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return u, nil
}

// displayName は表示名が空の場合にメールアドレスのローカル部で補う。
func displayName(ext ExternalIdentity) string {
	if name := strings.TrimSpace(ext.Name); name != "" {
		return name
	}
	if local, _, ok := strings.Cut(ext.Email, "@"); ok && local != "" {
		return local
	}
	return ext.Subject
}

// Package auth はIdPとの認証フロー、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/shelfman/internal/model"
	"github.com/hitoshi/shelfman/internal/repository"
	"github.com/hitoshi/shelfman/internal/user"
)

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、IdP上の識別情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*user.ExternalIdentity, error)
}

// UserMirror はIdPの識別情報をアプリケーションのユーザーに対応付ける。
// user.Directoryが実装する。
type UserMirror interface {
	Ensure(ctx context.Context, ext user.ExternalIdentity) (*model.User, error)
	Lookup(ctx context.Context, userID string) (*model.User, error)
	Caller(ctx context.Context, userID string) (model.Caller, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	users       UserMirror
	sessionRepo repository.SessionRepository
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。oauthはプロキシ認証モードではnilでよい。
func NewService(
	oauth OAuthProvider,
	users UserMirror,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:       oauth,
		users:       users,
		sessionRepo: sessionRepo,
		config:      config,
		now:         time.Now,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 初回ログインのユーザーはディレクトリにミラーされる。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	if s.oauth == nil {
		return nil, fmt.Errorf("oauth provider is not configured")
	}

	ext, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	u, err := s.users.Ensure(ctx, *ext)
	if err != nil {
		return nil, fmt.Errorf("failed to mirror user: %w", err)
	}

	session, err := s.createSession(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user logged in",
		slog.String("user_id", u.ID),
		slog.String("provider", ext.Provider),
	)
	return session, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session not found or expired")
	}

	u, err := s.users.Lookup(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if u == nil {
		return nil, fmt.Errorf("user not found")
	}

	return u, nil
}

// ResolveCaller はセッションIDから呼び出し元を解決する。
// セッションがない、期限切れ、ユーザーが存在しない場合はゼロ値（未認証）を返す。
func (s *Service) ResolveCaller(ctx context.Context, sessionID string) (model.Caller, error) {
	if sessionID == "" {
		return model.Caller{}, nil
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return model.Caller{}, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return model.Caller{}, nil
	}

	caller, err := s.users.Caller(ctx, session.UserID)
	if err != nil {
		return model.Caller{}, fmt.Errorf("failed to resolve session user: %w", err)
	}
	return caller, nil
}

// ResolveProxyCaller は認証プロキシが付与した識別情報から呼び出し元を解決する。
// 初回アクセスのユーザーはここでミラーされる。
func (s *Service) ResolveProxyCaller(ctx context.Context, ext user.ExternalIdentity) (model.Caller, error) {
	u, err := s.users.Ensure(ctx, ext)
	if err != nil {
		return model.Caller{}, fmt.Errorf("failed to mirror proxy user: %w", err)
	}
	return model.CallerFromUser(u), nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

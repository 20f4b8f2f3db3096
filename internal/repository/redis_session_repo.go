package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/shelfman/internal/model"
)

// RedisSessionRepo はRedisを使用したセッションリポジトリ。
// セッションごとにTTL付きのハッシュを保存し、ユーザー単位の一括削除用にセッションIDの集合を持つ。
// 期限切れはRedisのTTLで自動的に削除されるため、クリーンアップジョブは不要。
type RedisSessionRepo struct {
	client *redis.Client
}

// NewRedisSessionRepo はRedisSessionRepoを生成する。
func NewRedisSessionRepo(client *redis.Client) *RedisSessionRepo {
	return &RedisSessionRepo{client: client}
}

func sessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}

func userSessionsKey(userID string) string {
	return fmt.Sprintf("user_sessions:%s", userID)
}

// Create はセッションを保存する。TTLはExpiresAtまでの残り時間。
func (r *RedisSessionRepo) Create(ctx context.Context, session *model.Session) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session expiration time is in the past")
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, sessionKey(session.ID), map[string]any{
		"user_id":    session.UserID,
		"expires_at": session.ExpiresAt.Unix(),
		"created_at": session.CreatedAt.Unix(),
	})
	pipe.Expire(ctx, sessionKey(session.ID), ttl)
	pipe.SAdd(ctx, userSessionsKey(session.UserID), session.ID)
	pipe.Expire(ctx, userSessionsKey(session.UserID), ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
func (r *RedisSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	data, err := r.client.HGetAll(ctx, sessionKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if len(data) == 0 || data["user_id"] == "" {
		return nil, nil
	}

	expiresAt, err := parseUnix(data["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("invalid session expires_at: %w", err)
	}
	if !time.Now().Before(expiresAt) {
		return nil, nil
	}
	createdAt, err := parseUnix(data["created_at"])
	if err != nil {
		return nil, fmt.Errorf("invalid session created_at: %w", err)
	}

	return &model.Session{
		ID:        id,
		UserID:    data["user_id"],
		ExpiresAt: expiresAt,
		CreatedAt: createdAt,
	}, nil
}

// DeleteByID は指定IDのセッションを削除する。存在しない場合もエラーにしない。
func (r *RedisSessionRepo) DeleteByID(ctx context.Context, id string) error {
	userID, err := r.client.HGet(ctx, sessionKey(id), "user_id").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to load session: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, sessionKey(id))
	if userID != "" {
		pipe.SRem(ctx, userSessionsKey(userID), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *RedisSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	ids, err := r.client.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to list user sessions: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessionKey(id))
	}
	keys = append(keys, userSessionsKey(userID))

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

func parseUnix(s string) (time.Time, error) {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0), nil
}

// compile-time interface check
var _ SessionRepository = (*RedisSessionRepo)(nil)

// Package cleanup は期限切れセッションの定期削除ジョブを提供する。
// PostgreSQLセッションストアは読み取り時に期限切れの行を無視するだけなので、
// 行自体はこのジョブで削除する。Redisセッションストアは TTL で失効するため対象外。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CleanupJob は期限切れセッションの削除ジョブ。冪等に何度でも実行できる。
type CleanupJob struct {
	db     Executor
	logger *slog.Logger
	now    func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// Run は有効期限を過ぎたセッションを削除する。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.now()

	result, err := j.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < $1`, cutoff)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Time("cutoff", cutoff),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	return nil
}

// Start は起動直後に1回、その後intervalごとにRunを実行する。
// ctxがキャンセルされるまでブロックする。個々の失敗はログに記録して継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.runLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *CleanupJob) runLogged(ctx context.Context) {
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Warn("cleanup run failed, retrying at next interval", slog.String("error", err.Error()))
	}
}

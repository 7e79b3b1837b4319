// Package cleanup は定期メンテナンスジョブを提供する。
// 期限切れセッションの削除と、どの投稿・アバターからも参照されていない
// 画像オブジェクトの削除を行う。退会や投稿作成の失敗時に取り残された画像はここで回収される。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/ltme/internal/metrics"
	"github.com/hitoshi/ltme/internal/storage"
)

const (
	// DefaultOrphanGrace は未参照の画像を削除するまでの猶予期間。
	// 保存直後で投稿レコードがまだ作られていない画像を消さないために置く。
	DefaultOrphanGrace = 24 * time.Hour
	// referenceBatchSize は参照チェック1回あたりのキー数。
	referenceBatchSize = 500
)

// メトリクスのラベル値
const (
	KindSessions = "sessions"
	KindImages   = "images"
)

// SessionPurger は期限切れセッションの削除を抽象化するインターフェース。
type SessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// ImageReferenceChecker は画像キーが参照されているかの照合を抽象化するインターフェース。
type ImageReferenceChecker interface {
	ExistingImageKeys(ctx context.Context, keys []string) (map[string]bool, error)
}

// CleanupJob は期限切れセッションと孤立画像を削除するジョブ。
// 冪等であり、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	sessions    SessionPurger
	images      ImageReferenceChecker
	store       storage.Store
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	OrphanGrace time.Duration
	now         func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// storeがnilの場合は画像の掃除を行わない。
func NewCleanupJob(
	sessions SessionPurger,
	images ImageReferenceChecker,
	store storage.Store,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
) *CleanupJob {
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		sessions:    sessions,
		images:      images,
		store:       store,
		metrics:     mc,
		logger:      logger,
		OrphanGrace: DefaultOrphanGrace,
		now:         time.Now,
	}
}

// Run はセッションと画像の掃除を順に実行する。
// 片方が失敗してももう片方は実行し、エラーはまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	sessions, sessErr := j.purgeSessions(ctx)
	if sessErr != nil {
		j.logger.Error("期限切れセッションの削除に失敗しました", slog.String("error", sessErr.Error()))
	}

	images, imgErr := j.sweepOrphanImages(ctx)
	if imgErr != nil {
		j.logger.Error("孤立画像の削除に失敗しました", slog.String("error", imgErr.Error()))
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", sessions),
		slog.Int("deleted_images", images),
		slog.Duration("orphan_grace", j.OrphanGrace),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return errors.Join(sessErr, imgErr)
}

func (j *CleanupJob) purgeSessions(ctx context.Context) (int64, error) {
	if j.sessions == nil {
		return 0, nil
	}
	n, err := j.sessions.DeleteExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("セッションの削除に失敗: %w", err)
	}
	j.metrics.RecordCleanupDeleted(KindSessions, int(n))
	return n, nil
}

// sweepOrphanImages は猶予期間を過ぎた未参照の画像を削除し、削除件数を返す。
func (j *CleanupJob) sweepOrphanImages(ctx context.Context) (int, error) {
	if j.store == nil || j.images == nil {
		return 0, nil
	}

	cutoff := j.now().Add(-j.OrphanGrace)
	var candidates []string
	for _, prefix := range []string{storage.PrefixPosts, storage.PrefixAvatars} {
		objects, err := j.store.List(ctx, prefix)
		if err != nil {
			return 0, fmt.Errorf("オブジェクト一覧の取得に失敗 (%s): %w", prefix, err)
		}
		for _, obj := range objects {
			if obj.ModTime.Before(cutoff) {
				candidates = append(candidates, obj.Key)
			}
		}
	}

	deleted := 0
	for start := 0; start < len(candidates); start += referenceBatchSize {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		end := min(start+referenceBatchSize, len(candidates))
		batch := candidates[start:end]

		referenced, err := j.images.ExistingImageKeys(ctx, batch)
		if err != nil {
			return deleted, fmt.Errorf("画像参照の照合に失敗: %w", err)
		}
		for _, key := range batch {
			if referenced[key] {
				continue
			}
			if err := j.store.Delete(ctx, key); err != nil {
				j.logger.Warn("孤立画像を削除できませんでした",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
				continue
			}
			deleted++
		}
	}

	j.metrics.RecordCleanupDeleted(KindImages, deleted)
	return deleted, nil
}

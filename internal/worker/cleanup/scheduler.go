package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	// DefaultSchedule はクリーンアップの既定の実行間隔。
	DefaultSchedule = "@every 1h"
	// runTimeout は1回の実行に許す最大時間。
	runTimeout = 10 * time.Minute
)

// Scheduler はCleanupJobをcron式に従って実行する。
// 前回の実行が終わっていない場合、その回はスキップする。
type Scheduler struct {
	ctx    context.Context
	cron   *cron.Cron
	job    *CleanupJob
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewScheduler はSchedulerを生成する。ctxがキャンセルされると実行中のジョブも中断される。
func NewScheduler(ctx context.Context, job *CleanupJob, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	return &Scheduler{ctx: ctx, cron: c, job: job, logger: logger}
}

// Start はspecで指定したスケジュールでジョブを登録し、起動直後に1回実行する。
func (s *Scheduler) Start(spec string) error {
	if spec == "" {
		spec = DefaultSchedule
	}
	id, err := s.cron.AddFunc(spec, s.runOnce)
	if err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", spec, err)
	}

	s.logger.Info("クリーンアップスケジューラを開始しました", slog.String("schedule", spec))
	s.cron.Start()

	// 初回もSkipIfStillRunningを通して定期実行と重ならないようにする
	job := s.cron.Entry(id).WrappedJob
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		job.Run()
	}()
	return nil
}

// Stop は新規実行を止め、実行中のジョブの終了を待つ。
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("クリーンアップスケジューラを停止しました")
}

func (s *Scheduler) runOnce() {
	if s.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, runTimeout)
	defer cancel()

	if err := s.job.Run(ctx); err != nil {
		s.logger.Error("クリーンアップジョブの実行に失敗しました", slog.String("error", err.Error()))
	}
}

// Package syncer はカートと住所のバックグラウンド同期を提供する。
// 一定間隔でサーバーから取得し直し、他の端末での変更をローカルに反映する。
package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Target は同期対象のストア。
type Target struct {
	Name string
	Sync func(ctx context.Context) error
}

// Session はスケジューラが参照するセッションのインターフェース。
type Session interface {
	IsLoggedIn() bool
	Generation() uint64
}

// targetState は同期対象ごとの失敗状況。
type targetState struct {
	consecutiveErrors int
	nextRunAt         time.Time
	stoppedGen        uint64 // 0以外の場合、このセッション世代の間は同期しない
}

// Scheduler は同期対象を一定間隔で並列に同期する。
// 失敗した対象は指数バックオフで間隔を空け、認証エラーの対象はセッションが変わるまで止める。
type Scheduler struct {
	session Session
	targets []Target
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	states map[string]*targetState
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(session Session, targets []Target, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	states := make(map[string]*targetState, len(targets))
	for _, t := range targets {
		states[t.Name] = &targetState{}
	}
	return &Scheduler{
		session: session,
		targets: targets,
		logger:  logger,
		now:     time.Now,
		states:  states,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("同期スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("target_count", len(s.targets)),
	)

	// 起動直後に1回実行
	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("同期スケジューラを停止しました")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce は実行時刻に達した同期対象を並列に1回ずつ同期する。
// 未ログインの場合は何もしない。同期した対象の数を返す。
func (s *Scheduler) RunOnce(ctx context.Context) int {
	if !s.session.IsLoggedIn() {
		s.logger.Debug("未ログインのため同期をスキップします")
		return 0
	}
	gen := s.session.Generation()
	start := s.now()

	due := s.dueTargets(gen, start)
	if len(due) == 0 {
		return 0
	}

	var wg sync.WaitGroup
	for _, t := range due {
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			s.record(t.Name, gen, t.Sync(ctx))
		}(t)
	}
	wg.Wait()

	s.logger.Info("同期サイクルが完了しました",
		slog.Int("target_count", len(due)),
		slog.Float64("duration_ms", float64(s.now().Sub(start).Milliseconds())),
	)
	return len(due)
}

func (s *Scheduler) dueTargets(gen uint64, now time.Time) []Target {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Target
	for _, t := range s.targets {
		st := s.states[t.Name]
		if st.stoppedGen != 0 {
			if st.stoppedGen == gen {
				continue
			}
			// セッションが変わったため再開する
			*st = targetState{}
		}
		if now.Before(st.nextRunAt) {
			continue
		}
		due = append(due, t)
	}
	return due
}

func (s *Scheduler) record(name string, gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[name]

	switch Classify(err) {
	case OutcomeOK:
		*st = targetState{}
		return
	case OutcomeStop:
		st.stoppedGen = gen
		s.logger.Warn("認証エラーのため再ログインまで同期を停止します",
			slog.String("target", name),
			slog.String("error", err.Error()),
		)
	case OutcomeBackoff:
		st.consecutiveErrors++
		delay := CalculateBackoff(st.consecutiveErrors)
		st.nextRunAt = s.now().Add(delay)
		s.logger.Warn("同期に失敗したため間隔を空けます",
			slog.String("target", name),
			slog.Int("consecutive_errors", st.consecutiveErrors),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)
	case OutcomeSkip:
		s.logger.Warn("同期に失敗しました",
			slog.String("target", name),
			slog.String("error", err.Error()),
		)
	}
}

package blob

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "print_kiosk_blob_sweep_runs_total",
		Help: "Upload sweeper runs",
	})
	sweepDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "print_kiosk_blob_sweep_deleted_total",
		Help: "Upload files removed by the sweeper",
	})
)

// SweepResult 一次清理的结果。
type SweepResult struct {
	Deleted int
	Errors  int
}

// Sweep 删除 Root 下修改时间早于 now-maxAge 的普通文件。
// 文件记录仍保留在库里，过期文件不再可打印。
func (l LocalFS) Sweep(maxAge time.Duration, now time.Time) (SweepResult, error) {
	var res SweepResult
	cutoff := now.Add(-maxAge)

	err := filepath.WalkDir(l.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			res.Errors++
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			res.Errors++
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			res.Errors++
			return nil
		}
		res.Deleted++
		return nil
	})
	return res, err
}

// Sweeper 周期性调用 Sweep，启动后立即执行一次。
type Sweeper struct {
	fs       LocalFS
	maxAge   time.Duration
	interval time.Duration
	logger   *slog.Logger
}

func NewSweeper(l LocalFS, maxAge, interval time.Duration) *Sweeper {
	return &Sweeper{
		fs:       l,
		maxAge:   maxAge,
		interval: interval,
		logger:   slog.Default().With("component", "blob_sweeper"),
	}
}

// Run 阻塞直到 ctx 取消。
func (s *Sweeper) Run(ctx context.Context) {
	s.RunOnce()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce()
		}
	}
}

func (s *Sweeper) RunOnce() SweepResult {
	sweepRunsTotal.Inc()
	res, err := s.fs.Sweep(s.maxAge, time.Now())
	sweepDeletedTotal.Add(float64(res.Deleted))
	if err != nil {
		s.logger.Error("upload sweep failed", "error", err)
		return res
	}
	if res.Deleted > 0 || res.Errors > 0 {
		s.logger.Info("upload sweep finished", "deleted", res.Deleted, "errors", res.Errors)
	}
	return res
}

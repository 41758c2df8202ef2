// Package printqueue 是唯一允许触发物理打印的组件。
//
// 所有订单共享一个 FIFO 队列，至多一个 worker goroutine 串行消费，
// 保证同一时刻只有一个文档在打印。失败任务追加到队尾重试（给其他任务让路），
// 达到最大尝试次数后标记 failed。终态结果通过 Results() 通道通知订单状态机。
package printqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"print_kiosk/internal/model"
	"print_kiosk/internal/printer"

	"github.com/google/uuid"
)

var (
	ErrJobNotFound       = errors.New("print job not found")
	ErrAlreadyInProgress = errors.New("print job already in progress")
	ErrClosed            = errors.New("print queue closed")
)

const (
	DefaultMaxAttempts  = 3
	defaultResultBuffer = 64
)

// Config 队列参数。Timeout 为单次打印调用上限，0 表示不限。
type Config struct {
	MaxAttempts  int
	Timeout      time.Duration
	ResultBuffer int
}

// Result 任务终态通知。
type Result struct {
	JobID    string
	OrderID  string
	Status   model.JobStatus
	Attempts int
	Error    string
}

// Snapshot 任务当前状态。Position 从 1 开始，正在打印的任务位于 1。
type Snapshot struct {
	JobID    string          `json:"job_id"`
	Status   model.JobStatus `json:"status"`
	Position int             `json:"position"`
	Attempts int             `json:"attempts"`
	Error    string          `json:"error,omitempty"`
}

// Queue 打印队列。入队、出队、重试追加都在同一把锁内完成；
// worker 是否在运行的检查与置位也在这把锁内，避免出现两个 worker。
type Queue struct {
	driver      printer.Driver
	maxAttempts int
	timeout     time.Duration

	mu      sync.Mutex
	pending []*model.PrintJob
	jobs    map[string]*model.PrintJob
	running bool
	closed  bool

	results     chan Result
	resultsOnce sync.Once
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	newID       func() string
}

// New 创建队列；worker 在第一次入队时按需启动。
func New(driver printer.Driver, cfg Config) *Queue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.ResultBuffer <= 0 {
		cfg.ResultBuffer = defaultResultBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		driver:      driver,
		maxAttempts: cfg.MaxAttempts,
		timeout:     cfg.Timeout,
		jobs:        make(map[string]*model.PrintJob),
		results:     make(chan Result, cfg.ResultBuffer),
		ctx:         ctx,
		cancel:      cancel,
		newID:       newJobID,
	}
}

// newJobID 生成 JOB_<毫秒时间戳>_<随机串>。
func newJobID() string {
	return fmt.Sprintf("JOB_%d_%s", time.Now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:9])
}

// Results 终态通知通道，由订单状态机消费。
func (q *Queue) Results() <-chan Result { return q.results }

// Enqueue 追加任务并在 worker 空闲时唤醒它，不阻塞。
func (q *Queue) Enqueue(job model.PrintJob) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return "", ErrClosed
	}

	j := job
	j.JobID = q.newID()
	j.Status = model.JobQueued
	j.Attempts = 0
	j.Error = ""
	j.CreatedAt = time.Now()
	j.StartedAt = nil

	q.pending = append(q.pending, &j)
	q.jobs[j.JobID] = &j
	queueDepth.Set(float64(len(q.pending)))

	if !q.running {
		q.running = true
		q.wg.Add(1)
		go q.drain()
	}
	return j.JobID, nil
}

// Status 查询任务状态；任务进入终态后即被丢弃，返回 ErrJobNotFound。
func (q *Queue) Status(jobID string) (Snapshot, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[jobID]
	if !ok {
		return Snapshot{}, ErrJobNotFound
	}
	return Snapshot{
		JobID:    j.JobID,
		Status:   j.Status,
		Position: q.indexLocked(jobID) + 1,
		Attempts: j.Attempts,
		Error:    j.Error,
	}, nil
}

// Cancel 仅能取消仍在排队的任务；打印中的任务返回 ErrAlreadyInProgress。
func (q *Queue) Cancel(jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if j.Status != model.JobQueued {
		return ErrAlreadyInProgress
	}
	q.removeLocked(jobID)
	delete(q.jobs, jobID)
	j.Status = model.JobCancelled
	jobsTotal.WithLabelValues(string(model.JobCancelled)).Inc()
	queueDepth.Set(float64(len(q.pending)))
	return nil
}

// Len 当前队列长度（含正在打印的任务）。
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close 停止接收新任务并等待 worker 退出。正在进行的打印会收到取消信号，
// 仍在排队的任务不再执行。Results() 随后被关闭。
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	q.closeResults()
}

// Shutdown 停止接收新任务，等队列中已有任务（含重试）全部进入终态后关闭
// Results()。ctx 到期时退化为 Close 并返回 ctx.Err()，
// 此时未打印的任务被放弃，对应订单停留在 printing。
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		q.closeResults()
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		left := len(q.pending)
		q.mu.Unlock()
		slog.Warn("print queue drain timed out, abandoning jobs", "pending", left)
		q.Close()
		return ctx.Err()
	}
}

func (q *Queue) closeResults() {
	q.resultsOnce.Do(func() { close(q.results) })
}

func (q *Queue) drain() {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if len(q.pending) == 0 || q.ctx.Err() != nil {
			q.running = false
			q.mu.Unlock()
			return
		}
		job := q.pending[0]
		now := time.Now()
		job.Status = model.JobPrinting
		job.StartedAt = &now
		filePath := job.FilePath
		opts := printer.BuildOptions(job.Settings)
		q.mu.Unlock()

		slog.Info("print job started", "job_id", job.JobID, "order_id", job.OrderID, "attempt", job.Attempts+1)
		err := q.printOnce(filePath, opts)
		printDuration.Observe(time.Since(now).Seconds())

		if res, done := q.settle(job, err); done {
			q.notify(res)
		}
	}
}

// settle 记录一次打印结果，返回是否进入终态。
func (q *Queue) settle(job *model.PrintJob, err error) (Result, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.removeLocked(job.JobID)
	defer func() { queueDepth.Set(float64(len(q.pending))) }()

	if err == nil {
		job.Status = model.JobCompleted
		delete(q.jobs, job.JobID)
		jobsTotal.WithLabelValues(string(model.JobCompleted)).Inc()
		slog.Info("print job completed", "job_id", job.JobID, "order_id", job.OrderID)
		return resultOf(job), true
	}

	job.Attempts++
	job.Error = err.Error()
	if job.Attempts < q.maxAttempts && q.ctx.Err() == nil {
		// 追加到队尾而不是原地重试
		job.Status = model.JobQueued
		q.pending = append(q.pending, job)
		jobsTotal.WithLabelValues("retried").Inc()
		slog.Warn("print job failed, requeued", "job_id", job.JobID, "attempts", job.Attempts, "error", err)
		return Result{}, false
	}

	job.Status = model.JobFailed
	delete(q.jobs, job.JobID)
	jobsTotal.WithLabelValues(string(model.JobFailed)).Inc()
	slog.Error("print job failed permanently", "job_id", job.JobID, "order_id", job.OrderID, "attempts", job.Attempts, "error", err)
	return resultOf(job), true
}

func resultOf(j *model.PrintJob) Result {
	return Result{JobID: j.JobID, OrderID: j.OrderID, Status: j.Status, Attempts: j.Attempts, Error: j.Error}
}

// printOnce 调用设备并把一切失败（超时、panic）归一为 printer.ErrDevice。
func (q *Queue) printOnce(filePath string, opts printer.Options) (err error) {
	ctx := q.ctx
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: driver panic: %v", printer.ErrDevice, r)
		}
	}()

	err = q.driver.Print(ctx, filePath, opts)
	if err != nil && !errors.Is(err, printer.ErrDevice) {
		err = fmt.Errorf("%w: %v", printer.ErrDevice, err)
	}
	return err
}

func (q *Queue) notify(r Result) {
	select {
	case q.results <- r:
	case <-q.ctx.Done():
	}
}

func (q *Queue) indexLocked(jobID string) int {
	for i, j := range q.pending {
		if j.JobID == jobID {
			return i
		}
	}
	return -1
}

func (q *Queue) removeLocked(jobID string) {
	if i := q.indexLocked(jobID); i >= 0 {
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
	}
}

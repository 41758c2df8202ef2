package printer

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Simulated 演示模式设备：每次打印固定延迟后成功。
// FailFirst 可让前 N 次调用失败，用于演练重试路径。
type Simulated struct {
	Latency time.Duration

	mu        sync.Mutex
	failFirst int
	failAll   bool
	calls     int
	last      Options
}

// NewSimulated 创建模拟设备。
func NewSimulated(latency time.Duration) *Simulated {
	return &Simulated{Latency: latency}
}

// FailFirst 让接下来的 n 次打印失败。
func (s *Simulated) FailFirst(n int) {
	s.mu.Lock()
	s.failFirst = n
	s.mu.Unlock()
}

// FailAlways 让所有打印失败（false 恢复）。
func (s *Simulated) FailAlways(on bool) {
	s.mu.Lock()
	s.failAll = on
	s.mu.Unlock()
}

// Calls 返回累计 Print 调用次数。
func (s *Simulated) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// LastOptions 返回最近一次 Print 收到的参数。
func (s *Simulated) LastOptions() Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Simulated) Print(ctx context.Context, filePath string, opts Options) error {
	s.mu.Lock()
	s.calls++
	s.last = opts
	fail := s.failAll || s.failFirst > 0
	if s.failFirst > 0 {
		s.failFirst--
	}
	s.mu.Unlock()

	slog.Debug("simulating print job", "file", filePath, "copies", opts.Copies, "color", opts.Color, "pages", opts.Pages)

	if s.Latency > 0 {
		timer := time.NewTimer(s.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return deviceError("simulated print interrupted: %v", ctx.Err())
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return deviceError("simulated print interrupted: %v", err)
	}

	if fail {
		return deviceError("simulated paper jam")
	}
	return nil
}

func (s *Simulated) Status(context.Context) DeviceStatus {
	return DeviceStatus{Online: true, Name: "Mock_Printer_Demo", DemoMode: true}
}

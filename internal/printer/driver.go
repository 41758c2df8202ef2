// Package printer 抽象物理打印设备：真实设备走系统打印队列（lp），
// 演示模式使用固定延迟的模拟设备。选择哪种由配置决定。
package printer

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"print_kiosk/internal/model"
)

// ErrDevice 设备侧瞬时错误（含超时），由打印队列负责重试。
var ErrDevice = errors.New("print device error")

// Options 传给设备的打印参数。
type Options struct {
	Color     bool
	Copies    int
	Duplex    string // "" 单面，"long" 长边翻转双面
	Pages     string
	PaperSize model.PaperSize
}

// BuildOptions 将订单打印参数映射为设备参数。
func BuildOptions(s model.PrintSettings) Options {
	s = s.Normalize()
	opts := Options{
		Color:     s.Color != model.ColorBW,
		Copies:    max(s.Copies, 1),
		Pages:     s.PageRange,
		PaperSize: s.PaperSize,
	}
	if s.Sides == model.SidesDouble {
		opts.Duplex = "long"
	}
	return opts
}

// DeviceStatus 设备在线状态，供 /api/status 展示。
type DeviceStatus struct {
	Online   bool   `json:"online"`
	Name     string `json:"name,omitempty"`
	DemoMode bool   `json:"demo_mode"`
	Message  string `json:"message,omitempty"`
}

// Driver 打印设备。Print 必须尊重 ctx 的取消与超时。
type Driver interface {
	Print(ctx context.Context, filePath string, opts Options) error
	Status(ctx context.Context) DeviceStatus
}

// deviceError 包装为 ErrDevice，保留原始错误信息。
func deviceError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDevice, fmt.Sprintf(format, args...))
}

// lpArgs 生成 CUPS lp 命令行参数。
func lpArgs(printerName, filePath string, opts Options) []string {
	args := make([]string, 0, 12)
	if printerName != "" {
		args = append(args, "-d", printerName)
	}
	args = append(args, "-n", strconv.Itoa(max(opts.Copies, 1)))
	if opts.Pages != "" {
		args = append(args, "-P", opts.Pages)
	}
	if opts.Duplex == "long" {
		args = append(args, "-o", "sides=two-sided-long-edge")
	} else {
		args = append(args, "-o", "sides=one-sided")
	}
	if !opts.Color {
		args = append(args, "-o", "print-color-mode=monochrome")
	}
	media := "A4"
	if opts.PaperSize == model.PaperLetter {
		media = "Letter"
	}
	args = append(args, "-o", "media="+media, "--", filePath)
	return args
}

package printer

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// Spooler 通过系统 CUPS 命令（lp / lpstat）驱动真实打印机。
type Spooler struct {
	PrinterName string
	LPPath      string
	LPStatPath  string
}

// NewSpooler 创建真实设备驱动；printerName 为空时使用系统默认打印机。
func NewSpooler(printerName string) *Spooler {
	return &Spooler{PrinterName: printerName, LPPath: "lp", LPStatPath: "lpstat"}
}

func (s *Spooler) Print(ctx context.Context, filePath string, opts Options) error {
	cmd := exec.CommandContext(ctx, s.LPPath, lpArgs(s.PrinterName, filePath, opts)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return deviceError("lp: %v", ctxErr)
		}
		return deviceError("lp: %v: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (s *Spooler) Status(ctx context.Context) DeviceStatus {
	args := []string{"-d"}
	if s.PrinterName != "" {
		args = []string{"-p", s.PrinterName}
	}
	out, err := exec.CommandContext(ctx, s.LPStatPath, args...).CombinedOutput()
	if err != nil {
		return DeviceStatus{Online: false, Name: s.PrinterName, Message: "no printers available"}
	}
	msg := strings.TrimSpace(string(out))
	if strings.Contains(msg, "no system default") {
		return DeviceStatus{Online: false, Message: msg}
	}
	return DeviceStatus{Online: true, Name: s.PrinterName, Message: msg}
}

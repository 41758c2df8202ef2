// Package pricing 计算订单金额：计费页数 × 份数 × 单价。
package pricing

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"print_kiosk/internal/model"
)

// ErrInvalidSettings 打印参数不合法，调用方应在任何状态变更前拒绝。
var ErrInvalidSettings = errors.New("invalid print settings")

const (
	DefaultPriceBW    int64 = 2
	DefaultPriceColor int64 = 8

	// MaxCopies 单笔订单份数上限。
	MaxCopies = 999
	// MaxPages 单个文档页数上限，上传与计价共用。
	MaxPages = 10000
)

// Engine 持有单价表，零值不可用，请用 New 或 Default。
type Engine struct {
	prices map[model.ColorMode]int64
}

// New 用给定单价构造计价器。
func New(priceBW, priceColor int64) *Engine {
	return &Engine{prices: map[model.ColorMode]int64{
		model.ColorBW:    priceBW,
		model.ColorColor: priceColor,
	}}
}

// Default 黑白 2、彩色 8。
func Default() *Engine { return New(DefaultPriceBW, DefaultPriceColor) }

// Validate 只校验参数本身，不涉及页数。
func (e *Engine) Validate(s model.PrintSettings) error {
	if s.Copies < 1 || s.Copies > MaxCopies {
		return fmt.Errorf("%w: copies must be in [1, %d], got %d", ErrInvalidSettings, MaxCopies, s.Copies)
	}
	if _, ok := e.prices[s.Color]; !ok {
		return fmt.Errorf("%w: unknown color %q", ErrInvalidSettings, s.Color)
	}
	switch s.Sides {
	case "", model.SidesSingle, model.SidesDouble:
	default:
		return fmt.Errorf("%w: unknown sides %q", ErrInvalidSettings, s.Sides)
	}
	switch s.PaperSize {
	case "", model.PaperA4, model.PaperLetter:
	default:
		return fmt.Errorf("%w: unknown paper size %q", ErrInvalidSettings, s.PaperSize)
	}
	return nil
}

// ComputeAmount 纯函数：同样的输入总是得到同样的非负金额。
func (e *Engine) ComputeAmount(pageCount int, s model.PrintSettings) (int64, error) {
	if err := e.Validate(s); err != nil {
		return 0, err
	}
	if pageCount < 0 || pageCount > MaxPages {
		return 0, fmt.Errorf("%w: page count must be in [0, %d], got %d", ErrInvalidSettings, MaxPages, pageCount)
	}
	pages := BillablePages(s.PageRange, pageCount)
	sheets, ok := mulNonNeg(int64(pages), int64(s.Copies))
	if !ok {
		return 0, fmt.Errorf("%w: amount overflows", ErrInvalidSettings)
	}
	amount, ok := mulNonNeg(sheets, e.prices[s.Color])
	if !ok {
		return 0, fmt.Errorf("%w: amount overflows", ErrInvalidSettings)
	}
	return amount, nil
}

// mulNonNeg 两个非负数相乘，溢出或出现负数时返回 false。
func mulNonNeg(a, b int64) (int64, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	if a != 0 && b > math.MaxInt64/a {
		return 0, false
	}
	return a * b, true
}

// PricePerPage 返回色彩模式对应单价，未知模式返回 false。
func (e *Engine) PricePerPage(c model.ColorMode) (int64, bool) {
	p, ok := e.prices[c]
	return p, ok
}

// BillablePages 按页码范围计算计费页数。
// 空范围按全文计费；单页超出文档长度记 0；区间按文档长度截断，
// 越界或倒置区间记 0；无法解析的片段记 0。
func BillablePages(pageRange string, pageCount int) int {
	if strings.TrimSpace(pageRange) == "" {
		return pageCount
	}

	total := 0
	for _, tok := range strings.Split(pageRange, ",") {
		total += countToken(strings.TrimSpace(tok), pageCount)
	}
	return max(total, 0)
}

func countToken(tok string, pageCount int) int {
	start, end, ok := clampToken(tok, pageCount)
	if !ok {
		return 0
	}
	return end - start + 1
}

// NormalizeRange 把用户输入的范围改写成设备能直接使用的形式，
// 与 BillablePages 逐片段一致：只保留有效片段并按文档长度截断。
// 空范围展开为 1-pageCount；没有任何有效页时返回空串。
func NormalizeRange(pageRange string, pageCount int) string {
	if pageCount < 1 {
		return ""
	}
	if strings.TrimSpace(pageRange) == "" {
		return formatSpan(1, pageCount)
	}

	var parts []string
	for _, tok := range strings.Split(pageRange, ",") {
		start, end, ok := clampToken(strings.TrimSpace(tok), pageCount)
		if !ok {
			continue
		}
		parts = append(parts, formatSpan(start, end))
	}
	return strings.Join(parts, ",")
}

func formatSpan(start, end int) string {
	if start == end {
		return strconv.Itoa(start)
	}
	return fmt.Sprintf("%d-%d", start, end)
}

// clampToken 解析单个片段并截断到 [1, pageCount]，无有效页时 ok 为 false。
func clampToken(tok string, pageCount int) (start, end int, ok bool) {
	if tok == "" {
		return 0, 0, false
	}
	startStr, endStr, isRange := strings.Cut(tok, "-")
	if !isRange {
		n, err := strconv.Atoi(tok)
		if err != nil || n < 1 || n > pageCount {
			return 0, 0, false
		}
		return n, n, true
	}

	s, err := strconv.Atoi(strings.TrimSpace(startStr))
	if err != nil {
		return 0, 0, false
	}
	e, err := strconv.Atoi(strings.TrimSpace(endStr))
	if err != nil {
		return 0, 0, false
	}
	start, end = max(s, 1), min(e, pageCount)
	if end < start {
		return 0, 0, false
	}
	return start, end, true
}

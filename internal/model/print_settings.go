package model

// ColorMode 打印色彩模式。
type ColorMode string

const (
	ColorBW    ColorMode = "bw"
	ColorColor ColorMode = "color"
)

// Sides 单双面。
type Sides string

const (
	SidesSingle Sides = "single"
	SidesDouble Sides = "double"
)

// PaperSize 纸张尺寸。
type PaperSize string

const (
	PaperA4     PaperSize = "A4"
	PaperLetter PaperSize = "Letter"
)

// PrintSettings 随订单一起保存的打印参数（值类型）。
type PrintSettings struct {
	Color     ColorMode `json:"color"`
	Copies    int       `json:"copies"`
	Sides     Sides     `json:"sides,omitempty"`
	PageRange string    `json:"page_range,omitempty"`
	PaperSize PaperSize `json:"paper_size,omitempty"`
}

// Normalize 填充缺省值：单面、A4。
func (s PrintSettings) Normalize() PrintSettings {
	if s.Sides == "" {
		s.Sides = SidesSingle
	}
	if s.PaperSize == "" {
		s.PaperSize = PaperA4
	}
	return s
}

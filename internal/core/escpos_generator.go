package core

import (
	"errors"
	"fmt"

	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
)

type QRMode string

const (
	QRModeNative QRMode = "native"
	QRModeRaster QRMode = "raster"
)

const (
	qrModuleSize   = 4
	qrErrorLevelL  = 0x30 // fn 69 levels: 0x30 L, 0x31 M, 0x32 Q, 0x33 H
	qrRasterPixels = 256
)

var (
	cmdInitialize    = []byte{0x1b, 0x40}
	cmdNormalMode    = []byte{0x1b, 0x21, 0x00}
	cmdBoldOn        = []byte{0x1b, 0x21, 0x08}
	cmdBoldOff       = []byte{0x1b, 0x21, 0x00}
	cmdLineFeed      = []byte{0x0a}
	cmdCodePage437   = []byte{0x1b, 0x74, 0x00}
	cmdNormalSize    = []byte{0x1d, 0x21, 0x00}
	cmdChineseOn     = []byte{0x1c, 0x26}
	cmdChineseOff    = []byte{0x1c, 0x2e}
	cmdChineseNoGap  = []byte{0x1c, 0x53, 0x00, 0x00}
	cmdOpenDrawer    = []byte{0x1b, 0x70, 0x00, 0x19, 0xfa}
	cmdFeedAndCut    = []byte{0x1d, 0x56, 0x42, 0x66}
	cmdQRPrint       = []byte{0x1d, 0x28, 0x6b, 0x03, 0x00, 0x31, 0x51, 0x30}
	cmdRasterPrefix  = []byte{0x1d, 0x76, 0x30, 0x00}
	cmdQRSizePrefix  = []byte{0x1d, 0x28, 0x6b, 0x03, 0x00, 0x31, 0x43}
	cmdQRLevelPrefix = []byte{0x1d, 0x28, 0x6b, 0x03, 0x00, 0x31, 0x45}
)

func join(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// InitSequence resets the device to left aligned, code page 0, normal size text.
func InitSequence() []byte {
	return join(cmdInitialize, cmdNormalMode, []byte{0x1b, 0x61, 0x00}, cmdCodePage437, cmdNormalSize)
}

func SelectAlignment(a Alignment) []byte {
	return []byte{0x1b, 0x61, a.Code()}
}

// SelectFontScale builds GS ! n with both multipliers clamped to 1..8.
func SelectFontScale(widthMult, heightMult int) []byte {
	widthMult = clamp(widthMult, 1, 8)
	heightMult = clamp(heightMult, 1, 8)
	n := byte(widthMult-1) | byte(heightMult-1)<<4
	return []byte{0x1d, 0x21, n}
}

func SelectFontSize(f FontSize) []byte {
	return SelectFontScale(f.Multipliers())
}

func FeedLines(n int) []byte {
	return []byte{0x1b, 0x64, byte(clamp(n, 0, 255))}
}

func RasterCommand(r *Raster) []byte {
	header := join(cmdRasterPrefix, []byte{
		byte(r.WidthBytes), byte(r.WidthBytes >> 8),
		byte(r.Height), byte(r.Height >> 8),
	})
	return join(header, r.Data)
}

func QRCommands(data string) [][]byte {
	payload := []byte(data)
	n := len(payload) + 3
	store := join([]byte{0x1d, 0x28, 0x6b, byte(n), byte(n >> 8), 0x31, 0x50, 0x30}, payload)
	return [][]byte{
		join(cmdQRSizePrefix, []byte{qrModuleSize}),
		join(cmdQRLevelPrefix, []byte{qrErrorLevelL}),
		store,
		cmdQRPrint,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type charset struct {
	name    string
	encoder *encoding.Encoder
}

func cp437Charset() charset {
	return charset{name: "CP437", encoder: encoding.ReplaceUnsupported(charmap.CodePage437.NewEncoder())}
}

func gbkCharset() charset {
	return charset{name: "GBK", encoder: encoding.ReplaceUnsupported(simplifiedchinese.GBK.NewEncoder())}
}

func (c charset) encode(s string) ([]byte, error) {
	b, err := c.encoder.Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s text: %w", c.name, err)
	}
	return b, nil
}

type EncoderOptions struct {
	DotWidth       int
	MaxImageHeight int
	QRMode         QRMode
}

// ESCPOSGenerator turns print items into the ordered byte chunks sent to the device.
type ESCPOSGenerator struct {
	rasterizer *Rasterizer
	qrMode     QRMode
	logger     *zap.Logger
}

func NewESCPOSGenerator(opts EncoderOptions, logger *zap.Logger) *ESCPOSGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	mode := opts.QRMode
	if mode == "" {
		mode = QRModeNative
	}
	return &ESCPOSGenerator{
		rasterizer: NewRasterizer(opts.DotWidth, opts.MaxImageHeight),
		qrMode:     mode,
		logger:     logger,
	}
}

func (g *ESCPOSGenerator) DotWidth() int {
	return g.rasterizer.DotWidth
}

// Generate always yields a complete command list. Items that cannot be rendered are
// replaced by a single line feed and reported through the returned error.
func (g *ESCPOSGenerator) Generate(items []PrintItem) ([][]byte, error) {
	out := [][]byte{InitSequence()}
	var errs []error

	for i := range items {
		item := &items[i]
		out = append(out, SelectFontSize(item.FontSize))

		chunks, err := g.generateItem(item)
		if err != nil {
			encErr := &EncodingError{Index: i, Type: item.Type, Err: err}
			g.logger.Warn("item degraded to line feed", zap.Error(encErr))
			errs = append(errs, encErr)
			chunks = [][]byte{cmdLineFeed}
		}
		out = append(out, chunks...)
	}

	return out, errors.Join(errs...)
}

func (g *ESCPOSGenerator) generateItem(item *PrintItem) ([][]byte, error) {
	switch item.Type {
	case ItemText:
		return g.generateText(item)
	case ItemColumn:
		return g.generateColumns(item)
	case ItemImage:
		return g.generateImage(item)
	case ItemQRCode:
		return g.generateQRCode(item)
	case ItemCashbox:
		return [][]byte{cmdOpenDrawer}, nil
	case ItemFeed:
		return [][]byte{FeedLines(item.Lines)}, nil
	case ItemCut:
		return [][]byte{cmdFeedAndCut}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedItem, item.Type)
	}
}

func selectCharset(wide bool, singleByteCodePage bool) (charset, [][]byte) {
	if wide {
		return gbkCharset(), [][]byte{cmdChineseOn, cmdChineseNoGap}
	}
	if singleByteCodePage {
		return cp437Charset(), [][]byte{cmdChineseOff, cmdCodePage437}
	}
	return cp437Charset(), [][]byte{cmdChineseOff}
}

func (g *ESCPOSGenerator) generateText(item *PrintItem) ([][]byte, error) {
	cs, out := selectCharset(ContainsWide(item.Text), false)
	out = append(out, SelectAlignment(item.Alignment))

	if item.Bold {
		out = append(out, cmdBoldOn)
	} else {
		out = append(out, cmdBoldOff)
	}

	for _, line := range Wrap(item.Text, LineWidth(item.FontSize), item.WrapWords) {
		b, err := cs.encode(line)
		if err != nil {
			return nil, err
		}
		out = append(out, b, cmdLineFeed)
	}

	if item.Bold {
		out = append(out, cmdBoldOff)
	}
	return append(out, cmdLineFeed), nil
}

func (g *ESCPOSGenerator) generateColumns(item *PrintItem) ([][]byte, error) {
	cs, out := selectCharset(ColumnsContainWide(item.Columns), true)

	if item.Bold {
		out = append(out, cmdBoldOn)
	}
	for _, row := range ComposeColumns(item.Columns) {
		b, err := cs.encode(row)
		if err != nil {
			return nil, err
		}
		out = append(out, SelectAlignment(AlignLeft), b, cmdLineFeed)
	}
	if item.Bold {
		out = append(out, cmdBoldOff)
	}
	return out, nil
}

func (g *ESCPOSGenerator) generateImage(item *PrintItem) ([][]byte, error) {
	r := g.rasterizer
	if item.DotWidth > 0 && item.DotWidth != r.DotWidth {
		r = NewRasterizer(item.DotWidth, r.MaxHeight)
	}
	raster, err := r.Rasterize(item.Image, item.WidthPercent, item.FullWidth, item.Alignment)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageEncoding, err)
	}
	return [][]byte{RasterCommand(raster), cmdLineFeed}, nil
}

func (g *ESCPOSGenerator) generateQRCode(item *PrintItem) ([][]byte, error) {
	if g.qrMode == QRModeRaster {
		code, err := qrcode.New(item.Text, qrcode.Medium)
		if err != nil {
			return nil, fmt.Errorf("failed to build qr code: %w", err)
		}
		canvas := g.rasterizer.Place(code.Image(qrRasterPixels), item.Alignment)
		return [][]byte{RasterCommand(Threshold(canvas)), cmdLineFeed}, nil
	}

	out := [][]byte{SelectAlignment(item.Alignment)}
	out = append(out, QRCommands(item.Text)...)
	return append(out, cmdLineFeed), nil
}

// Flatten concatenates command chunks into a single payload.
func Flatten(chunks [][]byte) []byte {
	return join(chunks...)
}

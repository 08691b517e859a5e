package core

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const defaultColumnWidth = 10

type ColumnRequest struct {
	Text      string `json:"text"`
	Width     *int   `json:"width,omitempty"`
	Alignment string `json:"alignment"`
	WrapWords bool   `json:"wrapWords"`
}

type ItemRequest struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Bold      bool            `json:"bold"`
	Alignment string          `json:"alignment"`
	FontSize  string          `json:"fontSize"`
	Lines     int             `json:"lines"`
	Width     *int            `json:"width,omitempty"`
	WrapWords bool            `json:"wrapWords"`
	FullWidth bool            `json:"fullWidth"`
	Image     string          `json:"image,omitempty"`
	Columns   []ColumnRequest `json:"columns,omitempty"`
}

type JobRequest struct {
	Printer     string        `json:"printer" binding:"required"`
	PrinterName string        `json:"printer_name"`
	Metadata    JobMetadata   `json:"metadata"`
	Pending     bool          `json:"pending"`
	Items       []ItemRequest `json:"items" binding:"required"`
}

// NewJobID formats "PJ-<yyyyMMddHHmmss>-<8 hex chars>".
func NewJobID(now time.Time) string {
	return fmt.Sprintf("PJ-%s-%s", now.Format("20060102150405"), uuid.NewString()[:8])
}

// DecodeImage accepts raw base64 or a data URL and decodes PNG, JPEG, GIF, BMP or WEBP.
func DecodeImage(data string) (image.Image, error) {
	if i := strings.Index(data, ","); strings.HasPrefix(data, "data:") && i >= 0 {
		data = data[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 image: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

type JobManager struct {
	queue    *Queue
	pool     DevicePool
	dotWidth int
	logger   *zap.Logger
	now      func() time.Time
}

func NewJobManager(queue *Queue, pool DevicePool, dotWidth int, logger *zap.Logger) *JobManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dotWidth <= 0 {
		dotWidth = DefaultDotWidth
	}
	return &JobManager{
		queue:    queue,
		pool:     pool,
		dotWidth: dotWidth,
		logger:   logger,
		now:      time.Now,
	}
}

func (m *JobManager) BuildJob(req *JobRequest) (*PrintJob, error) {
	target, err := ParseEndpoint(req.Printer)
	if err != nil {
		return nil, err
	}

	items, err := m.BuildItems(req.Items)
	if err != nil {
		return nil, err
	}

	name := req.PrinterName
	if name == "" && m.pool != nil {
		name = m.pool.NameOf(target)
	}
	if name == "" {
		name = DefaultPrinterName(target)
	}

	now := m.now()
	return &PrintJob{
		ID:          NewJobID(now),
		Target:      target,
		PrinterName: name,
		Pending:     req.Pending,
		Metadata:    req.Metadata,
		Items:       items,
		CreatedAt:   now,
	}, nil
}

// Submit builds the job and appends it to the queue.
func (m *JobManager) Submit(req *JobRequest) (*PrintJob, error) {
	if m.queue == nil {
		return nil, ErrQueueStopped
	}
	job, err := m.BuildJob(req)
	if err != nil {
		return nil, err
	}
	if err := m.queue.Enqueue(job); err != nil {
		return nil, err
	}
	return job, nil
}

func (m *JobManager) BuildItems(reqs []ItemRequest) ([]PrintItem, error) {
	items := make([]PrintItem, 0, len(reqs))
	for i := range reqs {
		item, err := m.buildItem(&reqs[i])
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func (m *JobManager) buildItem(r *ItemRequest) (PrintItem, error) {
	base := PrintItem{
		Type:      ItemType(strings.ToUpper(r.Type)),
		Alignment: ParseAlignment(r.Alignment),
		Bold:      r.Bold,
		FontSize:  ParseFontSize(r.FontSize),
	}

	switch base.Type {
	case ItemText:
		base.Text = r.Text
		base.WrapWords = r.WrapWords
	case ItemQRCode:
		base.Text = r.Text
	case ItemImage:
		base.DotWidth = m.dotWidth
		base.FullWidth = r.FullWidth
		base.WidthPercent = DefaultWidthPercent
		if r.Width != nil {
			base.WidthPercent = max(min(*r.Width, 100), 0)
		}
		if r.FullWidth {
			base.WidthPercent = 100
		}
		if r.Image != "" {
			img, err := DecodeImage(r.Image)
			if err != nil {
				// the encoder degrades a missing bitmap to a line feed
				m.logger.Warn("image item without bitmap", zap.Error(err))
			} else {
				base.Image = img
			}
		}
	case ItemColumn:
		base.Alignment = AlignLeft
		base.Columns = make([]ColumnItem, 0, len(r.Columns))
		for _, c := range r.Columns {
			width := defaultColumnWidth
			if c.Width != nil {
				width = *c.Width
			}
			base.Columns = append(base.Columns, ColumnItem{
				Alignment: ParseAlignment(c.Alignment),
				Width:     width,
				Lines:     Wrap(c.Text, width, c.WrapWords),
			})
		}
	case ItemFeed:
		base.Bold = false
		base.Alignment = AlignLeft
		base.Lines = r.Lines
	case ItemCashbox, ItemCut:
		base.Bold = false
		base.Alignment = AlignLeft
	default:
		return PrintItem{}, fmt.Errorf("%w: %q", ErrUnsupportedItem, r.Type)
	}
	return base, nil
}

package core

import (
	"fmt"
	"image"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPrinterPort = 9100
	InternalHost       = "INTERNAL"
)

type ItemType string

const (
	ItemText    ItemType = "TEXT"
	ItemColumn  ItemType = "COLUMN"
	ItemImage   ItemType = "IMAGE"
	ItemQRCode  ItemType = "QRCODE"
	ItemCashbox ItemType = "CASHBOX"
	ItemFeed    ItemType = "FEED"
	ItemCut     ItemType = "CUT"
)

type Alignment string

const (
	AlignLeft   Alignment = "LEFT"
	AlignCenter Alignment = "CENTER"
	AlignRight  Alignment = "RIGHT"
)

func ParseAlignment(s string) Alignment {
	switch strings.ToUpper(s) {
	case "CENTER":
		return AlignCenter
	case "RIGHT":
		return AlignRight
	default:
		return AlignLeft
	}
}

// Code returns the logical alignment value used by the device: 0 left, 1 center, 2 right.
func (a Alignment) Code() byte {
	switch a {
	case AlignCenter:
		return 1
	case AlignRight:
		return 2
	default:
		return 0
	}
}

type FontSize string

const (
	FontNormal FontSize = "NORMAL"
	FontTall   FontSize = "TALL"
	FontWide   FontSize = "WIDE"
	FontBig    FontSize = "BIG"
)

func ParseFontSize(s string) FontSize {
	switch strings.ToUpper(s) {
	case "TALL":
		return FontTall
	case "WIDE":
		return FontWide
	case "BIG":
		return FontBig
	default:
		return FontNormal
	}
}

// Multipliers returns the width and height scale factors of the font class.
func (f FontSize) Multipliers() (width, height int) {
	switch f {
	case FontWide:
		return 2, 1
	case FontTall:
		return 1, 2
	case FontBig:
		return 2, 2
	default:
		return 1, 1
	}
}

type ColumnItem struct {
	Alignment Alignment `json:"alignment"`
	Width     int       `json:"width"`
	Lines     []string  `json:"lines"`
}

// PrintItem is a tagged variant; only the fields relevant to Type are read by the encoder.
type PrintItem struct {
	Type      ItemType  `json:"type"`
	Alignment Alignment `json:"alignment"`
	Bold      bool      `json:"bold"`
	FontSize  FontSize  `json:"font_size"`

	Text      string `json:"text,omitempty"`
	WrapWords bool   `json:"wrap_words,omitempty"`

	Columns []ColumnItem `json:"columns,omitempty"`

	Image        image.Image `json:"-"`
	WidthPercent int         `json:"width_percent,omitempty"`
	FullWidth    bool        `json:"full_width,omitempty"`
	DotWidth     int         `json:"dot_width,omitempty"`

	Lines int `json:"lines,omitempty"`
}

type PrinterEndpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func NewEndpoint(host string, port int) PrinterEndpoint {
	if port == 0 {
		port = DefaultPrinterPort
	}
	return PrinterEndpoint{Host: host, Port: port}
}

// ParseEndpoint accepts "host", "host:port" or the logical INTERNAL tag.
func ParseEndpoint(s string) (PrinterEndpoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PrinterEndpoint{}, fmt.Errorf("%w: empty address", ErrInvalidEndpoint)
	}
	if strings.EqualFold(s, InternalHost) {
		return PrinterEndpoint{Host: InternalHost, Port: DefaultPrinterPort}, nil
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// no port component
		return NewEndpoint(s, 0), nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return PrinterEndpoint{}, fmt.Errorf("%w: bad port %q", ErrInvalidEndpoint, portStr)
	}
	if host == "" {
		return PrinterEndpoint{}, fmt.Errorf("%w: empty host", ErrInvalidEndpoint)
	}
	return NewEndpoint(host, port), nil
}

func (e PrinterEndpoint) IsInternal() bool {
	return e.Host == InternalHost
}

func (e PrinterEndpoint) Address() string {
	port := e.Port
	if port == 0 {
		port = DefaultPrinterPort
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(port))
}

func (e PrinterEndpoint) String() string {
	if e.IsInternal() {
		return InternalHost
	}
	return e.Address()
}

// Equal compares endpoints treating a zero port as the default port.
func (e PrinterEndpoint) Equal(o PrinterEndpoint) bool {
	return e.Host == o.Host && e.normalizedPort() == o.normalizedPort()
}

func (e PrinterEndpoint) normalizedPort() int {
	if e.Port == 0 {
		return DefaultPrinterPort
	}
	return e.Port
}

type PrinterStatus struct {
	Endpoint  PrinterEndpoint `json:"endpoint"`
	Name      string          `json:"name"`
	Reachable bool            `json:"reachable"`
	CheckedAt time.Time       `json:"checked_at"`
}

type Printer struct {
	Endpoint   PrinterEndpoint
	Name       string
	Reachable  bool
	LastSeenAt *time.Time
	AddedAt    time.Time
}

// JobMetadata is opaque to the spooler except for the "type" tag used for pacing.
type JobMetadata map[string]any

func (m JobMetadata) Type() string {
	if m == nil {
		return ""
	}
	if v, ok := m["type"].(string); ok {
		return v
	}
	return ""
}

type PrintJob struct {
	ID          string
	Target      PrinterEndpoint
	PrinterName string
	Pending     bool
	Metadata    JobMetadata
	Items       []PrintItem
	CreatedAt   time.Time
}

type JobSummary struct {
	JobID       string      `json:"job_id"`
	PrinterHost string      `json:"printer_ip"`
	PrinterPort int         `json:"printer_port"`
	PrinterName string      `json:"printer_name"`
	Metadata    JobMetadata `json:"metadata"`
	Pending     bool        `json:"pending"`
}

func (j *PrintJob) Summary() JobSummary {
	return JobSummary{
		JobID:       j.ID,
		PrinterHost: j.Target.Host,
		PrinterPort: j.Target.normalizedPort(),
		PrinterName: j.PrinterName,
		Metadata:    j.Metadata,
		Pending:     j.Pending,
	}
}

type DispatchOutcome string

const (
	OutcomeDispatched DispatchOutcome = "dispatched"
	OutcomeFailed     DispatchOutcome = "failed"
	OutcomeSkipped    DispatchOutcome = "skipped"
)

type DispatchRecord struct {
	JobID    string
	Endpoint PrinterEndpoint
	JobType  string
	Outcome  DispatchOutcome
	Error    string
	Bytes    int
	Duration time.Duration
	At       time.Time
}

// EventSink receives spooler notifications. Implementations must not block.
type EventSink interface {
	JobEnqueued(summary JobSummary)
	JobProcessed(rec DispatchRecord)
	PrinterReachability(endpoint PrinterEndpoint, name string, reachable bool)
	PrinterUnreachable(endpoint PrinterEndpoint, name string)
}

// Sinks fans every event out to each member in order.
type Sinks []EventSink

func (s Sinks) JobEnqueued(summary JobSummary) {
	for _, sink := range s {
		sink.JobEnqueued(summary)
	}
}

func (s Sinks) JobProcessed(rec DispatchRecord) {
	for _, sink := range s {
		sink.JobProcessed(rec)
	}
}

func (s Sinks) PrinterReachability(endpoint PrinterEndpoint, name string, reachable bool) {
	for _, sink := range s {
		sink.PrinterReachability(endpoint, name, reachable)
	}
}

func (s Sinks) PrinterUnreachable(endpoint PrinterEndpoint, name string) {
	for _, sink := range s {
		sink.PrinterUnreachable(endpoint, name)
	}
}

// DispatchRecorder persists the dispatch audit trail.
type DispatchRecorder interface {
	RecordDispatch(rec DispatchRecord) error
}

// PrinterStore persists the printer pool.
type PrinterStore interface {
	SavePrinter(p *Printer) error
	DeletePrinter(endpoint PrinterEndpoint) error
	LoadPrinters() ([]*Printer, error)
}

// InternalPrinter drives a built-in printer addressed by the INTERNAL host tag.
type InternalPrinter interface {
	Available() bool
	Print(data [][]byte) error
}

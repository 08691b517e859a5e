package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/thermal-spool/internal/core"
)

type WebhookEvent string

const (
	EventPrinterUnreachable WebhookEvent = "printer_unreachable"
	EventPrinterReachable   WebhookEvent = "printer_reachable"
	EventJobDispatched      WebhookEvent = "job_dispatched"
	EventJobFailed          WebhookEvent = "job_failed"
	EventJobSkipped         WebhookEvent = "job_skipped"
)

type WebhookPayload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	Signature string      `json:"signature,omitempty"`
}

type JobEventData struct {
	JobID       string `json:"job_id"`
	PrinterHost string `json:"printer_ip"`
	PrinterPort int    `json:"printer_port"`
	JobType     string `json:"job_type,omitempty"`
	Bytes       int    `json:"bytes,omitempty"`
	Duration    int64  `json:"duration_ms,omitempty"`
	Error       string `json:"error,omitempty"`
}

type PrinterEventData struct {
	PrinterHost string `json:"printer_ip"`
	PrinterPort int    `json:"printer_port"`
	PrinterName string `json:"printer_name"`
	Reachable   bool   `json:"reachable"`
}

// Target is one receiver. An empty Events list subscribes to everything.
type Target struct {
	URL    string
	Secret string
	Events []string
}

func (t Target) wants(event WebhookEvent) bool {
	if len(t.Events) == 0 {
		return true
	}
	for _, e := range t.Events {
		if e == string(event) {
			return true
		}
	}
	return false
}

type WebhookConfig struct {
	RetryCount  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	WorkerCount int
	QueueSize   int
}

type webhookTask struct {
	target  Target
	event   WebhookEvent
	payload *WebhookPayload
	attempt int
}

// WebhookSender delivers spooler events to HTTP receivers off the print path.
type WebhookSender struct {
	targets     []Target
	httpClient  *http.Client
	retryCount  int
	retryDelay  time.Duration
	workerCount int
	queue       chan *webhookTask
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	logger      *zap.Logger
	now         func() time.Time
}

func NewWebhookSender(targets []Target, config WebhookConfig, logger *zap.Logger) *WebhookSender {
	if config.RetryCount <= 0 {
		config.RetryCount = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 5 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 3
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WebhookSender{
		targets: targets,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		retryCount:  config.RetryCount,
		retryDelay:  config.RetryDelay,
		workerCount: config.WorkerCount,
		queue:       make(chan *webhookTask, config.QueueSize),
		stopCh:      make(chan struct{}),
		logger:      logger.Named("webhook"),
		now:         time.Now,
	}
}

func (s *WebhookSender) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *WebhookSender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *WebhookSender) JobEnqueued(summary core.JobSummary) {}

func (s *WebhookSender) JobProcessed(rec core.DispatchRecord) {
	data := &JobEventData{
		JobID:       rec.JobID,
		PrinterHost: rec.Endpoint.Host,
		PrinterPort: rec.Endpoint.Port,
		JobType:     rec.JobType,
		Error:       rec.Error,
	}
	switch rec.Outcome {
	case core.OutcomeDispatched:
		data.Bytes = rec.Bytes
		data.Duration = rec.Duration.Milliseconds()
		s.enqueue(EventJobDispatched, data)
	case core.OutcomeFailed:
		data.Duration = rec.Duration.Milliseconds()
		s.enqueue(EventJobFailed, data)
	case core.OutcomeSkipped:
		s.enqueue(EventJobSkipped, data)
	}
}

func (s *WebhookSender) PrinterReachability(endpoint core.PrinterEndpoint, name string, reachable bool) {
	if !reachable {
		// the deduplicated notice arrives through PrinterUnreachable
		return
	}
	s.enqueue(EventPrinterReachable, &PrinterEventData{
		PrinterHost: endpoint.Host,
		PrinterPort: endpoint.Port,
		PrinterName: name,
		Reachable:   true,
	})
}

func (s *WebhookSender) PrinterUnreachable(endpoint core.PrinterEndpoint, name string) {
	s.enqueue(EventPrinterUnreachable, &PrinterEventData{
		PrinterHost: endpoint.Host,
		PrinterPort: endpoint.Port,
		PrinterName: name,
	})
}

func (s *WebhookSender) enqueue(event WebhookEvent, data interface{}) {
	for _, target := range s.targets {
		if !target.wants(event) {
			continue
		}
		task := &webhookTask{
			target: target,
			event:  event,
			payload: &WebhookPayload{
				Event:     string(event),
				Timestamp: s.now(),
				Data:      data,
			},
		}

		select {
		case s.queue <- task:
		default:
			s.logger.Warn("queue full, dropping webhook",
				zap.String("url", target.URL), zap.String("event", string(event)))
		}
	}
}

func (s *WebhookSender) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case task := <-s.queue:
			if err := s.sendWithRetry(task); err != nil {
				s.logger.Warn("webhook delivery failed",
					zap.Int("worker", id),
					zap.String("url", task.target.URL),
					zap.String("event", string(task.event)),
					zap.Int("attempts", task.attempt),
					zap.Error(err))
			}
		}
	}
}

func (s *WebhookSender) sendWithRetry(task *webhookTask) error {
	var lastErr error
	for task.attempt < s.retryCount {
		task.attempt++

		err := s.sendRequest(task.target, task.payload)
		if err == nil {
			return nil
		}

		lastErr = err

		if isClientError(err) {
			return err
		}

		if task.attempt < s.retryCount {
			backoff := s.retryDelay * time.Duration(1<<(task.attempt-1))
			s.logger.Debug("retrying webhook",
				zap.Int("attempt", task.attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err))

			select {
			case <-s.stopCh:
				return fmt.Errorf("shutdown requested: %w", lastErr)
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

type statusError struct {
	Code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http error: %d", e.Code)
}

func (s *WebhookSender) sendRequest(target Target, payload *WebhookPayload) error {
	dataBytes, err := json.Marshal(payload.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	signed := *payload
	if target.Secret != "" {
		signed.Signature = signPayload(dataBytes, target.Secret)
	}

	body, err := json.Marshal(&signed)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", signed.Event)
	if signed.Signature != "" {
		req.Header.Set("X-Webhook-Signature", signed.Signature)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &statusError{Code: resp.StatusCode}
	}

	return nil
}

// signPayload is the hex HMAC-SHA256 of the JSON-encoded data field.
func signPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func isClientError(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.Code >= 400 && se.Code < 500
	}
	return false
}

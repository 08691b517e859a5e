package core

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type ReachabilityChecker struct {
	newTransport func() Transport
	internal     InternalPrinter
	logger       *zap.Logger
}

func NewReachabilityChecker(opts ConnectionOptions, internal InternalPrinter, logger *zap.Logger) *ReachabilityChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReachabilityChecker{
		newTransport: func() Transport { return NewConnectionManager(opts, logger) },
		internal:     internal,
		logger:       logger,
	}
}

// Check connects and immediately disconnects. A successful connect is reachable even
// if the disconnect fails.
func (r *ReachabilityChecker) Check(ctx context.Context, endpoint PrinterEndpoint) bool {
	if endpoint.IsInternal() {
		return r.internal != nil && r.internal.Available()
	}

	t := r.newTransport()
	if err := t.Connect(ctx, endpoint); err != nil {
		r.logger.Debug("probe failed", zap.String("endpoint", endpoint.String()), zap.Error(err))
		return false
	}
	t.Disconnect()
	return true
}

// CheckAll probes endpoints one at a time and returns results in input order.
func (r *ReachabilityChecker) CheckAll(ctx context.Context, endpoints []PrinterEndpoint) []PrinterStatus {
	statuses := make([]PrinterStatus, 0, len(endpoints))
	for _, ep := range endpoints {
		statuses = append(statuses, PrinterStatus{
			Endpoint:  ep,
			Name:      DefaultPrinterName(ep),
			Reachable: r.Check(ctx, ep),
			CheckedAt: time.Now(),
		})
	}
	return statuses
}

func DefaultPrinterName(ep PrinterEndpoint) string {
	return "PrinterName_" + ep.Host
}

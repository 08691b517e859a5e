package core

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

type PrinterManagerOptions struct {
	// HealthCheckInterval of zero disables the background probe loop.
	HealthCheckInterval time.Duration
}

// PrinterManager owns the device pool. Only jobs targeting a pool member are dispatched.
type PrinterManager struct {
	store    PrinterStore
	checker  *ReachabilityChecker
	sink     EventSink
	logger   *zap.Logger
	interval time.Duration

	printers    map[string]*Printer
	unreachable map[string]bool
	mu          sync.RWMutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewPrinterManager(store PrinterStore, checker *ReachabilityChecker, sink EventSink, opts PrinterManagerOptions, logger *zap.Logger) *PrinterManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = Sinks{}
	}
	return &PrinterManager{
		store:       store,
		checker:     checker,
		sink:        sink,
		logger:      logger,
		interval:    opts.HealthCheckInterval,
		printers:    make(map[string]*Printer),
		unreachable: make(map[string]bool),
		stopCh:      make(chan struct{}),
	}
}

func (pm *PrinterManager) Start() {
	pm.loadPrintersFromStore()

	if pm.interval > 0 && pm.checker != nil {
		pm.wg.Add(1)
		go pm.healthCheckLoop()
	}
}

func (pm *PrinterManager) Stop() {
	pm.stopOnce.Do(func() { close(pm.stopCh) })
	pm.wg.Wait()
}

func (pm *PrinterManager) loadPrintersFromStore() {
	if pm.store == nil {
		return
	}
	printers, err := pm.store.LoadPrinters()
	if err != nil {
		pm.logger.Error("failed to load printers", zap.Error(err))
		return
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	for _, p := range printers {
		pm.printers[p.Endpoint.String()] = p
	}
	pm.logger.Info("printer pool loaded", zap.Int("count", len(printers)))
}

// Seed adds endpoints to the pool without probing or persisting them.
func (pm *PrinterManager) Seed(endpoints []PrinterEndpoint) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for _, ep := range endpoints {
		key := ep.String()
		if _, ok := pm.printers[key]; ok {
			continue
		}
		pm.printers[key] = &Printer{Endpoint: ep, Name: DefaultPrinterName(ep), AddedAt: time.Now()}
	}
}

// AddPrinter probes the endpoint, then adds it to the pool whatever the probe result.
func (pm *PrinterManager) AddPrinter(ctx context.Context, endpoint PrinterEndpoint, name string) (*Printer, error) {
	key := endpoint.String()

	pm.mu.RLock()
	_, exists := pm.printers[key]
	pm.mu.RUnlock()
	if exists {
		return nil, ErrPrinterAlreadyExists
	}

	if name == "" {
		name = DefaultPrinterName(endpoint)
	}
	p := &Printer{Endpoint: endpoint, Name: name, AddedAt: time.Now()}
	if pm.checker != nil {
		p.Reachable = pm.checker.Check(ctx, endpoint)
		if p.Reachable {
			now := time.Now()
			p.LastSeenAt = &now
		}
	}

	pm.mu.Lock()
	if _, exists := pm.printers[key]; exists {
		pm.mu.Unlock()
		return nil, ErrPrinterAlreadyExists
	}
	pm.printers[key] = p
	delete(pm.unreachable, key)
	pm.mu.Unlock()

	if pm.store != nil {
		if err := pm.store.SavePrinter(p); err != nil {
			pm.logger.Error("failed to persist printer", zap.String("endpoint", key), zap.Error(err))
		}
	}

	pm.logger.Info("printer added", zap.String("endpoint", key), zap.String("name", name), zap.Bool("reachable", p.Reachable))
	pm.sink.PrinterReachability(endpoint, name, p.Reachable)
	return p, nil
}

func (pm *PrinterManager) RemovePrinter(endpoint PrinterEndpoint) error {
	key := endpoint.String()

	pm.mu.Lock()
	if _, exists := pm.printers[key]; !exists {
		pm.mu.Unlock()
		return ErrPrinterNotFound
	}
	delete(pm.printers, key)
	delete(pm.unreachable, key)
	pm.mu.Unlock()

	if pm.store != nil {
		if err := pm.store.DeletePrinter(endpoint); err != nil {
			pm.logger.Error("failed to delete persisted printer", zap.String("endpoint", key), zap.Error(err))
		}
	}
	pm.logger.Info("printer removed", zap.String("endpoint", key))
	return nil
}

func (pm *PrinterManager) Contains(endpoint PrinterEndpoint) bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	_, ok := pm.printers[endpoint.String()]
	return ok
}

func (pm *PrinterManager) GetPrinter(endpoint PrinterEndpoint) (*Printer, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	p, ok := pm.printers[endpoint.String()]
	if !ok {
		return nil, ErrPrinterNotFound
	}
	cp := *p
	return &cp, nil
}

func (pm *PrinterManager) ListPrinters() []*Printer {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	printers := make([]*Printer, 0, len(pm.printers))
	for _, p := range pm.printers {
		cp := *p
		printers = append(printers, &cp)
	}
	sort.Slice(printers, func(i, j int) bool {
		return printers[i].Endpoint.String() < printers[j].Endpoint.String()
	})
	return printers
}

func (pm *PrinterManager) Endpoints() []PrinterEndpoint {
	printers := pm.ListPrinters()
	eps := make([]PrinterEndpoint, 0, len(printers))
	for _, p := range printers {
		eps = append(eps, p.Endpoint)
	}
	return eps
}

func (pm *PrinterManager) NameOf(endpoint PrinterEndpoint) string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	if p, ok := pm.printers[endpoint.String()]; ok && p.Name != "" {
		return p.Name
	}
	return DefaultPrinterName(endpoint)
}

// NotifyUnreachable emits the unreachable notice at most once per endpoint until the
// flag is reset. It reports whether a notice went out.
func (pm *PrinterManager) NotifyUnreachable(endpoint PrinterEndpoint) bool {
	key := endpoint.String()

	pm.mu.Lock()
	if pm.unreachable[key] {
		pm.mu.Unlock()
		return false
	}
	pm.unreachable[key] = true
	name := DefaultPrinterName(endpoint)
	if p, ok := pm.printers[key]; ok {
		p.Reachable = false
		if p.Name != "" {
			name = p.Name
		}
	}
	pm.mu.Unlock()

	pm.logger.Warn("printer unreachable", zap.String("endpoint", key), zap.String("name", name))
	pm.sink.PrinterUnreachable(endpoint, name)
	return true
}

func (pm *PrinterManager) ResetUnreachable(endpoint PrinterEndpoint) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.unreachable, endpoint.String())
}

func (pm *PrinterManager) IsFlaggedUnreachable(endpoint PrinterEndpoint) bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.unreachable[endpoint.String()]
}

// MarkReachable records a successful contact and clears the unreachable flag.
func (pm *PrinterManager) MarkReachable(endpoint PrinterEndpoint) {
	key := endpoint.String()
	now := time.Now()

	pm.mu.Lock()
	delete(pm.unreachable, key)
	p, ok := pm.printers[key]
	changed := ok && !p.Reachable
	if ok {
		p.Reachable = true
		p.LastSeenAt = &now
	}
	var name string
	if ok {
		name = p.Name
	}
	pm.mu.Unlock()

	if changed {
		pm.sink.PrinterReachability(endpoint, name, true)
	}
}

// CheckReachability probes the given endpoints in order, naming them from the pool.
func (pm *PrinterManager) CheckReachability(ctx context.Context, endpoints []PrinterEndpoint) []PrinterStatus {
	if pm.checker == nil {
		return nil
	}
	statuses := pm.checker.CheckAll(ctx, endpoints)
	for i := range statuses {
		statuses[i].Name = pm.NameOf(statuses[i].Endpoint)
	}
	return statuses
}

func (pm *PrinterManager) CheckAllStatuses(ctx context.Context) {
	for _, ep := range pm.Endpoints() {
		select {
		case <-pm.stopCh:
			return
		default:
		}

		if pm.checker.Check(ctx, ep) {
			pm.MarkReachable(ep)
			continue
		}
		pm.updateUnreachable(ep)
	}
}

func (pm *PrinterManager) updateUnreachable(ep PrinterEndpoint) {
	key := ep.String()

	pm.mu.Lock()
	p, ok := pm.printers[key]
	changed := ok && p.Reachable
	var name string
	if ok {
		p.Reachable = false
		name = p.Name
	}
	pm.mu.Unlock()

	if changed {
		pm.sink.PrinterReachability(ep, name, false)
	}
	pm.NotifyUnreachable(ep)
}

func (pm *PrinterManager) healthCheckLoop() {
	defer pm.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-pm.stopCh
		cancel()
	}()

	ticker := time.NewTicker(pm.interval)
	defer ticker.Stop()

	pm.CheckAllStatuses(ctx)

	for {
		select {
		case <-pm.stopCh:
			return
		case <-ticker.C:
			pm.CheckAllStatuses(ctx)
		}
	}
}

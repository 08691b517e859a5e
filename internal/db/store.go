package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/orrn/thermal-spool/internal/core"
)

const storeTimeout = 5 * time.Second

// Store adapts the operations to the persistence hooks the spooler calls.
type Store struct {
	Printers   *PrinterOperations
	Dispatches *DispatchOperations
}

func NewStore(conn *sql.DB) *Store {
	return &Store{
		Printers:   NewPrinterOperations(conn),
		Dispatches: NewDispatchOperations(conn),
	}
}

func (s *Store) SavePrinter(p *core.Printer) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	return s.Printers.SavePrinter(ctx, &Printer{
		Host:       p.Endpoint.Host,
		Port:       portOf(p.Endpoint),
		Name:       p.Name,
		Reachable:  p.Reachable,
		LastSeenAt: p.LastSeenAt,
		AddedAt:    p.AddedAt,
	})
}

func (s *Store) DeletePrinter(endpoint core.PrinterEndpoint) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	return s.Printers.DeletePrinter(ctx, endpoint.Host, portOf(endpoint))
}

func (s *Store) LoadPrinters() ([]*core.Printer, error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	rows, err := s.Printers.ListPrinters(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*core.Printer, 0, len(rows))
	for _, r := range rows {
		out = append(out, &core.Printer{
			Endpoint:   core.NewEndpoint(r.Host, r.Port),
			Name:       r.Name,
			Reachable:  r.Reachable,
			LastSeenAt: r.LastSeenAt,
			AddedAt:    r.AddedAt,
		})
	}
	return out, nil
}

func (s *Store) RecordDispatch(rec core.DispatchRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	return s.Dispatches.InsertDispatch(ctx, &Dispatch{
		JobID:        rec.JobID,
		Host:         rec.Endpoint.Host,
		Port:         portOf(rec.Endpoint),
		JobType:      rec.JobType,
		Outcome:      string(rec.Outcome),
		Error:        rec.Error,
		Bytes:        rec.Bytes,
		DurationMS:   rec.Duration.Milliseconds(),
		DispatchedAt: rec.At,
	})
}

func portOf(ep core.PrinterEndpoint) int {
	if ep.Port == 0 {
		return core.DefaultPrinterPort
	}
	return ep.Port
}

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type PrinterOperations struct {
	conn *sql.DB
}

func NewPrinterOperations(conn *sql.DB) *PrinterOperations {
	return &PrinterOperations{conn: conn}
}

func (o *PrinterOperations) SavePrinter(ctx context.Context, p *Printer) error {
	var lastSeen any
	if p.LastSeenAt != nil {
		lastSeen = p.LastSeenAt.UTC()
	}
	added := p.AddedAt
	if added.IsZero() {
		added = time.Now()
	}
	_, err := o.conn.ExecContext(ctx, UpsertPrinter,
		p.Host, p.Port, p.Name, p.Reachable, lastSeen, added.UTC())
	if err != nil {
		return fmt.Errorf("failed to save printer: %w", err)
	}
	return nil
}

func (o *PrinterOperations) GetPrinter(ctx context.Context, host string, port int) (*Printer, error) {
	p, err := scanPrinter(o.conn.QueryRowContext(ctx, GetPrinter, host, port))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get printer: %w", err)
	}
	return p, nil
}

func (o *PrinterOperations) ListPrinters(ctx context.Context) ([]*Printer, error) {
	rows, err := o.conn.QueryContext(ctx, ListPrinters)
	if err != nil {
		return nil, fmt.Errorf("failed to list printers: %w", err)
	}
	defer rows.Close()

	var printers []*Printer
	for rows.Next() {
		p, err := scanPrinter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan printer: %w", err)
		}
		printers = append(printers, p)
	}
	return printers, rows.Err()
}

func (o *PrinterOperations) DeletePrinter(ctx context.Context, host string, port int) error {
	_, err := o.conn.ExecContext(ctx, DeletePrinter, host, port)
	if err != nil {
		return fmt.Errorf("failed to delete printer: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrinter(row rowScanner) (*Printer, error) {
	p := &Printer{}
	var lastSeen sql.NullTime
	if err := row.Scan(&p.Host, &p.Port, &p.Name, &p.Reachable, &lastSeen, &p.AddedAt); err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		p.LastSeenAt = &t
	}
	return p, nil
}

type DispatchOperations struct {
	conn *sql.DB
}

func NewDispatchOperations(conn *sql.DB) *DispatchOperations {
	return &DispatchOperations{conn: conn}
}

func (o *DispatchOperations) InsertDispatch(ctx context.Context, d *Dispatch) error {
	at := d.DispatchedAt
	if at.IsZero() {
		at = time.Now()
	}
	result, err := o.conn.ExecContext(ctx, InsertDispatch,
		d.JobID, d.Host, d.Port, d.JobType, d.Outcome, d.Error, d.Bytes, d.DurationMS, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert dispatch: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get dispatch id: %w", err)
	}
	d.ID = id
	return nil
}

// ListDispatches returns newest first.
func (o *DispatchOperations) ListDispatches(ctx context.Context, filter DispatchFilter) ([]*Dispatch, error) {
	var conditions []string
	var args []any

	if filter.JobID != "" {
		conditions = append(conditions, "job_id = ?")
		args = append(args, filter.JobID)
	}
	if filter.Host != "" {
		conditions = append(conditions, "host = ?")
		args = append(args, filter.Host)
	}
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, filter.Outcome)
	}

	query := ListDispatchesBase
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY dispatched_at DESC, id DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := o.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dispatches: %w", err)
	}
	defer rows.Close()

	var out []*Dispatch
	for rows.Next() {
		d := &Dispatch{}
		if err := rows.Scan(&d.ID, &d.JobID, &d.Host, &d.Port, &d.JobType, &d.Outcome,
			&d.Error, &d.Bytes, &d.DurationMS, &d.DispatchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dispatch: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (o *DispatchOperations) Stats(ctx context.Context) (*DispatchStats, error) {
	s := &DispatchStats{}
	err := o.conn.QueryRowContext(ctx, DispatchStatsQuery).Scan(&s.Total, &s.Dispatched, &s.Failed, &s.Skipped)
	if err != nil {
		return nil, fmt.Errorf("failed to get dispatch stats: %w", err)
	}
	return s, nil
}

// PruneBefore deletes log rows older than cutoff and reports how many went.
func (o *DispatchOperations) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := o.conn.ExecContext(ctx, PruneDispatches, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune dispatches: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned dispatches: %w", err)
	}
	return n, nil
}

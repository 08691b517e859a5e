package db

const (
	UpsertPrinter = `
		INSERT INTO printers (host, port, name, reachable, last_seen_at, added_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(host, port) DO UPDATE SET
			name = excluded.name,
			reachable = excluded.reachable,
			last_seen_at = excluded.last_seen_at
	`

	GetPrinter = `
		SELECT host, port, name, reachable, last_seen_at, added_at
		FROM printers WHERE host = ? AND port = ?
	`

	ListPrinters = `
		SELECT host, port, name, reachable, last_seen_at, added_at
		FROM printers ORDER BY host ASC, port ASC
	`

	DeletePrinter = `DELETE FROM printers WHERE host = ? AND port = ?`
)

const (
	InsertDispatch = `
		INSERT INTO dispatch_log (job_id, host, port, job_type, outcome, error, bytes, duration_ms, dispatched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	ListDispatchesBase = `
		SELECT id, job_id, host, port, job_type, outcome, error, bytes, duration_ms, dispatched_at
		FROM dispatch_log
	`

	DispatchStatsQuery = `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN outcome = 'dispatched' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = 'skipped' THEN 1 ELSE 0 END), 0)
		FROM dispatch_log
	`

	PruneDispatches = `DELETE FROM dispatch_log WHERE dispatched_at < ?`
)

package db

import (
	"time"
)

type Printer struct {
	Host       string     `json:"host"`
	Port       int        `json:"port"`
	Name       string     `json:"name"`
	Reachable  bool       `json:"reachable"`
	LastSeenAt *time.Time `json:"last_seen_at"`
	AddedAt    time.Time  `json:"added_at"`
}

type Dispatch struct {
	ID           int64     `json:"id"`
	JobID        string    `json:"job_id"`
	Host         string    `json:"host"`
	Port         int       `json:"port"`
	JobType      string    `json:"job_type"`
	Outcome      string    `json:"outcome"`
	Error        string    `json:"error,omitempty"`
	Bytes        int       `json:"bytes"`
	DurationMS   int64     `json:"duration_ms"`
	DispatchedAt time.Time `json:"dispatched_at"`
}

type DispatchFilter struct {
	JobID   string
	Host    string
	Outcome string
	Limit   int
	Offset  int
}

type DispatchStats struct {
	Total      int64 `json:"total"`
	Dispatched int64 `json:"dispatched"`
	Failed     int64 `json:"failed"`
	Skipped    int64 `json:"skipped"`
}

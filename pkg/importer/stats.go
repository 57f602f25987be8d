package importer

import "time"

type Stats struct {
	Phase           State     `json:"phase"`
	PagesWritten    int64     `json:"pages_written"`
	RecordsImported int64     `json:"records_imported"`
	Retries         int64     `json:"retries"`
	Failures        int64     `json:"failures"`
	StartedAt       time.Time `json:"started_at,omitempty"`
	LastPageAt      time.Time `json:"last_page_at,omitempty"`
	UptimeSeconds   int64     `json:"uptime_seconds"`
}

// SinkStats is reported by destination adapters.
type SinkStats struct {
	ConnectionHealthy bool           `json:"connection_healthy"`
	TotalWrites       int64          `json:"total_writes"`
	TotalPayloads     int64          `json:"total_payloads"`
	WriteErrorCount   int64          `json:"write_error_count"`
	LastWriteAt       time.Time      `json:"last_write_at,omitempty"`
	LastError         string         `json:"last_error,omitempty"`
	SinkSpecific      map[string]any `json:"sink_specific,omitempty"`
}

package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// ParseExportFormat validates s; empty means JSON
func ParseExportFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(s); f {
	case "":
		return ExportFormatJSON, nil
	case ExportFormatJSON, ExportFormatNDJSON, ExportFormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// ContentType returns the MIME type of the format
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportFormatNDJSON:
		return "application/x-ndjson"
	case ExportFormatCSV:
		return "text/csv"
	default:
		return "application/json"
	}
}

// Export writes events to w in format
func Export(w io.Writer, events []*Event, format ExportFormat) error {
	switch format {
	case ExportFormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	case ExportFormatNDJSON:
		enc := json.NewEncoder(w)
		for _, e := range events {
			if err := enc.Encode(e); err != nil {
				return fmt.Errorf("failed to encode event: %w", err)
			}
		}
		return nil
	case ExportFormatCSV:
		return exportCSV(w, events)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

var csvHeader = []string{
	"id", "timestamp", "action", "status",
	"tenant_id", "actor_id", "target_user_id",
	"request_id", "ip_address", "user_agent",
	"message", "error_message", "details",
}

func exportCSV(w io.Writer, events []*Event) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, e := range events {
		details := ""
		if len(e.Details) > 0 {
			data, err := json.Marshal(e.Details)
			if err != nil {
				return fmt.Errorf("failed to marshal details: %w", err)
			}
			details = string(data)
		}
		record := []string{
			e.ID, e.Timestamp.UTC().Format(time.RFC3339), string(e.Action), string(e.Status),
			e.TenantID, e.ActorID, e.TargetUserID,
			e.RequestID, e.IPAddress, e.UserAgent,
			e.Message, e.ErrorMessage, details,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

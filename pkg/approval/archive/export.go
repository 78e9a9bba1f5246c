package archive

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"mercator-hq/warden/pkg/approval"
)

// ExportJSON writes reqs as a JSON array.
func ExportJSON(w io.Writer, reqs []approval.Request, pretty bool) error {
	if reqs == nil {
		reqs = []approval.Request{}
	}
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(reqs); err != nil {
		return fmt.Errorf("export json: %w", err)
	}
	return nil
}

var csvHeader = []string{
	"id", "policy", "action", "status", "reason", "channel",
	"triggers", "created_at", "resolved_at", "wait_ms", "resolved_by",
}

// ExportCSV writes reqs as CSV with a header row. Action parameters are
// omitted.
func ExportCSV(w io.Writer, reqs []approval.Request) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("export csv: %w", err)
	}
	for _, r := range reqs {
		var resolved, wait string
		if !r.ResolvedAt.IsZero() {
			resolved = r.ResolvedAt.UTC().Format(time.RFC3339)
			wait = fmt.Sprint(r.ResolvedAt.Sub(r.CreatedAt).Milliseconds())
		}
		row := []string{
			r.ID, r.Policy, r.Action.Type, string(r.Status), r.Reason, string(r.Channel),
			strings.Join(r.Triggers, "; "), r.CreatedAt.UTC().Format(time.RFC3339), resolved, wait,
			r.ResolvedBy,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("export csv: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export csv: %w", err)
	}
	return nil
}

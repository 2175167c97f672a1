package report

import (
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"connscope/internal/models"
)

// Entry is one rule's reportable outcome: the rule, its match count, and the
// matched records resolved against the batch.
type Entry struct {
	Rule    models.RuleID       `json:"rule"`
	Count   int                 `json:"count"`
	Records []models.ConnRecord `json:"records"`
	Error   string              `json:"error,omitempty"`
}

// Report is a read-only view over a completed evaluation. Entries follow the
// fixed rule order regardless of how the anomaly set was assembled.
type Report struct {
	entries []Entry
	meta    Meta
}

// Meta carries batch-level context for summaries and the viewer.
type Meta struct {
	RecordCount int           `json:"record_count"`
	SourceFiles []string      `json:"source_files,omitempty"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// New resolves the anomaly set's match indices against the batch it was
// computed from and freezes the result.
func New(anomalies *models.AnomalySet, records []models.ConnRecord, meta Meta) *Report {
	entries := make([]Entry, 0, len(models.RuleOrder))
	for _, rule := range models.RuleOrder {
		entry := Entry{Rule: rule}
		if result := anomalies.Result(rule); result != nil {
			entry.Count = result.Count()
			entry.Records = make([]models.ConnRecord, 0, len(result.Matches))
			for _, idx := range result.Matches {
				entry.Records = append(entry.Records, records[idx])
			}
			if result.Err != nil {
				entry.Error = result.Err.Error()
			}
		}
		entries = append(entries, entry)
	}

	meta.RecordCount = len(records)
	if meta.GeneratedAt.IsZero() {
		meta.GeneratedAt = time.Now()
	}

	return &Report{entries: entries, meta: meta}
}

// Entries returns the per-rule results in fixed rule order.
func (r *Report) Entries() []Entry {
	return append([]Entry(nil), r.entries...)
}

// Entry returns the result for one rule, or nil if the rule is unknown.
func (r *Report) Entry(rule models.RuleID) *Entry {
	for i := range r.entries {
		if r.entries[i].Rule == rule {
			entry := r.entries[i]
			return &entry
		}
	}
	return nil
}

// Meta returns the batch-level context of the run.
func (r *Report) Meta() Meta {
	return r.meta
}

// Summarize renders the rule-name and match-count table.
func (r *Report) Summarize(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Rule", "ID", "Matches", "Status"})

	for _, entry := range r.entries {
		status := "ok"
		if entry.Error != "" {
			status = "error: " + entry.Error
		}
		table.Append([]string{
			entry.Rule.Title(),
			entry.Rule.String(),
			strconv.Itoa(entry.Count),
			status,
		})
	}
	table.Render()
}

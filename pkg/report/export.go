package report

import (
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Exporter writes each rule's matched records to durable storage, one JSON
// lines file per rule in fixed rule order.
type Exporter struct {
	outDir string
	logger *log.Logger
}

// NewExporter returns an exporter rooted at the given output directory.
func NewExporter(outDir string, logger *log.Logger) *Exporter {
	return &Exporter{outDir: outDir, logger: logger}
}

// Export writes <outdir>/<rule_id>.json for every rule. Rules that could not
// be evaluated are skipped; an error marker is already on the report entry.
func (e *Exporter) Export(r *Report) error {
	if err := os.MkdirAll(e.outDir, 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	for _, entry := range r.Entries() {
		if entry.Error != "" {
			e.logger.WithFields(log.Fields{
				"rule":  entry.Rule.String(),
				"error": entry.Error,
			}).Warn("Skipping export for failed rule")
			continue
		}
		if err := e.exportEntry(entry); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exporter) exportEntry(entry Entry) error {
	outPath := filepath.Join(e.outDir, entry.Rule.String()+".json")
	file, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", outPath, err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	for i := range entry.Records {
		if err := encoder.Encode(&entry.Records[i]); err != nil {
			return fmt.Errorf("failed to write %s: %w", outPath, err)
		}
	}

	e.logger.WithFields(log.Fields{
		"rule":    entry.Rule.String(),
		"matches": entry.Count,
		"path":    outPath,
	}).Info("Exported rule matches")
	return nil
}

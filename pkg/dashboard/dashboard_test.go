package dashboard_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	log "github.com/sirupsen/logrus"

	"connscope/internal/models"
	"connscope/pkg/config"
	"connscope/pkg/dashboard"
	"connscope/pkg/report"
)

func quietLogger() *log.Logger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testReport() *report.Report {
	records := []models.ConnRecord{
		{
			OriginHost:    net.ParseIP("192.168.1.10"),
			OriginPort:    50000,
			ResponderHost: net.ParseIP("10.0.0.5"),
			ResponderPort: 443,
			Protocol:      "icmp",
			ConnState:     "SF",
		},
	}
	anomalies := &models.AnomalySet{Results: []models.RuleResult{
		{Rule: models.RuleHighLowDuration},
		{Rule: models.RuleNonStandardPorts},
		{Rule: models.RuleExcessiveTraffic},
		{Rule: models.RuleSuspiciousProtocols, Matches: []int{0}},
		{Rule: models.RuleFailedConnections},
	}}
	return report.New(anomalies, records, report.Meta{})
}

func newTestDashboard(t *testing.T) *dashboard.Dashboard {
	t.Helper()
	d, err := dashboard.New(config.DefaultConfig(), testReport(), quietLogger())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return d
}

func TestStartAndStop(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Viewer.ListenAddr = "127.0.0.1:0"

	d, err := dashboard.New(cfg, testReport(), quietLogger())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Errorf("Stop returned error: %v", err)
	}
}

func TestHandleReport(t *testing.T) {
	d := newTestDashboard(t)
	server := httptest.NewServer(d.Router())
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/report")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var state dashboard.ReportState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if len(state.Entries) != len(models.RuleOrder) {
		t.Errorf("got %d entries, want %d", len(state.Entries), len(models.RuleOrder))
	}
	if state.Meta.RecordCount != 1 {
		t.Errorf("RecordCount = %d, want 1", state.Meta.RecordCount)
	}
}

func TestHandleRule(t *testing.T) {
	d := newTestDashboard(t)
	server := httptest.NewServer(d.Router())
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/rules/suspicious_protocols")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var entry report.Entry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if entry.Count != 1 || len(entry.Records) != 1 {
		t.Errorf("entry = %+v, want one matched record", entry)
	}

	missing, err := http.Get(server.URL + "/api/rules/nope")
	if err != nil {
		t.Fatal(err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for unknown rule", missing.StatusCode)
	}
}

func TestHandleIndex(t *testing.T) {
	d := newTestDashboard(t)
	server := httptest.NewServer(d.Router())
	defer server.Close()

	resp, err := http.Get(server.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/html" {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
}

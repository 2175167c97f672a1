package detect_test

import (
	"net"
	"testing"

	"connscope/internal/models"
	"connscope/pkg/detect"
)

func recordsFromHosts(hosts ...string) []models.ConnRecord {
	records := make([]models.ConnRecord, 0, len(hosts))
	for _, h := range hosts {
		records = append(records, models.ConnRecord{
			OriginHost:    net.ParseIP(h),
			ResponderHost: net.ParseIP("10.9.9.9"),
			OriginPort:    40000,
			ResponderPort: 443,
			Protocol:      "tcp",
			ConnState:     "SF",
		})
	}
	return records
}

func TestOriginCounts(t *testing.T) {
	records := recordsFromHosts("10.0.0.1", "10.0.0.2", "10.0.0.1", "10.0.0.1")

	index := detect.OriginCounts(records)
	if index["10.0.0.1"] != 3 {
		t.Errorf("count for 10.0.0.1 = %d, want 3", index["10.0.0.1"])
	}
	if index["10.0.0.2"] != 1 {
		t.Errorf("count for 10.0.0.2 = %d, want 1", index["10.0.0.2"])
	}
	if len(index) != 2 {
		t.Errorf("index has %d hosts, want 2", len(index))
	}
}

func TestOriginCountsSkipsMissingHosts(t *testing.T) {
	records := recordsFromHosts("10.0.0.1", "10.0.0.1")
	records = append(records, models.ConnRecord{
		ResponderHost: net.ParseIP("10.9.9.9"),
		OriginPort:    40000,
		ResponderPort: 443,
		Protocol:      "tcp",
		ConnState:     "SF",
	})

	index := detect.OriginCounts(records)
	if len(index) != 1 {
		t.Fatalf("index has %d hosts, want 1: %v", len(index), index)
	}
	if index["10.0.0.1"] != 2 {
		t.Errorf("count for 10.0.0.1 = %d, want 2", index["10.0.0.1"])
	}
}

func TestOriginCountsEmptyBatch(t *testing.T) {
	index := detect.OriginCounts(nil)
	if len(index) != 0 {
		t.Errorf("expected empty index, got %v", index)
	}
}

func TestMatchingHostsStrictlyGreater(t *testing.T) {
	index := detect.IPFrequencyIndex{
		"10.0.0.1": 3,
		"10.0.0.2": 2,
		"10.0.0.3": 1,
	}

	hosts := detect.MatchingHosts(index, 2)
	if _, ok := hosts["10.0.0.1"]; !ok {
		t.Error("10.0.0.1 with count 3 should exceed threshold 2")
	}
	if _, ok := hosts["10.0.0.2"]; ok {
		t.Error("10.0.0.2 with count exactly 2 must not match threshold 2")
	}
	if _, ok := hosts["10.0.0.3"]; ok {
		t.Error("10.0.0.3 with count 1 must not match threshold 2")
	}
}

package models_test

import (
	"errors"
	"net"
	"testing"
	"time"

	"connscope/internal/models"
)

func validRecord() models.ConnRecord {
	d := 1.5
	return models.ConnRecord{
		Timestamp:     time.Now(),
		UID:           "CjhC2T3BSkAMDre6Ib",
		OriginHost:    net.ParseIP("192.168.1.10"),
		OriginPort:    51234,
		ResponderHost: net.ParseIP("10.0.0.5"),
		ResponderPort: 443,
		Protocol:      "tcp",
		Duration:      &d,
		ConnState:     "SF",
	}
}

func TestValidateAcceptsWellFormedRecord(t *testing.T) {
	rec := validRecord()
	if err := rec.Validate(); err != nil {
		t.Fatalf("Validate returned error for valid record: %v", err)
	}
}

func TestValidateRejectsOutOfRangePorts(t *testing.T) {
	rec := validRecord()
	rec.OriginPort = 70000
	err := rec.Validate()
	if err == nil {
		t.Fatal("Expected validation error for out-of-range origin port")
	}
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %T", err)
	}

	rec = validRecord()
	rec.ResponderPort = -1
	if rec.Validate() == nil {
		t.Fatal("Expected validation error for negative responder port")
	}
}

func TestValidateRejectsMissingHosts(t *testing.T) {
	rec := validRecord()
	rec.OriginHost = nil
	err := rec.Validate()
	if err == nil {
		t.Fatal("Expected validation error for missing origin host")
	}
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %T", err)
	}

	rec = validRecord()
	rec.ResponderHost = nil
	if rec.Validate() == nil {
		t.Fatal("Expected validation error for missing responder host")
	}
}

func TestValidateRejectsEmptyProtocol(t *testing.T) {
	rec := validRecord()
	rec.Protocol = ""
	if rec.Validate() == nil {
		t.Fatal("Expected validation error for empty protocol")
	}
}

func TestValidateRejectsNegativeDuration(t *testing.T) {
	rec := validRecord()
	d := -0.5
	rec.Duration = &d
	if rec.Validate() == nil {
		t.Fatal("Expected validation error for negative duration")
	}
}

func TestValidateAllowsAbsentDuration(t *testing.T) {
	rec := validRecord()
	rec.Duration = nil
	if err := rec.Validate(); err != nil {
		t.Fatalf("Absent duration should be valid, got %v", err)
	}
}

func TestRuleOrderIsFixed(t *testing.T) {
	expected := []models.RuleID{
		models.RuleHighLowDuration,
		models.RuleNonStandardPorts,
		models.RuleExcessiveTraffic,
		models.RuleSuspiciousProtocols,
		models.RuleFailedConnections,
	}

	if len(models.RuleOrder) != len(expected) {
		t.Fatalf("Expected %d rules, got %d", len(expected), len(models.RuleOrder))
	}
	for i, rule := range expected {
		if models.RuleOrder[i] != rule {
			t.Errorf("RuleOrder[%d] = %s, want %s", i, models.RuleOrder[i], rule)
		}
	}
}

func TestRuleTitles(t *testing.T) {
	for _, rule := range models.RuleOrder {
		if rule.Title() == "Unknown Rule" {
			t.Errorf("Rule %s has no title", rule)
		}
	}
	if models.RuleID("bogus").Title() != "Unknown Rule" {
		t.Error("Unknown rule should report Unknown Rule title")
	}
}

func TestAnomalySetResultLookup(t *testing.T) {
	set := &models.AnomalySet{Results: []models.RuleResult{
		{Rule: models.RuleHighLowDuration, Matches: []int{0, 2}},
		{Rule: models.RuleFailedConnections, Matches: []int{1}},
	}}

	result := set.Result(models.RuleHighLowDuration)
	if result == nil || result.Count() != 2 {
		t.Fatalf("Expected 2 matches for %s, got %v", models.RuleHighLowDuration, result)
	}
	if set.Result(models.RuleNonStandardPorts) != nil {
		t.Error("Expected nil result for absent rule")
	}
	if set.TotalMatches() != 3 {
		t.Errorf("TotalMatches = %d, want 3", set.TotalMatches())
	}
}

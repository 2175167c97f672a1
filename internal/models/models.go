package models

import (
	"fmt"
	"net"
	"time"
)

// RuleID identifies one of the built-in detection rules.
type RuleID string

const (
	RuleHighLowDuration     RuleID = "high_low_duration"
	RuleNonStandardPorts    RuleID = "non_standard_ports"
	RuleExcessiveTraffic    RuleID = "excessive_traffic"
	RuleSuspiciousProtocols RuleID = "suspicious_protocols"
	RuleFailedConnections   RuleID = "failed_connections"
)

// RuleOrder is the reporting order for rule results. Evaluation does not
// depend on it, but summaries and exports always follow it.
var RuleOrder = []RuleID{
	RuleHighLowDuration,
	RuleNonStandardPorts,
	RuleExcessiveTraffic,
	RuleSuspiciousProtocols,
	RuleFailedConnections,
}

func (r RuleID) String() string {
	return string(r)
}

// Title returns a human-readable rule name for summaries.
func (r RuleID) Title() string {
	switch r {
	case RuleHighLowDuration:
		return "High/Low Duration"
	case RuleNonStandardPorts:
		return "Non-Standard Ports"
	case RuleExcessiveTraffic:
		return "Excessive Traffic"
	case RuleSuspiciousProtocols:
		return "Suspicious Protocols"
	case RuleFailedConnections:
		return "Failed Connections"
	default:
		return "Unknown Rule"
	}
}

// ConnRecord represents one Zeek conn.log entry (one summarized flow).
// Duration is nil when Zeek logged the field as unset ("-").
type ConnRecord struct {
	Timestamp     time.Time `json:"ts"`
	UID           string    `json:"uid,omitempty"`
	OriginHost    net.IP    `json:"id.orig_h"`
	OriginPort    int       `json:"id.orig_p"`
	ResponderHost net.IP    `json:"id.resp_h"`
	ResponderPort int       `json:"id.resp_p"`
	Protocol      string    `json:"proto"`
	Service       string    `json:"service,omitempty"`
	Duration      *float64  `json:"duration,omitempty"`
	OrigBytes     int64     `json:"orig_bytes"`
	RespBytes     int64     `json:"resp_bytes"`
	ConnState     string    `json:"conn_state"`
	History       string    `json:"history,omitempty"`
	OrigPackets   int64     `json:"orig_pkts"`
	RespPackets   int64     `json:"resp_pkts"`
}

// ValidationError describes a malformed record rejected at the ingestion
// boundary. The caller decides whether to drop the record or abort.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record: %s: %s", e.Field, e.Reason)
}

// Validate checks the record invariants: both endpoint addresses present,
// ports in [0, 65535], a non-empty protocol token, and a non-negative
// duration when one is present.
func (r *ConnRecord) Validate() error {
	if r.OriginHost == nil {
		return &ValidationError{Field: "id.orig_h", Reason: "origin host is missing"}
	}
	if r.ResponderHost == nil {
		return &ValidationError{Field: "id.resp_h", Reason: "responder host is missing"}
	}
	if r.OriginPort < 0 || r.OriginPort > 65535 {
		return &ValidationError{Field: "id.orig_p", Reason: fmt.Sprintf("port %d out of range", r.OriginPort)}
	}
	if r.ResponderPort < 0 || r.ResponderPort > 65535 {
		return &ValidationError{Field: "id.resp_p", Reason: fmt.Sprintf("port %d out of range", r.ResponderPort)}
	}
	if r.Protocol == "" {
		return &ValidationError{Field: "proto", Reason: "protocol token is empty"}
	}
	if r.Duration != nil && *r.Duration < 0 {
		return &ValidationError{Field: "duration", Reason: fmt.Sprintf("negative duration %v", *r.Duration)}
	}
	return nil
}

// RuleResult holds one rule's outcome: the batch positions of every matching
// record, in arrival order and without duplicates, plus an error slot if the
// rule could not be computed.
type RuleResult struct {
	Rule    RuleID `json:"rule"`
	Matches []int  `json:"matches"`
	Err     error  `json:"-"`
}

// Count returns the number of matched records.
func (r *RuleResult) Count() int {
	return len(r.Matches)
}

// AnomalySet is the outcome of one evaluation pass: one RuleResult per rule,
// in RuleOrder. Results may overlap across rules; rules are independent.
type AnomalySet struct {
	Results []RuleResult `json:"results"`
}

// Result returns the result for the given rule, or nil if absent.
func (s *AnomalySet) Result(id RuleID) *RuleResult {
	for i := range s.Results {
		if s.Results[i].Rule == id {
			return &s.Results[i]
		}
	}
	return nil
}

// TotalMatches sums match counts across all rules. A record matching several
// rules is counted once per rule.
func (s *AnomalySet) TotalMatches() int {
	total := 0
	for i := range s.Results {
		total += len(s.Results[i].Matches)
	}
	return total
}

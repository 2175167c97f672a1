package detect

import (
	"fmt"
	"sync"

	"connscope/internal/models"
	"connscope/pkg/config"
)

// Engine evaluates a batch of connection records against the built-in rules.
// It holds a validated DetectionConfig and no other state; concurrent runs
// use independent Engine values.
type Engine struct {
	cfg     config.DetectionConfig
	allowed map[string]struct{}
}

// RuleEvaluationError reports that a single rule could not be computed. It is
// recorded alongside that rule's result and never aborts sibling rules.
type RuleEvaluationError struct {
	Rule models.RuleID
	Err  error
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %s failed: %v", e.Rule, e.Err)
}

func (e *RuleEvaluationError) Unwrap() error {
	return e.Err
}

// NewEngine validates the configuration and returns an engine bound to it.
func NewEngine(cfg config.DetectionConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedProtocols))
	for _, proto := range cfg.AllowedProtocols {
		allowed[proto] = struct{}{}
	}

	return &Engine{cfg: cfg, allowed: allowed}, nil
}

// Evaluate runs every rule over the batch and returns one result per rule in
// models.RuleOrder. The batch must not be mutated during the call. Rules are
// independent, so they run concurrently; the frequency index for the volume
// rule is always completed over the whole batch before membership is decided.
func (e *Engine) Evaluate(records []models.ConnRecord) *models.AnomalySet {
	results := make([]models.RuleResult, len(models.RuleOrder))

	var wg sync.WaitGroup
	for i, rule := range models.RuleOrder {
		wg.Add(1)
		go func(slot int, rule models.RuleID) {
			defer wg.Done()
			results[slot] = e.evaluateRule(rule, records)
		}(i, rule)
	}
	wg.Wait()

	return &models.AnomalySet{Results: results}
}

// evaluateRule computes a single rule's matches. A panic or predicate error
// is captured as a RuleEvaluationError on the result instead of propagating.
func (e *Engine) evaluateRule(rule models.RuleID, records []models.ConnRecord) (result models.RuleResult) {
	result.Rule = rule
	defer func() {
		if r := recover(); r != nil {
			result.Matches = nil
			result.Err = &RuleEvaluationError{Rule: rule, Err: fmt.Errorf("%v", r)}
		}
	}()

	if rule == models.RuleExcessiveTraffic {
		result.Matches = e.excessiveTraffic(records)
		return result
	}

	predicate, err := e.predicate(rule)
	if err != nil {
		result.Err = &RuleEvaluationError{Rule: rule, Err: err}
		return result
	}

	for i := range records {
		if predicate(&records[i]) {
			result.Matches = append(result.Matches, i)
		}
	}
	return result
}

// predicate returns the per-record predicate for a stateless rule.
func (e *Engine) predicate(rule models.RuleID) (func(*models.ConnRecord) bool, error) {
	switch rule {
	case models.RuleHighLowDuration:
		return e.highLowDuration, nil
	case models.RuleNonStandardPorts:
		return e.nonStandardPorts, nil
	case models.RuleSuspiciousProtocols:
		return e.suspiciousProtocol, nil
	case models.RuleFailedConnections:
		return e.failedConnection, nil
	default:
		return nil, fmt.Errorf("no predicate registered for rule %s", rule)
	}
}

// highLowDuration flags durations strictly above the high threshold or
// strictly below the low threshold. A value exactly equal to either threshold
// does not match, and an absent duration fails open.
func (e *Engine) highLowDuration(r *models.ConnRecord) bool {
	if r.Duration == nil {
		return false
	}
	d := *r.Duration
	return d > e.cfg.HighDurationSeconds || d < e.cfg.LowDurationSeconds
}

// nonStandardPorts flags connections where BOTH endpoints sit above the port
// threshold. This only catches flows with no well-known port on either side;
// the OR reading ("any non-standard port") is a known asymmetry that stays
// unchanged until product intent says otherwise.
func (e *Engine) nonStandardPorts(r *models.ConnRecord) bool {
	return r.OriginPort > e.cfg.PortThreshold && r.ResponderPort > e.cfg.PortThreshold
}

// suspiciousProtocol flags any protocol token outside the allow-list.
func (e *Engine) suspiciousProtocol(r *models.ConnRecord) bool {
	_, ok := e.allowed[r.Protocol]
	return !ok
}

// failedConnection flags any termination state other than the expected
// success state, including an empty token.
func (e *Engine) failedConnection(r *models.ConnRecord) bool {
	return r.ConnState != e.cfg.ExpectedSuccessState
}

// excessiveTraffic selects every record whose origin host produced strictly
// more than VolumeThreshold records in the batch. Counting runs over the full
// batch before any membership decision; partial counts are never used.
func (e *Engine) excessiveTraffic(records []models.ConnRecord) []int {
	index := OriginCounts(records)
	hosts := MatchingHosts(index, e.cfg.VolumeThreshold)

	var matches []int
	for i := range records {
		if _, ok := hosts[records[i].OriginHost.String()]; ok {
			matches = append(matches, i)
		}
	}
	return matches
}

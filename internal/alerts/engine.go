// Package alerts evaluates threshold rules against recent sample history.
// One pass runs after each collection cycle; every (rule, server) pair is
// gated by cooldown and data sufficiency and evaluated independently.
package alerts

import (
	"context"
	"log/slog"
	"math"
	"time"

	"falconeye/internal/config"
	"falconeye/internal/models"
)

// Store is the slice of storage the evaluator needs.
type Store interface {
	ListEnabledRules(ctx context.Context) ([]models.AlertRule, error)
	SamplesInWindow(ctx context.Context, serverName string, resource models.Resource, since time.Time) ([]float64, error)
	SetLastTriggered(ctx context.Context, id int64, at time.Time) error
}

// Notifier delivers a triggered alert. triggeredAt is the evaluation time
// persisted as the rule's last trigger. Implementations may truncate the
// window values for display.
type Notifier interface {
	Notify(ctx context.Context, rule models.AlertRule, server string, current float64, window []float64, triggeredAt time.Time) error
}

// Engine evaluates enabled rules against the trailing sample windows.
type Engine struct {
	store    Store
	notify   Notifier
	names    func() []string
	log      *slog.Logger
	now      func() time.Time
	cooldown time.Duration
	coverage float64
	interval time.Duration
	policy   string
}

func NewEngine(store Store, notify Notifier, knownServers func() []string,
	cooldown time.Duration, coverage float64, collectionInterval time.Duration,
	policy string, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		notify:   notify,
		names:    knownServers,
		log:      logger,
		now:      time.Now,
		cooldown: cooldown,
		coverage: coverage,
		interval: collectionInterval,
		policy:   policy,
	}
}

// Evaluate runs one full alert pass. Failures are contained per
// (rule, server) pair; nothing here propagates to the collector.
func (e *Engine) Evaluate(ctx context.Context) {
	rules, err := e.store.ListEnabledRules(ctx)
	if err != nil {
		e.log.Error("load alert rules", "err", err)
		return
	}
	if len(rules) == 0 {
		return
	}
	e.log.Info("alert evaluation started", "rules", len(rules))

	for _, rule := range rules {
		if !rule.Resource.Valid() {
			e.log.Warn("skipping rule with unknown resource", "rule_id", rule.ID, "resource", rule.Resource)
			continue
		}
		servers := e.expandServers(rule.ServerPattern)
		if len(servers) == 0 {
			e.log.Debug("rule matched no servers", "rule_id", rule.ID, "pattern", rule.ServerPattern)
			continue
		}
		for _, server := range servers {
			e.evaluatePair(ctx, rule, server)
		}
	}
}

func (e *Engine) expandServers(pattern string) []string {
	if pattern == "*" {
		return e.names()
	}
	if pattern == "" {
		return nil
	}
	return []string{pattern}
}

func (e *Engine) evaluatePair(ctx context.Context, rule models.AlertRule, server string) {
	now := e.now()

	if rule.LastTriggeredAt != nil && now.Sub(*rule.LastTriggeredAt) < e.cooldown {
		e.log.Info("rule in cooldown", "rule_id", rule.ID, "server", server,
			"last_triggered", *rule.LastTriggeredAt)
		return
	}

	since := now.Add(-time.Duration(rule.WindowMinutes) * time.Minute)
	values, err := e.store.SamplesInWindow(ctx, server, rule.Resource, since)
	if err != nil {
		e.log.Error("fetch samples for rule", "rule_id", rule.ID, "server", server, "err", err)
		return
	}

	// Insufficient evidence (just-started monitoring, an outage) must never
	// produce a false trigger.
	required := requiredSamples(rule.WindowMinutes, e.interval, e.coverage)
	if len(values) < required {
		e.log.Info("not enough data for rule", "rule_id", rule.ID, "server", server,
			"have", len(values), "required", required)
		return
	}

	if !exceeds(values, rule.Threshold, e.policy) {
		return
	}

	latest := values[len(values)-1]
	e.log.Warn("alert triggered", "rule_id", rule.ID, "rule", rule.Name,
		"server", server, "latest", latest, "threshold", rule.Threshold)

	if err := e.notify.Notify(ctx, rule, server, latest, values, now); err != nil {
		e.log.Error("alert notification failed", "rule_id", rule.ID, "server", server, "err", err)
	}
	if err := e.store.SetLastTriggered(ctx, rule.ID, now); err != nil {
		e.log.Error("record trigger time", "rule_id", rule.ID, "err", err)
	}
}

// requiredSamples derives the sufficiency bar: the expected sample count
// for the window scaled by the coverage fraction, floored, minimum 1.
func requiredSamples(windowMinutes int, interval time.Duration, coverage float64) int {
	expected := float64(windowMinutes*60) / interval.Seconds()
	required := int(math.Floor(expected * coverage))
	if required < 1 {
		required = 1
	}
	return required
}

// exceeds applies the trigger policy. Sustained requires every value
// strictly above the threshold, so a single dip blocks the alert; average
// compares the window mean instead.
func exceeds(values []float64, threshold float64, policy string) bool {
	if len(values) == 0 {
		return false
	}
	switch policy {
	case config.PolicyAverage:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum/float64(len(values)) > threshold
	default:
		for _, v := range values {
			if v <= threshold {
				return false
			}
		}
		return true
	}
}

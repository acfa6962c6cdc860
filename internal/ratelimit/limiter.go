// Package ratelimit enforces per-user sliding-window request budgets.
package ratelimit

import (
	"context"
	"time"

	"finance-orchestrator/internal/common/config"
)

const (
	RuleQuery       = "query"
	RuleFinancialOp = "financial_op"
	RuleExport      = "export"
)

type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string, rule Rule) (Decision, error)
}

// Rules holds the configured rule per name.
type Rules map[string]Rule

func DefaultRules() Rules {
	return Rules{
		RuleQuery:       {Name: RuleQuery, Limit: 100, Window: time.Minute},
		RuleFinancialOp: {Name: RuleFinancialOp, Limit: 10, Window: time.Minute},
		RuleExport:      {Name: RuleExport, Limit: 5, Window: 5 * time.Minute},
	}
}

// RulesFromConfig overlays configured limits on the defaults.
func RulesFromConfig(cfg config.RateLimitConfig) Rules {
	rules := DefaultRules()
	overlay := func(name string, r config.RateLimitRule) {
		if r.Limit <= 0 || r.Window <= 0 {
			return
		}
		rules[name] = Rule{Name: name, Limit: r.Limit, Window: time.Duration(r.Window) * time.Second}
	}
	overlay(RuleQuery, cfg.Query)
	overlay(RuleFinancialOp, cfg.FinancialOp)
	overlay(RuleExport, cfg.Export)
	return rules
}

func (r Rules) Get(name string) Rule {
	if rule, ok := r[name]; ok {
		return rule
	}
	return DefaultRules()[RuleQuery]
}

func denied(rule Rule, retryAfter time.Duration) Decision {
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return Decision{Allowed: false, Limit: rule.Limit, Remaining: 0, RetryAfter: retryAfter}
}

func allowed(rule Rule, used int64) Decision {
	remaining := rule.Limit - int(used)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Limit: rule.Limit, Remaining: remaining}
}

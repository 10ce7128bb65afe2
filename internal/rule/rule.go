// Package rule holds the static earning-rule table: base amounts,
// per-tier multipliers and cumulative caps applied by the ledger engine.
package rule

import "math"

// Rule configures a single earning type.
type Rule struct {
	Type            string             `mapstructure:"type" json:"type"`
	BasePoints      int64              `mapstructure:"basePoints" json:"base_points"`
	TierMultipliers map[string]float64 `mapstructure:"tierMultipliers" json:"tier_multipliers"`
	DailyCap        int64              `mapstructure:"dailyCap" json:"daily_cap"`
	MonthlyCap      int64              `mapstructure:"monthlyCap" json:"monthly_cap"`
}

// EffectiveAmount applies the tier multiplier and floors the result.
// Unknown tiers earn at the base rate.
func (r Rule) EffectiveAmount(amount int64, tier string) int64 {
	multiplier, ok := r.TierMultipliers[tier]
	if !ok || multiplier <= 0 {
		return amount
	}
	return int64(math.Floor(float64(amount) * multiplier))
}

// Registry resolves earning types against the loaded rule table.
type Registry struct {
	holder *Holder
}

func NewRegistry(holder *Holder) *Registry {
	return &Registry{holder: holder}
}

// Lookup returns the rule for an earning type.
func (r *Registry) Lookup(earningType string) (Rule, bool) {
	for _, rule := range r.holder.Get().Rules {
		if rule.Type == earningType {
			return rule, true
		}
	}
	return Rule{}, false
}

// Types lists the configured earning types.
func (r *Registry) Types() []string {
	rules := r.holder.Get().Rules
	types := make([]string, 0, len(rules))
	for _, rule := range rules {
		types = append(types, rule.Type)
	}
	return types
}

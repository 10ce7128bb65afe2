package rule

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Table is the on-disk shape of the rule configuration.
type Table struct {
	Rules []Rule `mapstructure:"rules"`
}

func DefaultTable() Table {
	return Table{
		Rules: []Rule{
			{
				Type:            "match_win",
				BasePoints:      100,
				TierMultipliers: map[string]float64{"basic": 1.0, "premium": 1.25, "elite": 1.5},
			},
			{
				Type:            "match_played",
				BasePoints:      10,
				TierMultipliers: map[string]float64{"basic": 1.0, "premium": 1.25, "elite": 1.5},
				DailyCap:        100,
			},
			{
				Type:            "subscription_renewal",
				BasePoints:      500,
				TierMultipliers: map[string]float64{"basic": 1.0, "premium": 1.5, "elite": 2.0},
				MonthlyCap:      1000,
			},
			{
				Type:            "daily_login",
				BasePoints:      5,
				TierMultipliers: map[string]float64{"basic": 1.0},
				DailyCap:        5,
			},
		},
	}
}

// Holder exposes the current rule table and hot-reloads it when the
// backing file changes. Rules are config, never user data.
type Holder struct {
	current atomic.Value // holds Table
}

// NewStaticHolder wraps a fixed table, used by tests and embedded callers.
func NewStaticHolder(table Table) (*Holder, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}
	holder := &Holder{}
	holder.current.Store(table)
	return holder, nil
}

func NewHolder() (*Holder, error) {
	v := viper.New()

	v.SetConfigName("rules")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/playpoints/config")
	v.AddConfigPath("/etc/playpoints")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PLAYPOINTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	usingDefaults := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		usingDefaults = true
	}

	var table Table
	if usingDefaults {
		table = DefaultTable()
	} else if err := v.UnmarshalKey("points", &table); err != nil {
		return nil, err
	}
	if err := validateTable(table); err != nil {
		return nil, err
	}

	holder := &Holder{}
	holder.current.Store(table)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated Table
		if err := v.UnmarshalKey("points", &updated); err != nil {
			log.Printf("[rules-config] reload failed: %v", err)
			return
		}
		if err := validateTable(updated); err != nil {
			log.Printf("[rules-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[rules-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *Holder) Get() Table {
	return h.current.Load().(Table)
}

func validateTable(table Table) error {
	if len(table.Rules) == 0 {
		return errors.New("points.rules cannot be empty")
	}
	seen := make(map[string]struct{}, len(table.Rules))
	for _, r := range table.Rules {
		if strings.TrimSpace(r.Type) == "" {
			return errors.New("points.rules entry missing type")
		}
		if _, dup := seen[r.Type]; dup {
			return fmt.Errorf("points.rules duplicate type %q", r.Type)
		}
		seen[r.Type] = struct{}{}
		if r.BasePoints < 0 {
			return fmt.Errorf("points.rules %q basePoints cannot be negative", r.Type)
		}
		if r.DailyCap < 0 || r.MonthlyCap < 0 {
			return fmt.Errorf("points.rules %q caps cannot be negative", r.Type)
		}
		for tier, m := range r.TierMultipliers {
			if m <= 0 {
				return fmt.Errorf("points.rules %q multiplier for tier %q must be positive", r.Type, tier)
			}
		}
	}
	return nil
}

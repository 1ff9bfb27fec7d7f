package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Plan is a purchasable benefit plan. Price is expressed in centavos.
type Plan struct {
	ID           string `mapstructure:"id"`
	Name         string `mapstructure:"name"`
	Price        int64  `mapstructure:"price"`
	BillingCycle string `mapstructure:"billing_cycle"`
	Scope        string `mapstructure:"scope"`
}

// PlanCatalog holds the plan list read from plans.yml and swaps it in
// place whenever the file changes.
type PlanCatalog struct {
	current atomic.Value // holds map[string]Plan
}

func NewPlanCatalog() (*PlanCatalog, error) {
	v := viper.New()

	v.SetConfigName("plans")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/treinepass/config") // Volume-mounted config
	v.AddConfigPath("/etc/treinepass")
	v.AddConfigPath(".")

	catalog := &PlanCatalog{}
	catalog.current.Store(map[string]Plan{})

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return catalog, nil
		}
		return nil, err
	}

	plans, err := readPlans(v)
	if err != nil {
		return nil, err
	}
	catalog.current.Store(plans)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := readPlans(v)
		if err != nil {
			log.Printf("[plan-catalog] invalid config ignored: %v", err)
			return
		}
		catalog.current.Store(updated)
		log.Printf("[plan-catalog] reloaded from %s", e.Name)
	})

	return catalog, nil
}

// NewStaticPlanCatalog builds a catalog that never reloads.
func NewStaticPlanCatalog(plans ...Plan) (*PlanCatalog, error) {
	indexed, err := indexPlans(plans)
	if err != nil {
		return nil, err
	}
	catalog := &PlanCatalog{}
	catalog.current.Store(indexed)
	return catalog, nil
}

// Lookup returns the plan with the given id.
func (c *PlanCatalog) Lookup(id string) (Plan, bool) {
	if c == nil {
		return Plan{}, false
	}
	plans, _ := c.current.Load().(map[string]Plan)
	plan, ok := plans[strings.TrimSpace(id)]
	return plan, ok
}

// Len reports how many plans are loaded.
func (c *PlanCatalog) Len() int {
	if c == nil {
		return 0
	}
	plans, _ := c.current.Load().(map[string]Plan)
	return len(plans)
}

func readPlans(v *viper.Viper) (map[string]Plan, error) {
	var plans []Plan
	if err := v.UnmarshalKey("plans", &plans); err != nil {
		return nil, err
	}
	return indexPlans(plans)
}

func indexPlans(plans []Plan) (map[string]Plan, error) {
	out := make(map[string]Plan, len(plans))
	for _, plan := range plans {
		plan.ID = strings.TrimSpace(plan.ID)
		if plan.ID == "" {
			return nil, errors.New("plans: id cannot be empty")
		}
		if plan.Price <= 0 {
			return nil, fmt.Errorf("plans: %s price must be positive", plan.ID)
		}
		if _, exists := out[plan.ID]; exists {
			return nil, fmt.Errorf("plans: duplicate id %s", plan.ID)
		}
		plan.BillingCycle = strings.ToLower(strings.TrimSpace(plan.BillingCycle))
		plan.Scope = strings.ToLower(strings.TrimSpace(plan.Scope))
		out[plan.ID] = plan
	}
	return out, nil
}

package config

import (
	"fmt"

	"github.com/Suhaibinator/CraftRouter/internal/routing"
	"github.com/Suhaibinator/CraftRouter/sdk/hooks"
)

type HookMatchConfig struct {
	Host string `yaml:"host" json:"host"`
}

type HookConfig struct {
	Name    string          `yaml:"name" json:"name"`
	Kind    hooks.Kind      `yaml:"kind" json:"kind"`
	Match   HookMatchConfig `yaml:"match" json:"match"`
	Timeout Duration        `yaml:"timeout" json:"timeout"`
}

// HookPlan is the resolved, priority-ordered set of hooks per event kind.
type HookPlan struct {
	Route      []hooks.ResolvedHook
	Connection []hooks.ResolvedHook
}

// ResolveHooks binds every configured hook to its registration in the hooks
// registry. Names must be unique, registered, and of the configured kind.
func (c *Config) ResolveHooks() (HookPlan, error) {
	var plan HookPlan
	seen := make(map[string]struct{}, len(c.Hooks))
	for _, hc := range c.Hooks {
		if hc.Name == "" {
			return HookPlan{}, fmt.Errorf("hook definition missing name")
		}
		if _, exists := seen[hc.Name]; exists {
			return HookPlan{}, fmt.Errorf("duplicate hook definition: %s", hc.Name)
		}
		seen[hc.Name] = struct{}{}

		reg, found := hooks.Lookup(hc.Name)
		if !found {
			return HookPlan{}, fmt.Errorf("hook %q not registered", hc.Name)
		}
		if reg.Kind != hc.Kind {
			return HookPlan{}, fmt.Errorf("hook %q has kind %s, configured as %s", hc.Name, reg.Kind, hc.Kind)
		}

		resolved := hooks.ResolvedHook{
			Registration: reg,
			Matcher:      hooks.Matcher{Host: routing.NormalizeHostname(hc.Match.Host)},
			Timeout:      hc.Timeout.Duration,
		}
		switch hc.Kind {
		case hooks.OnRouteRegistered:
			plan.Route = append(plan.Route, resolved)
		case hooks.OnConnectionRouted:
			plan.Connection = append(plan.Connection, resolved)
		default:
			return HookPlan{}, fmt.Errorf("hook %q has unknown kind %s", hc.Name, hc.Kind)
		}
	}
	hooks.SortByPriority(plan.Route)
	hooks.SortByPriority(plan.Connection)
	return plan, nil
}

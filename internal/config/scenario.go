package config

import (
	"sort"
	"strings"
)

// ScenarioCustom runs exactly what the flags say.
const ScenarioCustom = "custom"

// Scenario is a named preset of client count and connection pacing.
type Scenario struct {
	Name    string
	Clients int
	// ConnectSpread, when non-zero, staggers connection attempts so that all
	// clients connect over roughly this many seconds.
	ConnectSpread float64
}

var scenarios = map[string]Scenario{
	ScenarioCustom:            {Name: ScenarioCustom},
	"single-client":           {Name: "single-client", Clients: 1},
	"100-client-burst":        {Name: "100-client-burst", Clients: 100},
	"1000-client-steady-load": {Name: "1000-client-steady-load", Clients: 1000, ConnectSpread: 10},
}

// LookupScenario finds a preset by name, case-insensitively. An empty name
// is the custom scenario.
func LookupScenario(name string) (Scenario, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = ScenarioCustom
	}
	s, ok := scenarios[name]
	return s, ok
}

// ScenarioNames lists the known presets in sorted order.
func ScenarioNames() []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// applyScenario fills in preset values the user did not set explicitly.
func applyScenario(cfg *Config, clientsSet, connectRateSet bool) {
	s, ok := LookupScenario(cfg.Scenario)
	if !ok {
		return
	}
	cfg.Scenario = s.Name
	if s.Clients > 0 && !clientsSet {
		cfg.Clients = s.Clients
	}
	if s.ConnectSpread > 0 && !connectRateSet && cfg.Clients > 0 {
		cfg.ConnectRate = float64(cfg.Clients) / s.ConnectSpread
	}
}

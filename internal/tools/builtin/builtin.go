// Package builtin provides the local tools every deployment ships with:
// clock, weather, arithmetic, memory and document lookups, and a device
// controller for the home agent.
package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/normanking/concierge/internal/agents"
	"github.com/normanking/concierge/internal/data"
	"github.com/normanking/concierge/internal/enrich"
	"github.com/normanking/concierge/internal/tools"
)

// MemoryStore is the persistence the memory tools need.
type MemoryStore interface {
	AddMemory(ctx context.Context, m *data.Memory) (bool, error)
	SearchMemories(ctx context.Context, userID, query string, limit int) ([]*data.Memory, error)
}

// Deps are the collaborators the built-in tools call. Nil members disable
// the tools that need them.
type Deps struct {
	Weather   enrich.WeatherProvider
	Latitude  float64
	Longitude float64

	Memories  MemoryStore
	Documents enrich.DocumentSource
	Devices   DeviceController
}

// Register adds every built-in tool to reg under the agents that use it.
func Register(reg *tools.Registry, deps Deps) error {
	clock := NewClockTool()
	calc := NewCalculatorTool()

	byAgent := map[agents.Agent][]tools.Tool{
		agents.Personality: {clock},
		agents.Scheduling:  {clock},
		agents.Finance:     {clock, calc},
		agents.Coding:      {calc},
		agents.Research:    {calc},
		agents.Home:        {clock},
	}

	if deps.Weather != nil {
		w := NewWeatherTool(deps.Weather, deps.Latitude, deps.Longitude)
		for _, a := range []agents.Agent{agents.Personality, agents.Home, agents.Scheduling, agents.Research} {
			byAgent[a] = append(byAgent[a], w)
		}
	}
	if deps.Memories != nil {
		byAgent[agents.Personality] = append(byAgent[agents.Personality],
			NewRememberTool(deps.Memories), NewSearchMemoriesTool(deps.Memories))
		byAgent[agents.Research] = append(byAgent[agents.Research], NewSearchMemoriesTool(deps.Memories))
	}
	if deps.Documents != nil {
		docs := NewSearchDocumentsTool(deps.Documents)
		byAgent[agents.Research] = append(byAgent[agents.Research], docs)
		byAgent[agents.Personality] = append(byAgent[agents.Personality], docs)
	}
	if deps.Devices != nil {
		byAgent[agents.Home] = append(byAgent[agents.Home], NewDeviceTool(deps.Devices))
	}

	for agent, list := range byAgent {
		for _, t := range list {
			if err := reg.Register(agent, t); err != nil {
				return err
			}
		}
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// ARGUMENT HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func requiredString(args map[string]any, key string) (string, error) {
	s := stringArg(args, key)
	if s == "" {
		return "", fmt.Errorf("validation: %s is required", key)
	}
	return s, nil
}

func floatArg(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func intArg(args map[string]any, key string, def int) int {
	if f, ok := floatArg(args, key); ok && f > 0 {
		return int(f)
	}
	return def
}

func schema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

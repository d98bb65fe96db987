package builtin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/normanking/concierge/internal/tools"
)

// DeviceController operates home-automation devices.
type DeviceController interface {
	Control(ctx context.Context, entityID, action string, value *float64) (DeviceState, error)
}

// DeviceState is a device after a command.
type DeviceState struct {
	EntityID string   `json:"entity_id"`
	On       bool     `json:"on"`
	Level    *float64 `json:"level,omitempty"`
}

// Device actions.
const (
	ActionTurnOn  = "turn_on"
	ActionTurnOff = "turn_off"
	ActionToggle  = "toggle"
	ActionSet     = "set"
)

// DeviceTool is the control_device tool.
type DeviceTool struct {
	ctrl DeviceController
}

// NewDeviceTool creates the control_device tool.
func NewDeviceTool(c DeviceController) *DeviceTool { return &DeviceTool{ctrl: c} }

func (t *DeviceTool) Name() string { return "control_device" }

func (t *DeviceTool) Description() string {
	return "Control a home device such as a light, plug or thermostat."
}

func (t *DeviceTool) Parameters() map[string]any {
	return schema(map[string]any{
		"entity_id": prop("string", "Device id, e.g. light.living_room"),
		"action": map[string]any{
			"type": "string",
			"enum": []string{ActionTurnOn, ActionTurnOff, ActionToggle, ActionSet},
		},
		"value": prop("number", "Brightness percent or temperature for the set action"),
	}, "entity_id", "action")
}

func (t *DeviceTool) Execute(ctx context.Context, args map[string]any) (*tools.Output, error) {
	entity, err := requiredString(args, "entity_id")
	if err != nil {
		return nil, err
	}
	action, err := requiredString(args, "action")
	if err != nil {
		return nil, err
	}

	var value *float64
	if v, ok := floatArg(args, "value"); ok {
		value = &v
	}
	if action == ActionSet && value == nil {
		return nil, fmt.Errorf("validation: set requires a value")
	}

	state, err := t.ctrl.Control(ctx, entity, action, value)
	if err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("%s is now off", entity)
	if state.On {
		msg = fmt.Sprintf("%s is now on", entity)
		if state.Level != nil {
			msg += fmt.Sprintf(" at %.0f", *state.Level)
		}
	}
	return &tools.Output{Message: msg, Data: state}, nil
}

// MemoryHome is an in-process DeviceController holding device state in a
// map. It stands in for a real home-automation backend.
type MemoryHome struct {
	mu      sync.Mutex
	devices map[string]DeviceState
}

// NewMemoryHome creates a home with the given device ids, all off.
func NewMemoryHome(entityIDs ...string) *MemoryHome {
	h := &MemoryHome{devices: make(map[string]DeviceState)}
	for _, id := range entityIDs {
		h.devices[id] = DeviceState{EntityID: id}
	}
	return h
}

// Control implements DeviceController.
func (h *MemoryHome) Control(ctx context.Context, entityID, action string, value *float64) (DeviceState, error) {
	if err := ctx.Err(); err != nil {
		return DeviceState{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.devices[entityID]
	if !ok {
		return DeviceState{}, fmt.Errorf("device %s not found (known: %s)", entityID, strings.Join(h.idsLocked(), ", "))
	}

	switch action {
	case ActionTurnOn:
		st.On = true
	case ActionTurnOff:
		st.On = false
	case ActionToggle:
		st.On = !st.On
	case ActionSet:
		if value == nil {
			return DeviceState{}, fmt.Errorf("validation: set requires a value")
		}
		v := *value
		st.On, st.Level = v > 0, &v
	default:
		return DeviceState{}, fmt.Errorf("validation: unknown action %q", action)
	}
	h.devices[entityID] = st
	return st, nil
}

// State returns a device's current state.
func (h *MemoryHome) State(entityID string) (DeviceState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.devices[entityID]
	return st, ok
}

func (h *MemoryHome) idsLocked() []string {
	ids := make([]string, 0, len(h.devices))
	for id := range h.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

package builtin

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/concierge/internal/agents"
	"github.com/normanking/concierge/internal/data"
	"github.com/normanking/concierge/internal/enrich"
	"github.com/normanking/concierge/internal/tools"
)

func setupStore(t *testing.T) *data.Store {
	t.Helper()
	s, err := data.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type fakeWeather struct {
	gotLat, gotLon float64
	err            error
}

func (f *fakeWeather) Current(_ context.Context, lat, lon float64) (*enrich.Weather, error) {
	f.gotLat, f.gotLon = lat, lon
	if f.err != nil {
		return nil, f.err
	}
	return &enrich.Weather{TemperatureC: 12, WindKph: 20, Description: "rain"}, nil
}

func TestRegister(t *testing.T) {
	reg := tools.NewRegistry()
	store := setupStore(t)
	require.NoError(t, Register(reg, Deps{
		Weather:   &fakeWeather{},
		Latitude:  51.5,
		Longitude: -0.12,
		Memories:  store,
		Documents: store,
		Devices:   NewMemoryHome("light.living_room"),
	}))

	names := func(a agents.Agent) []string {
		var out []string
		for _, tl := range reg.Tools(a) {
			out = append(out, tl.Name())
		}
		return out
	}

	assert.Equal(t, []string{"control_device", "get_current_time", "get_weather"}, names(agents.Home))
	assert.Equal(t, []string{"get_current_time", "get_weather", "remember", "search_documents", "search_memories"}, names(agents.Personality))
	assert.Equal(t, []string{"calculate"}, names(agents.Coding))
	assert.Empty(t, names(agents.Image))

	minimal := tools.NewRegistry()
	require.NoError(t, Register(minimal, Deps{}))
	assert.False(t, minimal.HasTools(agents.Image))
	_, ok := minimal.Lookup(agents.Home, "control_device")
	assert.False(t, ok, "no device controller configured")
}

func TestClockTool(t *testing.T) {
	clock := NewClockTool()
	clock.now = func() time.Time { return time.Date(2026, 1, 15, 18, 45, 0, 0, time.UTC) }

	out, err := clock.Execute(context.Background(), map[string]any{"timezone": "Asia/Tokyo"})
	require.NoError(t, err)
	assert.Equal(t, "Friday, January 16, 2026 03:45 JST", out.Message)

	_, err = clock.Execute(context.Background(), map[string]any{"timezone": "Nowhere/City"})
	require.Error(t, err)
	assert.Equal(t, tools.ErrValidation, tools.Classify(err))
}

func TestWeatherTool(t *testing.T) {
	ctx := context.Background()
	fw := &fakeWeather{}
	w := NewWeatherTool(fw, 51.5, -0.12)

	out, err := w.Execute(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "rain, 12°C, wind 20 km/h", out.Message)
	assert.Equal(t, 51.5, fw.gotLat)

	_, err = w.Execute(ctx, map[string]any{"latitude": 40.7, "longitude": -74.0})
	require.NoError(t, err)
	assert.Equal(t, -74.0, fw.gotLon)

	_, err = w.Execute(ctx, map[string]any{"latitude": 40.7})
	assert.Equal(t, tools.ErrValidation, tools.Classify(err))

	_, err = NewWeatherTool(fw, 0, 0).Execute(ctx, nil)
	assert.Error(t, err)

	fw.err = errors.New("dial tcp: connection refused")
	_, err = w.Execute(ctx, nil)
	assert.Equal(t, tools.ErrConnection, tools.Classify(err))
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		expr string
		want float64
	}{
		{"1 + 2 * 3", 7},
		{"(1 + 2) * 3", 9},
		{"10 / 4", 2.5},
		{"10 % 4", 2},
		{"2 ^ 3 ^ 2", 512},
		{"-2^2", -4},
		{"--3", 3},
		{"1,200 * 0.15", 180},
		{"sqrt(16) + abs(-3)", 7},
		{"round(2.5)", 3},
		{"2 * pi", 2 * math.Pi},
		{"ln(e)", 1},
		{"log(1000)", 3},
		{".5 + .25", 0.75},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Evaluate(tt.expr)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	for _, expr := range []string{"", "1 +", "(1 + 2", "1 / 0", "5 % 0", "2 $ 3", "foo(2)", "sqrt 4", "1.2.3", "sqrt(-1)", "1 2"} {
		t.Run(expr, func(t *testing.T) {
			_, err := Evaluate(expr)
			assert.Error(t, err)
		})
	}
}

func TestCalculatorTool(t *testing.T) {
	calc := NewCalculatorTool()

	out, err := calc.Execute(context.Background(), map[string]any{"expression": "(1200 * 0.15) / 12"})
	require.NoError(t, err)
	assert.Equal(t, "(1200 * 0.15) / 12 = 15", out.Message)

	_, err = calc.Execute(context.Background(), map[string]any{})
	assert.Equal(t, tools.ErrValidation, tools.Classify(err))

	_, err = calc.Execute(context.Background(), map[string]any{"expression": "1/0"})
	assert.Equal(t, tools.ErrValidation, tools.Classify(err))
}

func TestMemoryTools(t *testing.T) {
	store := setupStore(t)
	ctx := tools.WithCaller(context.Background(), "user-1")

	remember := NewRememberTool(store)
	out, err := remember.Execute(ctx, map[string]any{"content": "Allergic to peanuts", "category": "fact", "importance": 0.9})
	require.NoError(t, err)
	assert.Equal(t, "Saved.", out.Message)

	out, err = remember.Execute(ctx, map[string]any{"content": "Allergic to peanuts"})
	require.NoError(t, err)
	assert.Equal(t, "I already knew that.", out.Message)

	_, err = remember.Execute(ctx, map[string]any{})
	assert.Equal(t, tools.ErrValidation, tools.Classify(err))

	_, err = remember.Execute(context.Background(), map[string]any{"content": "x"})
	assert.Error(t, err, "no caller")

	search := NewSearchMemoriesTool(store)
	out, err = search.Execute(ctx, map[string]any{"query": "peanuts"})
	require.NoError(t, err)
	assert.Equal(t, "- Allergic to peanuts", out.Message)

	other := tools.WithCaller(context.Background(), "user-2")
	out, err = search.Execute(other, map[string]any{"query": "peanuts"})
	require.NoError(t, err)
	assert.Equal(t, "No matching memories.", out.Message, "memories are per user")
}

func TestSearchDocumentsTool(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.AddDocument(ctx, &data.Document{UserID: "user-1", Title: "Boiler manual", Content: "Reset the boiler by holding the pressure button."}))
	require.NoError(t, store.AddDocument(ctx, &data.Document{UserID: "user-1", Title: "Holiday plans", Content: "Flights to Lisbon."}))

	tool := NewSearchDocumentsTool(store)
	out, err := tool.Execute(tools.WithCaller(ctx, "user-1"), map[string]any{"query": "how do I reset the boiler"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.Message, "## Boiler manual"))
	assert.NotContains(t, out.Message, "Lisbon")

	out, err = tool.Execute(tools.WithCaller(ctx, "user-1"), map[string]any{"query": "quantum physics"})
	require.NoError(t, err)
	assert.Equal(t, "No matching documents.", out.Message)
}

func TestDeviceTool(t *testing.T) {
	home := NewMemoryHome("light.living_room", "climate.hall")
	tool := NewDeviceTool(home)
	ctx := context.Background()

	out, err := tool.Execute(ctx, map[string]any{"entity_id": "light.living_room", "action": "turn_on"})
	require.NoError(t, err)
	assert.Equal(t, "light.living_room is now on", out.Message)

	out, err = tool.Execute(ctx, map[string]any{"entity_id": "climate.hall", "action": "set", "value": 21.0})
	require.NoError(t, err)
	assert.Equal(t, "climate.hall is now on at 21", out.Message)

	out, err = tool.Execute(ctx, map[string]any{"entity_id": "light.living_room", "action": "toggle"})
	require.NoError(t, err)
	assert.Equal(t, "light.living_room is now off", out.Message)
	st, _ := home.State("light.living_room")
	assert.False(t, st.On)

	_, err = tool.Execute(ctx, map[string]any{"entity_id": "light.garage", "action": "turn_on"})
	assert.Equal(t, tools.ErrNotFound, tools.Classify(err))

	_, err = tool.Execute(ctx, map[string]any{"entity_id": "climate.hall", "action": "set"})
	assert.Equal(t, tools.ErrValidation, tools.Classify(err))

	_, err = tool.Execute(ctx, map[string]any{"entity_id": "climate.hall", "action": "explode"})
	assert.Equal(t, tools.ErrValidation, tools.Classify(err))
}

func TestDeviceToolThroughExecutor(t *testing.T) {
	reg := tools.NewRegistry()
	reg.MustRegister(agents.Home, NewDeviceTool(NewMemoryHome("light.kitchen")))
	e := tools.NewExecutor(reg)

	r := e.Execute(context.Background(), agents.Home, "control_device",
		map[string]any{"entity_id": "light.kitchen", "action": "turn_on"}, "user-1")
	require.True(t, r.Success)
	assert.Equal(t, "light.kitchen is now on", r.Message)
	assert.Equal(t, "home", r.Meta.Source)
}

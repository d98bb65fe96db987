package builtin

import (
	"context"
	"fmt"

	"github.com/normanking/concierge/internal/enrich"
	"github.com/normanking/concierge/internal/tools"
)

// WeatherTool looks up current conditions.
type WeatherTool struct {
	provider enrich.WeatherProvider
	lat, lon float64
}

// NewWeatherTool creates the get_weather tool. lat and lon are used when the
// model gives no coordinates.
func NewWeatherTool(p enrich.WeatherProvider, lat, lon float64) *WeatherTool {
	return &WeatherTool{provider: p, lat: lat, lon: lon}
}

func (t *WeatherTool) Name() string { return "get_weather" }

func (t *WeatherTool) Description() string {
	return "Get the current weather. Without coordinates it reports the user's home location."
}

func (t *WeatherTool) Parameters() map[string]any {
	return schema(map[string]any{
		"latitude":  prop("number", "Latitude in decimal degrees"),
		"longitude": prop("number", "Longitude in decimal degrees"),
	})
}

func (t *WeatherTool) Execute(ctx context.Context, args map[string]any) (*tools.Output, error) {
	lat, okLat := floatArg(args, "latitude")
	lon, okLon := floatArg(args, "longitude")
	if okLat != okLon {
		return nil, fmt.Errorf("validation: latitude and longitude must be given together")
	}
	if !okLat {
		lat, lon = t.lat, t.lon
	}
	if lat == 0 && lon == 0 {
		return nil, fmt.Errorf("validation: no location configured; pass latitude and longitude")
	}

	w, err := t.provider.Current(ctx, lat, lon)
	if err != nil {
		return nil, err
	}
	return &tools.Output{Message: w.String(), Data: w}, nil
}

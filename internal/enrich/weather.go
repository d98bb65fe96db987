package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/normanking/concierge/internal/cache"
)

// ═══════════════════════════════════════════════════════════════════════════════
// WEATHER
// ═══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultWeatherURL is the Open-Meteo forecast endpoint.
	DefaultWeatherURL = "https://api.open-meteo.com/v1/forecast"
	// DefaultWeatherTTL is how long a reading is reused.
	DefaultWeatherTTL = 10 * time.Minute
)

// Weather is a current-conditions reading.
type Weather struct {
	TemperatureC float64   `json:"temperature_c"`
	WindKph      float64   `json:"wind_kph"`
	Code         int       `json:"code"`
	Description  string    `json:"description"`
	ObservedAt   time.Time `json:"observed_at"`
}

// String renders a one-line summary.
func (w *Weather) String() string {
	return fmt.Sprintf("%s, %.0f°C, wind %.0f km/h", w.Description, w.TemperatureC, w.WindKph)
}

// WeatherProvider returns current conditions at a coordinate.
type WeatherProvider interface {
	Current(ctx context.Context, lat, lon float64) (*Weather, error)
}

// WeatherClient queries an Open-Meteo compatible endpoint and caches readings.
type WeatherClient struct {
	client  *http.Client
	baseURL string
	cache   cache.Cache
	ttl     time.Duration
}

// WeatherConfig configures the weather client.
type WeatherConfig struct {
	BaseURL string
	TTL     time.Duration
	Timeout time.Duration
}

// NewWeatherClient creates a client. A nil cache disables caching.
func NewWeatherClient(cfg WeatherConfig, c cache.Cache) *WeatherClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultWeatherURL
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultWeatherTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &WeatherClient{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: cfg.BaseURL,
		cache:   c,
		ttl:     cfg.TTL,
	}
}

type openMeteoResponse struct {
	Current struct {
		Time        string  `json:"time"`
		Temperature float64 `json:"temperature_2m"`
		WeatherCode int     `json:"weather_code"`
		WindSpeed   float64 `json:"wind_speed_10m"`
	} `json:"current"`
}

// Current implements WeatherProvider.
func (c *WeatherClient) Current(ctx context.Context, lat, lon float64) (*Weather, error) {
	key := fmt.Sprintf("weather:%.2f:%.2f", lat, lon)
	if c.cache != nil {
		var cached Weather
		ok, err := cache.GetJSON(ctx, c.cache, key, &cached)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("weather cache read failed")
		} else if ok {
			return &cached, nil
		}
	}

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', 4, 64))
	q.Set("current", "temperature_2m,weather_code,wind_speed_10m")
	q.Set("timezone", "UTC")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build weather request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather API returned status %d", resp.StatusCode)
	}

	var body openMeteoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode weather response: %w", err)
	}

	w := &Weather{
		TemperatureC: body.Current.Temperature,
		WindKph:      body.Current.WindSpeed,
		Code:         body.Current.WeatherCode,
		Description:  DescribeWeatherCode(body.Current.WeatherCode),
	}
	if t, err := time.Parse("2006-01-02T15:04", body.Current.Time); err == nil {
		w.ObservedAt = t
	}

	if c.cache != nil {
		if err := cache.SetJSON(ctx, c.cache, key, w, c.ttl); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("weather cache write failed")
		}
	}
	return w, nil
}

// DescribeWeatherCode maps a WMO weather code to words.
func DescribeWeatherCode(code int) string {
	switch {
	case code == 0:
		return "clear sky"
	case code <= 2:
		return "partly cloudy"
	case code == 3:
		return "overcast"
	case code == 45 || code == 48:
		return "fog"
	case code >= 51 && code <= 57:
		return "drizzle"
	case code >= 61 && code <= 67:
		return "rain"
	case code >= 71 && code <= 77:
		return "snow"
	case code >= 80 && code <= 82:
		return "rain showers"
	case code == 85 || code == 86:
		return "snow showers"
	case code >= 95:
		return "thunderstorm"
	default:
		return "unknown conditions"
	}
}

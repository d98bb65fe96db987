package enrich

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/concierge/internal/cache"
	"github.com/normanking/concierge/internal/config"
	"github.com/normanking/concierge/internal/data"
)

const openMeteoBody = `{
  "latitude": 48.86,
  "longitude": 2.35,
  "current": {"time": "2026-05-04T09:15", "temperature_2m": 17.4, "weather_code": 3, "wind_speed_10m": 11.2}
}`

func newWeatherServer(t *testing.T, status int, body string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "48.8600", r.URL.Query().Get("latitude"))
		assert.Contains(t, r.URL.Query().Get("current"), "temperature_2m")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWeatherClient_CurrentAndCache(t *testing.T) {
	var hits atomic.Int32
	srv := newWeatherServer(t, http.StatusOK, openMeteoBody, &hits)
	c := NewWeatherClient(WeatherConfig{BaseURL: srv.URL}, cache.NewMemoryCache())
	ctx := context.Background()

	w, err := c.Current(ctx, 48.86, 2.35)
	require.NoError(t, err)
	assert.Equal(t, 17.4, w.TemperatureC)
	assert.Equal(t, "overcast", w.Description)
	assert.Equal(t, 2026, w.ObservedAt.Year())
	assert.Equal(t, "overcast, 17°C, wind 11 km/h", w.String())

	again, err := c.Current(ctx, 48.86, 2.35)
	require.NoError(t, err)
	assert.Equal(t, w.TemperatureC, again.TemperatureC)
	assert.Equal(t, int32(1), hits.Load(), "second lookup served from cache")
}

func TestWeatherClient_CacheExpires(t *testing.T) {
	var hits atomic.Int32
	srv := newWeatherServer(t, http.StatusOK, openMeteoBody, &hits)

	now := time.Now()
	mc := cache.NewMemoryCache(cache.WithClock(func() time.Time { return now }))
	c := NewWeatherClient(WeatherConfig{BaseURL: srv.URL, TTL: time.Minute}, mc)
	ctx := context.Background()

	_, err := c.Current(ctx, 48.86, 2.35)
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	_, err = c.Current(ctx, 48.86, 2.35)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestWeatherClient_Errors(t *testing.T) {
	var hits atomic.Int32
	ctx := context.Background()

	srv := newWeatherServer(t, http.StatusBadGateway, "oops", &hits)
	_, err := NewWeatherClient(WeatherConfig{BaseURL: srv.URL}, nil).Current(ctx, 48.86, 2.35)
	assert.ErrorContains(t, err, "502")

	bad := newWeatherServer(t, http.StatusOK, "{not json", &hits)
	_, err = NewWeatherClient(WeatherConfig{BaseURL: bad.URL}, nil).Current(ctx, 48.86, 2.35)
	assert.ErrorContains(t, err, "decode")
}

func TestDescribeWeatherCode(t *testing.T) {
	tests := map[int]string{
		0:  "clear sky",
		2:  "partly cloudy",
		45: "fog",
		63: "rain",
		75: "snow",
		81: "rain showers",
		96: "thunderstorm",
		42: "unknown conditions",
	}
	for code, want := range tests {
		assert.Equal(t, want, DescribeWeatherCode(code), "code %d", code)
	}
}

type fakeWeather struct {
	w   *Weather
	err error
}

func (f fakeWeather) Current(context.Context, float64, float64) (*Weather, error) {
	return f.w, f.err
}

type fakeMemories struct {
	mems []*data.Memory
	err  error
	gotN int
}

func (f *fakeMemories) TopMemories(_ context.Context, _ string, _ float64, limit int) ([]*data.Memory, error) {
	f.gotN = limit
	return f.mems, f.err
}

type fakeDocs struct {
	docs []*data.Document
	err  error
}

func (f fakeDocs) ListDocuments(context.Context, string, int) ([]*data.Document, error) {
	return f.docs, f.err
}

func testConfig() config.EnrichConfig {
	return config.EnrichConfig{
		Location:             "Paris, France",
		Latitude:             48.86,
		Longitude:            2.35,
		Timezone:             "Europe/Paris",
		DocumentMinRelevance: 0.2,
	}
}

func TestBuild(t *testing.T) {
	fixed := time.Date(2026, 5, 4, 7, 30, 0, 0, time.UTC)
	mems := &fakeMemories{mems: []*data.Memory{{Content: "User's name is Sam"}}}
	docs := fakeDocs{docs: []*data.Document{
		{Title: "Lease agreement", Content: "Apartment lease renewal terms and rent increase."},
		{Title: "Recipes", Content: "Pasta, risotto and soup."},
	}}

	e := New(testConfig(),
		WithClock(func() time.Time { return fixed }),
		WithWeather(fakeWeather{w: &Weather{TemperatureC: 18, Description: "clear sky"}}),
		WithMemories(mems, 7),
		WithDocuments(docs, 2),
	)

	c := e.Build(context.Background(), "user-1", "When does my lease renewal happen?")

	assert.Equal(t, "Europe/Paris", c.Now.Location().String())
	assert.Equal(t, 9, c.Now.Hour())
	assert.Equal(t, "Paris, France", c.Location)
	require.NotNil(t, c.Weather)
	assert.Len(t, c.Memories, 1)
	assert.Equal(t, 7, mems.gotN)
	require.Len(t, c.Documents, 1)
	assert.Equal(t, "Lease agreement", c.Documents[0].Title)
}

func TestBuild_FailuresDegradeToEmpty(t *testing.T) {
	e := New(testConfig(),
		WithWeather(fakeWeather{err: errors.New("connection refused")}),
		WithMemories(&fakeMemories{err: errors.New("database is locked")}, 5),
		WithDocuments(fakeDocs{err: errors.New("no such table")}, 3),
	)

	c := e.Build(context.Background(), "user-1", "hello there")

	require.NotNil(t, c)
	assert.Nil(t, c.Weather)
	assert.Empty(t, c.Memories)
	assert.Empty(t, c.Documents)
	assert.Contains(t, c.Prompt(), "Current time")
}

func TestBuild_SkipsUnconfiguredParts(t *testing.T) {
	cfg := testConfig()
	cfg.Latitude, cfg.Longitude = 0, 0
	mems := &fakeMemories{mems: []*data.Memory{{Content: "x"}}}

	e := New(cfg, WithWeather(fakeWeather{w: &Weather{}}), WithMemories(mems, 5))
	c := e.Build(context.Background(), "", "hi")

	assert.Nil(t, c.Weather, "no coordinates configured")
	assert.Empty(t, c.Memories, "anonymous user has no memories")
}

func TestNew_UnknownTimezone(t *testing.T) {
	cfg := testConfig()
	cfg.Timezone = "Mars/Olympus"
	e := New(cfg)
	assert.Equal(t, time.Local, e.loc)
}

func TestRelevantDocuments(t *testing.T) {
	docs := []*data.Document{
		{ID: "a", Title: "Tax return 2025", Content: "Deductions and tax refund estimate."},
		{ID: "b", Title: "Garden", Content: "Tomatoes need watering."},
		{ID: "c", Title: "Tax notes", Content: "Quarterly estimates."},
	}

	got := RelevantDocuments("how big is my tax refund", docs, 0.2, 5)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID, "both keywords match")
	assert.Equal(t, "c", got[1].ID)

	assert.Len(t, RelevantDocuments("how big is my tax refund", docs, 0.2, 1), 1)
	assert.Empty(t, RelevantDocuments("how big is my tax refund", docs, 0.9, 5))
	assert.Empty(t, RelevantDocuments("hi", docs, 0, 5))
}

func TestPrompt(t *testing.T) {
	c := &Context{
		Now:      time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC),
		Location: "Paris",
		Weather:  &Weather{TemperatureC: 18, WindKph: 5, Description: "clear sky"},
		Memories: []*data.Memory{{Content: "Prefers metric units"}},
		Documents: []*data.Document{
			{Title: "Notes", Content: strings.Repeat("x", 700)},
		},
	}

	p := c.Prompt()
	assert.Contains(t, p, "Monday, May 4, 2026 09:30 UTC")
	assert.Contains(t, p, "Location: Paris")
	assert.Contains(t, p, "clear sky, 18°C")
	assert.Contains(t, p, "- Prefers metric units")
	assert.Contains(t, p, "### Notes")
	assert.Contains(t, p, "…")
	assert.NotContains(t, p, strings.Repeat("x", 601))

	var nilCtx *Context
	assert.Empty(t, nilCtx.Prompt())
}

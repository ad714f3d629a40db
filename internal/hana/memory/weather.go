package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	defaultWeatherTTL     = 30 * time.Minute
	defaultWeatherTimeout = 5 * time.Second
	weatherCacheKey       = "current"
)

// WeatherSource reports current conditions from the Open-Meteo forecast API.
// Results are cached so a busy conversation costs at most one request per
// TTL; failures are logged and the line is omitted.
type WeatherSource struct {
	baseURL   string
	latitude  float64
	longitude float64
	client    *http.Client
	cache     *cache.Cache
	logger    *slog.Logger
}

// NewWeatherSource creates a source for the given coordinates. baseURL is
// the API root, e.g. "https://api.open-meteo.com".
func NewWeatherSource(baseURL string, latitude, longitude float64, ttl time.Duration, logger *slog.Logger) *WeatherSource {
	if ttl <= 0 {
		ttl = defaultWeatherTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WeatherSource{
		baseURL:   strings.TrimRight(baseURL, "/"),
		latitude:  latitude,
		longitude: longitude,
		client:    &http.Client{Timeout: defaultWeatherTimeout},
		cache:     cache.New(ttl, 2*ttl),
		logger:    logger,
	}
}

type openMeteoResponse struct {
	Current struct {
		Temperature float64 `json:"temperature_2m"`
		WeatherCode int     `json:"weather_code"`
	} `json:"current"`
}

// Fetch returns e.g. "Weather: 28°C, hujan ringan".
func (w *WeatherSource) Fetch(ctx context.Context) (string, bool) {
	if v, ok := w.cache.Get(weatherCacheKey); ok {
		return v.(string), true
	}

	line, err := w.fetch(ctx)
	if err != nil {
		w.logger.Debug("weather unavailable", "err", err)
		return "", false
	}
	w.cache.Set(weatherCacheKey, line, cache.DefaultExpiration)
	return line, true
}

func (w *WeatherSource) fetch(ctx context.Context) (string, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(w.latitude, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(w.longitude, 'f', 4, 64))
	q.Set("current", "temperature_2m,weather_code")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/v1/forecast?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("open-meteo: status %d", resp.StatusCode)
	}

	var body openMeteoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("open-meteo: decode: %w", err)
	}
	return fmt.Sprintf("Weather: %d°C, %s",
		int(math.Round(body.Current.Temperature)), describeWeatherCode(body.Current.WeatherCode)), nil
}

// describeWeatherCode maps WMO weather interpretation codes to short
// Indonesian descriptions.
func describeWeatherCode(code int) string {
	switch {
	case code == 0:
		return "cerah"
	case code <= 2:
		return "cerah berawan"
	case code == 3:
		return "mendung"
	case code == 45 || code == 48:
		return "berkabut"
	case code >= 51 && code <= 57:
		return "gerimis"
	case code == 61 || code == 80:
		return "hujan ringan"
	case code == 63 || code == 81:
		return "hujan sedang"
	case code == 65 || code == 82 || code == 66 || code == 67:
		return "hujan lebat"
	case code >= 71 && code <= 77, code == 85, code == 86:
		return "bersalju"
	case code >= 95:
		return "badai petir"
	}
	return "tidak menentu"
}

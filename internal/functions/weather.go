package functions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ent0n29/callrelay/internal/reliability"
)

const DefaultWeatherURL = "https://api.open-meteo.com/v1/forecast"

type WeatherConfig struct {
	BaseURL string
	Client  *http.Client
	// Attempts bounds requests answered with a retryable status.
	Attempts int
}

// Weather returns get_weather_from_coords, backed by an Open-Meteo compatible API.
func Weather(cfg WeatherConfig) Function {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultWeatherURL
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	return Function{
		Name:        "get_weather_from_coords",
		Description: "Get the current weather",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"latitude": {"type": "number"},
				"longitude": {"type": "number"}
			},
			"required": ["latitude", "longitude"]
		}`),
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args struct {
				Latitude  *float64 `json:"latitude"`
				Longitude *float64 `json:"longitude"`
			}
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("decode arguments: %w", err)
			}
			if args.Latitude == nil || args.Longitude == nil {
				return "", fmt.Errorf("latitude and longitude are required")
			}
			temp, err := fetchTemperature(ctx, cfg, *args.Latitude, *args.Longitude)
			if err != nil {
				return "", err
			}
			out, err := json.Marshal(map[string]float64{"temp": temp})
			if err != nil {
				return "", err
			}
			return string(out), nil
		},
	}
}

func fetchTemperature(ctx context.Context, cfg WeatherConfig, lat, lon float64) (float64, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return 0, err
	}
	q := u.Query()
	q.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("current", "temperature_2m,wind_speed_10m")
	u.RawQuery = q.Encode()

	var payload struct {
		Current struct {
			Temperature *float64 `json:"temperature_2m"`
		} `json:"current"`
	}
	err = reliability.Retry(ctx, cfg.Attempts, 200*time.Millisecond, 2*time.Second, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return err
		}
		resp, err := cfg.Client.Do(req)
		if err != nil {
			return reliability.Retryable(fmt.Errorf("weather request: %w", err))
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			statusErr := fmt.Errorf("weather api status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			if reliability.IsRetryableHTTPStatus(resp.StatusCode) {
				return reliability.Retryable(statusErr)
			}
			return statusErr
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return fmt.Errorf("decode weather response: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if payload.Current.Temperature == nil {
		return 0, fmt.Errorf("weather response has no current temperature")
	}
	return *payload.Current.Temperature, nil
}

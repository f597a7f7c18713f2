// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package weather fetches current conditions and weekly forecasts from the
// Open-Meteo API and renders them as Russian text for history injection.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.open-meteo.com/v1/forecast"

// weatherCodes maps WMO weather interpretation codes to Russian
// descriptions, as rendered to the user.
var weatherCodes = map[int]string{
	0:  "Ясное небо",
	1:  "Преимущественно ясно",
	2:  "Частично облачно",
	3:  "Пасмурно",
	45: "Туман",
	48: "Туман с отложением инея",
	51: "Слабая морось",
	53: "Умеренная морось",
	55: "Сильная морось",
	56: "Слабая замерзающая морось",
	57: "Сильная замерзающая морось",
	61: "Слабый дождь",
	63: "Умеренный дождь",
	65: "Сильный дождь",
	66: "Слабый замерзающий дождь",
	67: "Сильный замерзающий дождь",
	71: "Слабый снегопад",
	73: "Умеренный снегопад",
	75: "Сильный снегопад",
	77: "Снежные зерна",
	80: "Слабый ливневый дождь",
	81: "Умеренный ливневый дождь",
	82: "Сильный ливневый дождь",
	85: "Слабые снеговые ливни",
	86: "Сильные снеговые ливни",
	95: "Гроза: слабая или умеренная",
	96: "Гроза с слабым градом",
	99: "Гроза с сильным градом",
}

func describeWeatherCode(code int) string {
	if d, ok := weatherCodes[code]; ok {
		return d
	}
	return "Неизвестный код погоды"
}

// Client calls the Open-Meteo forecast API. The zero value is not usable;
// construct with NewClient.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a weather client with a 30 second request timeout.
func NewClient() *Client {
	return &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// NewClientWithBaseURL creates a client pointed at a custom endpoint.
// Used by tests.
func NewClientWithBaseURL(baseURL string) *Client {
	c := NewClient()
	c.baseURL = baseURL
	return c
}

type currentWeatherResponse struct {
	CurrentWeather struct {
		Temperature float64 `json:"temperature"`
		WindSpeed   float64 `json:"windspeed"`
		WeatherCode int     `json:"weathercode"`
		Time        string  `json:"time"`
	} `json:"current_weather"`
	Hourly struct {
		Time             []string  `json:"time"`
		RelativeHumidity []float64 `json:"relative_humidity_2m"`
	} `json:"hourly"`
}

// CurrentWeather returns a one-line Russian description of the current
// conditions at the given coordinates.
func (c *Client) CurrentWeather(ctx context.Context, latitude, longitude float64) (string, error) {
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(latitude, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(longitude, 'f', -1, 64))
	params.Set("current_weather", "true")
	params.Set("hourly", "relative_humidity_2m")

	body, err := c.get(ctx, params)
	if err != nil {
		return "", err
	}

	var resp currentWeatherResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse Open-Meteo response: %w", err)
	}

	humidity := currentHumidity(resp)
	cur := resp.CurrentWeather
	result := fmt.Sprintf(
		"Погода: %s, температура: %.1f°C, скорость ветра %.1f км/ч, влажность %s.",
		describeWeatherCode(cur.WeatherCode), cur.Temperature, cur.WindSpeed, humidity)

	slog.Debug("Fetched current weather",
		"latitude", latitude, "longitude", longitude, "code", cur.WeatherCode)
	return result, nil
}

// currentHumidity finds the hourly humidity sample matching the
// current-weather timestamp rounded to the nearest hour.
func currentHumidity(resp currentWeatherResponse) string {
	ts, err := time.Parse("2006-01-02T15:04", resp.CurrentWeather.Time)
	if err != nil {
		return "неизвестно"
	}
	rounded := ts.Truncate(time.Hour)
	if ts.Minute() >= 30 {
		rounded = rounded.Add(time.Hour)
	}
	want := rounded.Format("2006-01-02T15:04")

	for i, hour := range resp.Hourly.Time {
		if hour == want && i < len(resp.Hourly.RelativeHumidity) {
			return fmt.Sprintf("%.0f%%", resp.Hourly.RelativeHumidity[i])
		}
	}
	return "неизвестно"
}

// WeeklyForecast returns the 7-day daily forecast rendered as a markdown
// style key/value listing, ready for history injection.
func (c *Client) WeeklyForecast(ctx context.Context, latitude, longitude float64) (string, error) {
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(latitude, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(longitude, 'f', -1, 64))
	params.Set("daily", "temperature_2m_max,temperature_2m_min,precipitation_sum,"+
		"windspeed_10m_max,relative_humidity_2m_max,relative_humidity_2m_min")
	params.Set("timezone", "auto")

	body, err := c.get(ctx, params)
	if err != nil {
		return "", err
	}

	// The forecast payload is rendered generically: the model reads the
	// raw figures, so field-by-field parsing adds nothing.
	var forecast map[string]any
	if err := json.Unmarshal(body, &forecast); err != nil {
		return "", fmt.Errorf("failed to parse Open-Meteo forecast: %w", err)
	}

	return renderMarkdown(forecast, 0), nil
}

func (c *Client) get(ctx context.Context, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Open-Meteo request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("Open-Meteo API call failed", "error", err)
		return nil, fmt.Errorf("Open-Meteo API call failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read Open-Meteo response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		slog.Error("Open-Meteo returned an error",
			"status_code", resp.StatusCode, "response", string(body))
		return nil, fmt.Errorf("Open-Meteo failed with status %d", resp.StatusCode)
	}
	return body, nil
}

// renderMarkdown flattens a decoded JSON document into an indented
// heading/bullet listing with deterministic key order.
func renderMarkdown(value map[string]any, indent int) string {
	keys := make([]string, 0, len(value))
	for k := range value {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	pad := strings.Repeat("  ", indent)
	for _, k := range keys {
		switch v := value[k].(type) {
		case map[string]any:
			fmt.Fprintf(&b, "%s## %s\n", pad, k)
			b.WriteString(renderMarkdown(v, indent+1))
		case []any:
			fmt.Fprintf(&b, "%s### %s\n", pad, k)
			for _, item := range v {
				fmt.Fprintf(&b, "%s- %v\n", pad, item)
			}
		default:
			fmt.Fprintf(&b, "%s- **%s**: %v\n", pad, k, v)
		}
	}
	return b.String()
}

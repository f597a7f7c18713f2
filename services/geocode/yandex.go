// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package geocode resolves addresses to coordinates and back via the
// Yandex Geocoder HTTP API.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://geocode-maps.yandex.ru/1.x/"

// Point is a WGS84 coordinate pair.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Client calls the Yandex Geocoder API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a geocoder from the YANDEX_GEOCODER_API_KEY
// environment variable.
func NewClient() (*Client, error) {
	apiKey := os.Getenv("YANDEX_GEOCODER_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("YANDEX_GEOCODER_API_KEY environment variable not set")
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// NewClientWithBaseURL creates a client pointed at a custom endpoint.
// Used by tests.
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// geocoderResponse is the subset of the GeoObjectCollection document the
// client reads.
type geocoderResponse struct {
	Response struct {
		GeoObjectCollection struct {
			FeatureMember []struct {
				GeoObject struct {
					MetaDataProperty struct {
						GeocoderMetaData struct {
							Text string `json:"text"`
						} `json:"GeocoderMetaData"`
					} `json:"metaDataProperty"`
					Point struct {
						// "longitude latitude", space separated.
						Pos string `json:"pos"`
					} `json:"Point"`
				} `json:"GeoObject"`
			} `json:"featureMember"`
		} `json:"GeoObjectCollection"`
	} `json:"response"`
}

// Reverse returns the human-readable address nearest to the coordinates,
// or an empty string when the geocoder knows nothing about the spot.
func (c *Client) Reverse(ctx context.Context, latitude, longitude float64) (string, error) {
	// Yandex takes coordinates longitude-first.
	geocode := strconv.FormatFloat(longitude, 'f', -1, 64) + "," +
		strconv.FormatFloat(latitude, 'f', -1, 64)

	resp, err := c.query(ctx, geocode)
	if err != nil {
		return "", err
	}

	members := resp.Response.GeoObjectCollection.FeatureMember
	if len(members) == 0 {
		slog.Debug("Reverse geocoding found no address",
			"latitude", latitude, "longitude", longitude)
		return "", nil
	}
	return members[0].GeoObject.MetaDataProperty.GeocoderMetaData.Text, nil
}

// Forward resolves a free-form address to coordinates. It returns nil
// when the geocoder cannot place the address.
func (c *Client) Forward(ctx context.Context, address string) (*Point, error) {
	resp, err := c.query(ctx, address)
	if err != nil {
		return nil, err
	}

	members := resp.Response.GeoObjectCollection.FeatureMember
	if len(members) == 0 {
		slog.Debug("Forward geocoding found no match", "address", address)
		return nil, nil
	}

	pos := members[0].GeoObject.Point.Pos
	parts := strings.Fields(pos)
	if len(parts) != 2 {
		return nil, fmt.Errorf("unexpected point format %q", pos)
	}
	lon, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse longitude %q: %w", parts[0], err)
	}
	lat, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse latitude %q: %w", parts[1], err)
	}
	return &Point{Latitude: lat, Longitude: lon}, nil
}

func (c *Client) query(ctx context.Context, geocode string) (*geocoderResponse, error) {
	params := url.Values{}
	params.Set("apikey", c.apiKey)
	params.Set("geocode", geocode)
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create geocoder request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("Yandex geocoder call failed", "error", err)
		return nil, fmt.Errorf("Yandex geocoder call failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read geocoder response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		slog.Error("Yandex geocoder returned an error",
			"status_code", resp.StatusCode, "response", string(body))
		return nil, fmt.Errorf("Yandex geocoder failed with status %d", resp.StatusCode)
	}

	var out geocoderResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse geocoder response: %w", err)
	}
	return &out, nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package geocode

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func geocoderPayload(members string) string {
	return fmt.Sprintf(`{"response":{"GeoObjectCollection":{"featureMember":[%s]}}}`, members)
}

func TestForward(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))
		assert.Equal(t, "Москва, Красная площадь", r.URL.Query().Get("geocode"))
		fmt.Fprint(w, geocoderPayload(
			`{"GeoObject":{"Point":{"pos":"37.621202 55.753544"}}}`))
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	point, err := c.Forward(context.Background(), "Москва, Красная площадь")
	require.NoError(t, err)
	require.NotNil(t, point)

	// pos is longitude-first.
	assert.InDelta(t, 55.753544, point.Latitude, 1e-9)
	assert.InDelta(t, 37.621202, point.Longitude, 1e-9)
}

func TestForwardNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, geocoderPayload(""))
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	point, err := c.Forward(context.Background(), "nowhere at all")
	require.NoError(t, err)
	assert.Nil(t, point)
}

func TestReverse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reverse lookups send "lon,lat".
		assert.Equal(t, "37.621202,55.753544", r.URL.Query().Get("geocode"))
		fmt.Fprint(w, geocoderPayload(
			`{"GeoObject":{"metaDataProperty":{"GeocoderMetaData":{"text":"Россия, Москва, Красная площадь"}}}}`))
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	address, err := c.Reverse(context.Background(), 55.753544, 37.621202)
	require.NoError(t, err)
	assert.Equal(t, "Россия, Москва, Красная площадь", address)
}

func TestReverseNoAddress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, geocoderPayload(""))
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	address, err := c.Reverse(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, address)
}

func TestForwardBadPos(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, geocoderPayload(`{"GeoObject":{"Point":{"pos":"garbage"}}}`))
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	_, err := c.Forward(context.Background(), "anywhere")
	assert.Error(t, err)
}

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"report-export/acquire"
	"report-export/raster"
)

func TestCreateHost(t *testing.T) {
	tests := []struct {
		backend string
		want    any
		wantErr bool
	}{
		{"", &raster.NativeHost{}, false},
		{"native", &raster.NativeHost{}, false},
		{"rod", &raster.RodHost{}, false},
		{"chromedp", &raster.ChromedpHost{}, false},
		{"webkit", nil, true},
	}

	for _, tc := range tests {
		t.Run(tc.backend, func(t *testing.T) {
			host, closeHost, err := createHost(tc.backend)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tc.want, host)
			// Browsers start lazily, so closing an unused host is a no-op
			assert.NoError(t, closeHost())
		})
	}
}

func TestRelayEndpointsFromEnv(t *testing.T) {
	prev := relayEndpointEnv
	t.Cleanup(func() { relayEndpointEnv = prev })

	tests := []struct {
		env  string
		want []string
	}{
		{"", acquire.DefaultRelayEndpoints},
		{"none", []string{}},
		{" https://a.example/?u={url} , https://b.example/{url} ", []string{"https://a.example/?u={url}", "https://b.example/{url}"}},
	}

	for _, tc := range tests {
		t.Run(tc.env, func(t *testing.T) {
			relayEndpointEnv = tc.env
			assert.Equal(t, tc.want, relayEndpointsFromEnv())
		})
	}
}

func TestFetcherConfig(t *testing.T) {
	s := defaultSettings()
	s.RelayEndpoints = nil

	cfg := fetcherConfig(s)
	// A nil list means no relays here, never the built-in ones
	assert.NotNil(t, cfg.RelayEndpoints)
	assert.Empty(t, cfg.RelayEndpoints)

	f, err := acquire.NewFetcher(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"direct", "reencode"}, f.StrategyNames())
}

func TestBearerHosts(t *testing.T) {
	tests := []struct {
		name   string
		list   string
		origin string
		want   []string
	}{
		{name: "nothing configured", want: nil},
		{name: "origin host", origin: "https://reports.example.com:8443", want: []string{"reports.example.com:8443"}},
		{name: "explicit list wins", list: " photos.example.com , cdn.example.com ", origin: "https://reports.example.com",
			want: []string{"photos.example.com", "cdn.example.com"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, bearerHosts(tc.list, tc.origin))
		})
	}
}

// Package carbon provides electricity grid carbon intensity for a country
// zone. Integrates with Electricity Maps and a static fallback table.
package carbon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultZone is used when the deployment does not configure one.
const DefaultZone = "FR"

// GlobalAverage is returned for zones missing from the static table (gCO2e/kWh).
const GlobalAverage = 475.0

// IntensityStore provides grid carbon intensity in gCO2e per kWh
type IntensityStore interface {
	GetIntensity(ctx context.Context, zone string) (float64, error)
}

// =============================================================================
// ELECTRICITY MAPS CLIENT
// =============================================================================

// ElectricityMapsClient fetches live carbon intensity from the Electricity Maps API
type ElectricityMapsClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
	cache      map[string]cachedIntensity
	cacheMu    sync.RWMutex
	cacheTTL   time.Duration
	now        func() time.Time
}

type cachedIntensity struct {
	value     float64
	expiresAt time.Time
}

// NewElectricityMapsClient creates a new Electricity Maps client
func NewElectricityMapsClient(apiKey string, logger zerolog.Logger) *ElectricityMapsClient {
	return &ElectricityMapsClient{
		apiKey:  apiKey,
		baseURL: "https://api.electricitymap.org/v3",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:   logger.With().Str("component", "electricity-maps").Logger(),
		cache:    make(map[string]cachedIntensity),
		cacheTTL: 15 * time.Minute,
		now:      time.Now,
	}
}

// HTTPClient exposes the underlying client, e.g. for transport mocking
func (c *ElectricityMapsClient) HTTPClient() *http.Client {
	return c.httpClient
}

// GetIntensity fetches the latest carbon intensity for a zone
func (c *ElectricityMapsClient) GetIntensity(ctx context.Context, zone string) (float64, error) {
	zone = NormalizeZone(zone)

	c.cacheMu.RLock()
	if cached, ok := c.cache[zone]; ok && c.now().Before(cached.expiresAt) {
		c.cacheMu.RUnlock()
		return cached.value, nil
	}
	c.cacheMu.RUnlock()

	intensity, err := c.fetchIntensity(ctx, zone)
	if err != nil {
		c.logger.Warn().Err(err).Str("zone", zone).Msg("live carbon intensity unavailable")
		return 0, err
	}

	c.cacheMu.Lock()
	c.cache[zone] = cachedIntensity{
		value:     intensity,
		expiresAt: c.now().Add(c.cacheTTL),
	}
	c.cacheMu.Unlock()

	return intensity, nil
}

func (c *ElectricityMapsClient) fetchIntensity(ctx context.Context, zone string) (float64, error) {
	endpoint := fmt.Sprintf("%s/carbon-intensity/latest?zone=%s", c.baseURL, url.QueryEscape(zone))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("auth-token", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("electricity maps API returned status %d", resp.StatusCode)
	}

	var result struct {
		Zone            string   `json:"zone"`
		CarbonIntensity *float64 `json:"carbonIntensity"`
		DateTime        string   `json:"datetime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to decode electricity maps response: %w", err)
	}
	if result.CarbonIntensity == nil || *result.CarbonIntensity < 0 {
		return 0, fmt.Errorf("electricity maps returned no intensity for zone %s", zone)
	}

	return *result.CarbonIntensity, nil
}

// =============================================================================
// STATIC CARBON STORE (FALLBACK)
// =============================================================================

// StaticStore provides carbon intensity from yearly averages
type StaticStore struct{}

// NewStaticStore creates a static carbon store
func NewStaticStore() *StaticStore {
	return &StaticStore{}
}

// GetIntensity returns the static intensity of a zone, or the global average
func (s *StaticStore) GetIntensity(_ context.Context, zone string) (float64, error) {
	if intensity, ok := staticIntensityData[NormalizeZone(zone)]; ok {
		return intensity, nil
	}
	return GlobalAverage, nil
}

// NormalizeZone uppercases a zone code, defaulting to DefaultZone
func NormalizeZone(zone string) string {
	zone = strings.ToUpper(strings.TrimSpace(zone))
	if zone == "" {
		return DefaultZone
	}
	return zone
}

// Static carbon intensity data (gCO2e/kWh), yearly averages
var staticIntensityData = map[string]float64{
	// Europe
	"FR": 55,
	"BE": 165,
	"CH": 30,
	"DE": 380,
	"ES": 150,
	"IT": 330,
	"NL": 325,
	"GB": 225,
	"IE": 320,
	"PT": 160,
	"LU": 120,
	"AT": 110,
	"PL": 660,
	"SE": 25,
	"NO": 20,
	"FI": 90,
	"DK": 140,

	// North America
	"US": 386,
	"CA": 120,
	"CA-QC": 5,

	// Elsewhere
	"MA": 610,
	"TN": 450,
	"SN": 520,
	"JP": 470,
	"AU": 640,
	"IN": 680,
	"BR": 90,
}

// =============================================================================
// COMPOSED CARBON STORE
// =============================================================================

// ComposedStore tries multiple sources in order
type ComposedStore struct {
	stores []IntensityStore
}

// NewComposedStore creates a composed store with fallback
func NewComposedStore(stores ...IntensityStore) *ComposedStore {
	return &ComposedStore{stores: stores}
}

// GetIntensity tries each store in order until one succeeds
func (c *ComposedStore) GetIntensity(ctx context.Context, zone string) (float64, error) {
	var lastErr error
	for _, store := range c.stores {
		intensity, err := store.GetIntensity(ctx, zone)
		if err == nil {
			return intensity, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no carbon intensity source configured")
	}
	return 0, lastErr
}

// =============================================================================
// FACTORY
// =============================================================================

// NewIntensityStore creates the appropriate store based on configuration
func NewIntensityStore(electricityMapsAPIKey string, logger zerolog.Logger) IntensityStore {
	if electricityMapsAPIKey == "" {
		return NewStaticStore()
	}
	return NewComposedStore(
		NewElectricityMapsClient(electricityMapsAPIKey, logger),
		NewStaticStore(),
	)
}

// StaticZones returns the zones of the static table whose intensity is
// below thresholdGCO2.
func StaticZones(thresholdGCO2 float64) []string {
	result := make([]string, 0)
	for zone, intensity := range staticIntensityData {
		if intensity < thresholdGCO2 {
			result = append(result, zone)
		}
	}
	return result
}

package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ecotrack/decision/footprint"
	"ecotrack/pkg/platform"
)

// Evaluator runs policies maintained outside the engine, such as rego files
// or an OPA server.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, input map[string]any) (*Outcome, error)
}

// Outcome holds the messages produced by the deny and warn rules.
type Outcome struct {
	Deny []string `json:"deny"`
	Warn []string `json:"warn"`
}

// Input builds the document external policies are evaluated against.
// Category shares are percentages of the period total.
func Input(fp *footprint.Result) map[string]any {
	total := fp.TotalKg.InexactFloat64()
	byCategory := make(map[string]any, len(footprint.Categories))
	shares := make(map[string]any, len(footprint.Categories))
	for _, c := range footprint.Categories {
		kg := fp.CategoryKg(c)
		byCategory[string(c)] = kg
		share := 0.0
		if total > 0 {
			share = kg / total * 100
		}
		shares[string(c)] = share
	}

	return map[string]any{
		"annual_per_capita_kg": fp.AnnualPerCapitaKg.InexactFloat64(),
		"total_kg":             total,
		"days":                 fp.Days,
		"zone":                 fp.Zone,
		"category_kg":          byCategory,
		"category_shares":      shares,
		"confidence":           fp.Confidence,
		"is_incomplete":        fp.IsIncomplete,
		"lines_estimated":      fp.LinesEstimated,
		"lines_skipped":        fp.LinesSkipped,
	}
}

// OPAPath is the data document queried on an OPA server.
const OPAPath = "/v1/data/ecotrack"

// OPAClient queries the ecotrack package of a running OPA server.
type OPAClient struct {
	endpoint string
	client   *platform.HTTPClient
}

// NewOPAClient creates a client for the OPA server at endpoint.
func NewOPAClient(endpoint string) *OPAClient {
	return &OPAClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   platform.NewHTTPClient(2, 5*time.Second),
	}
}

// HTTPClient exposes the underlying client.
func (c *OPAClient) HTTPClient() *platform.HTTPClient {
	return c.client
}

// Name identifies the evaluator in policy results.
func (c *OPAClient) Name() string {
	return "opa"
}

type opaResponse struct {
	Result *Outcome `json:"result"`
}

// Evaluate posts input to the server and returns its deny and warn sets.
func (c *OPAClient) Evaluate(ctx context.Context, input map[string]any) (*Outcome, error) {
	body, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		return nil, fmt.Errorf("failed to encode OPA input: %w", err)
	}

	resp, err := c.client.PostJSON(ctx, c.endpoint+OPAPath, body, nil)
	if err != nil {
		return nil, fmt.Errorf("OPA request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("OPA returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out opaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode OPA response: %w", err)
	}
	if out.Result == nil {
		// package not loaded on the server
		return &Outcome{}, nil
	}
	return out.Result, nil
}

// Package consumption estimates a vehicle's declared fuel consumption from
// the ADEME car labelling reference workbook.
package consumption

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// ErrDatasetNotFound is returned when no candidate location holds the
// reference workbook. It is cached by the Catalog and never retried.
var ErrDatasetNotFound = errors.New("consumption reference dataset not found")

// ErrDatasetUnreadable wraps any other load failure (network, corrupt
// workbook). It is not cached: the next caller tries the source again.
var ErrDatasetUnreadable = errors.New("consumption reference dataset could not be read")

// Unit is the consumption unit of a catalog row.
type Unit string

const (
	UnitLitresPer100Km Unit = "L_100KM"
	UnitWhPerKm        Unit = "WH_KM"
)

// Normalized unit cell values accepted by the loader.
const (
	unitTokenLitres = "L 100 KM"
	unitTokenWh     = "WH KM"
)

// LabelRow is one usable row of the reference workbook.
type LabelRow struct {
	BodyType      string
	Label         string // normalized
	LabelOriginal string
	Energy        string // normalized energy code
	MaxValue      float64
	Unit          Unit
}

// Layout locates the data block inside the sheet.
type Layout struct {
	// DataStartRow is the 1-based sheet row of the first data row.
	DataStartRow int

	BodyTypeCol int
	LabelCol    int
	EnergyCol   int
	MaxValueCol int
	UnitCol     int
}

// DefaultLayout matches the published car labelling workbook: 21 rows of
// header and notes, then one vehicle per row.
func DefaultLayout() Layout {
	return Layout{
		DataStartRow: 22,
		BodyTypeCol:  0,
		LabelCol:     1,
		EnergyCol:    2,
		MaxValueCol:  5,
		UnitCol:      6,
	}
}

// Source yields the raw cell rows of the reference sheet, header included.
type Source interface {
	Rows(ctx context.Context) ([][]string, error)
	Describe() string
}

type catalogState struct {
	rows []LabelRow
	err  error
}

// Catalog is the process-lifetime cache of parsed label rows. It is loaded
// lazily, at most once, by the first caller; concurrent callers block until
// the load completes and never observe a partial cache. A missing dataset is
// cached like a successful load; other failures leave the catalog unloaded.
type Catalog struct {
	src    Source
	layout Layout
	logger zerolog.Logger

	mu    sync.Mutex
	state atomic.Pointer[catalogState]
}

// NewCatalog creates an unloaded catalog backed by src.
func NewCatalog(src Source, logger zerolog.Logger) *Catalog {
	return &Catalog{
		src:    src,
		layout: DefaultLayout(),
		logger: logger.With().Str("component", "consumption-catalog").Logger(),
	}
}

// WithLayout overrides the sheet layout. Must be called before first use.
func (c *Catalog) WithLayout(l Layout) *Catalog {
	c.layout = l
	return c
}

// Warm loads the catalog now so that a missing dataset surfaces at startup.
func (c *Catalog) Warm(ctx context.Context) error {
	_, err := c.Rows(ctx)
	return err
}

// Loaded reports whether the load step has run.
func (c *Catalog) Loaded() bool {
	return c.state.Load() != nil
}

// Rows returns the cached rows, loading them on first use. The returned
// slice is shared and must not be modified.
func (c *Catalog) Rows(ctx context.Context) ([]LabelRow, error) {
	if s := c.state.Load(); s != nil {
		return s.rows, s.err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s := c.state.Load(); s != nil {
		return s.rows, s.err
	}

	// A cancelled request must not poison the process-wide cache.
	raw, err := c.src.Rows(context.WithoutCancel(ctx))
	switch {
	case err == nil:
	case errors.Is(err, ErrDatasetNotFound):
		c.logger.Error().Err(err).Str("source", c.src.Describe()).Msg("consumption catalog unavailable")
		s := &catalogState{err: err}
		c.state.Store(s)
		return nil, s.err
	default:
		c.logger.Warn().Err(err).Str("source", c.src.Describe()).Msg("consumption catalog load failed, will retry")
		return nil, fmt.Errorf("%w: %w", ErrDatasetUnreadable, err)
	}

	s := &catalogState{rows: parseRows(raw, c.layout)}
	c.logger.Debug().
		Str("source", c.src.Describe()).
		Int("raw_rows", len(raw)).
		Int("kept_rows", len(s.rows)).
		Msg("consumption catalog loaded")
	c.state.Store(s)
	return s.rows, nil
}

// Reset returns the catalog to its unloaded state.
func (c *Catalog) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Store(nil)
}

// rawRow is the fixed-arity projection of a sheet row.
type rawRow struct {
	bodyType string
	label    string
	energy   string
	maxValue string
	unit     string
}

func extract(cells []string, l Layout) rawRow {
	cell := func(i int) string {
		if i < 0 || i >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[i])
	}
	return rawRow{
		bodyType: cell(l.BodyTypeCol),
		label:    cell(l.LabelCol),
		energy:   cell(l.EnergyCol),
		maxValue: cell(l.MaxValueCol),
		unit:     cell(l.UnitCol),
	}
}

func parseRows(raw [][]string, l Layout) []LabelRow {
	start := l.DataStartRow - 1
	if start < 0 {
		start = 0
	}
	if start >= len(raw) {
		return nil
	}

	rows := make([]LabelRow, 0, len(raw)-start)
	for _, cells := range raw[start:] {
		if row, ok := toLabelRow(extract(cells, l)); ok {
			rows = append(rows, row)
		}
	}
	return rows
}

func toLabelRow(r rawRow) (LabelRow, bool) {
	label := Normalize(r.label)
	energy := Normalize(r.energy)
	if label == "" || energy == "" {
		return LabelRow{}, false
	}

	value, ok := parseDecimal(r.maxValue)
	if !ok || value < 0 {
		return LabelRow{}, false
	}

	var unit Unit
	switch Normalize(r.unit) {
	case unitTokenLitres:
		unit = UnitLitresPer100Km
	case unitTokenWh:
		unit = UnitWhPerKm
	default:
		return LabelRow{}, false
	}

	return LabelRow{
		BodyType:      r.bodyType,
		Label:         label,
		LabelOriginal: r.label,
		Energy:        energy,
		MaxValue:      value,
		Unit:          unit,
	}, true
}

// parseDecimal accepts both "5.6" and "5,6".
func parseDecimal(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

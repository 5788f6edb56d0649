package consumption

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type countingSource struct {
	rows  [][]string
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (s *countingSource) Rows(_ context.Context) ([][]string, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.rows, s.err
}

func (s *countingSource) Describe() string { return "test" }

// sheet prefixes data rows with the 21 header rows of the published layout.
// The last header row is shaped like valid data to prove it is skipped.
func sheet(data ...[]string) [][]string {
	rows := make([][]string, 0, 21+len(data))
	for i := 0; i < 20; i++ {
		rows = append(rows, []string{"Car Labelling ADEME"})
	}
	rows = append(rows, dataRow("Carrosserie", "Libellé modèle", "Energie", "99", "l/100 km"))
	return append(rows, data...)
}

func dataRow(body, label, energy, max, unit string) []string {
	return []string{body, label, energy, "", "", max, unit}
}

func newTestCatalog(src Source) *Catalog {
	return NewCatalog(src, zerolog.Nop())
}

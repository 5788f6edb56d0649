package consumption

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"
)

// DatasetFileName is the conventional file name of the reference workbook.
const DatasetFileName = "ADEME-CarLabelling.xlsx"

// DefaultCandidates lists the conventional dataset locations, relative to
// the working directory, in probing order.
func DefaultCandidates() []string {
	return []string{
		"data/" + DatasetFileName,
		"../data/" + DatasetFileName,
		"backend/data/" + DatasetFileName,
		DatasetFileName,
	}
}

// FileSource reads the first existing workbook among Candidates
type FileSource struct {
	Candidates []string
	// Sheet selects a sheet by name; empty means the first sheet.
	Sheet string

	stat func(string) (os.FileInfo, error)
}

// NewFileSource probes extra locations first, then the conventional ones.
func NewFileSource(extra ...string) *FileSource {
	candidates := make([]string, 0, len(extra)+len(DefaultCandidates()))
	for _, p := range extra {
		if strings.TrimSpace(p) != "" {
			candidates = append(candidates, p)
		}
	}
	candidates = append(candidates, DefaultCandidates()...)
	return &FileSource{Candidates: candidates, stat: os.Stat}
}

// Resolve returns the first candidate path that exists.
func (s *FileSource) Resolve() (string, error) {
	stat := s.stat
	if stat == nil {
		stat = os.Stat
	}
	for _, p := range s.Candidates {
		if info, err := stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w (tried %s)", ErrDatasetNotFound, strings.Join(s.Candidates, ", "))
}

// Rows implements Source
func (s *FileSource) Rows(_ context.Context) ([][]string, error) {
	path, err := s.Resolve()
	if err != nil {
		return nil, err
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	defer f.Close()
	return readSheet(f, s.Sheet)
}

// Describe implements Source
func (s *FileSource) Describe() string {
	return "file:" + strings.Join(s.Candidates, "|")
}

// ReadWorkbook parses a workbook from r and returns the rows of sheet
// (first sheet when empty).
func ReadWorkbook(r io.Reader, sheet string) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read workbook: %w", err)
	}
	defer f.Close()
	return readSheet(f, sheet)
}

func readSheet(f *excelize.File, sheet string) ([][]string, error) {
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	if sheet == "" {
		return nil, fmt.Errorf("workbook has no sheet")
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	return rows, nil
}

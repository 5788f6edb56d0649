package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/open-policy-agent/opa/rego"
)

// Rego rules evaluated in every policy file.
const (
	DenyQuery = "data.ecotrack.deny"
	WarnQuery = "data.ecotrack.warn"
)

// RegoEvaluator evaluates a directory of .rego files in-process. The files
// are compiled once, so a syntax error surfaces at startup.
type RegoEvaluator struct {
	dir   string
	files []string
	deny  rego.PreparedEvalQuery
	warn  rego.PreparedEvalQuery
}

// NewRegoEvaluator compiles every .rego file in dir.
func NewRegoEvaluator(ctx context.Context, dir string) (*RegoEvaluator, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.rego"))
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .rego files in %s", dir)
	}

	modules := make([]func(*rego.Rego), 0, len(files))
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		modules = append(modules, rego.Module(file, string(content)))
	}

	prepare := func(query string) (rego.PreparedEvalQuery, error) {
		opts := append([]func(*rego.Rego){rego.Query(query)}, modules...)
		pq, err := rego.New(opts...).PrepareForEval(ctx)
		if err != nil {
			return rego.PreparedEvalQuery{}, fmt.Errorf("invalid policies in %s: %w", dir, err)
		}
		return pq, nil
	}

	e := &RegoEvaluator{dir: dir, files: files}
	if e.deny, err = prepare(DenyQuery); err != nil {
		return nil, err
	}
	if e.warn, err = prepare(WarnQuery); err != nil {
		return nil, err
	}
	return e, nil
}

// Name identifies the evaluator in policy results.
func (e *RegoEvaluator) Name() string {
	return "rego"
}

// Files returns the compiled policy files.
func (e *RegoEvaluator) Files() []string {
	return e.files
}

// Evaluate runs the deny and warn rules against input.
func (e *RegoEvaluator) Evaluate(ctx context.Context, input map[string]any) (*Outcome, error) {
	deny, err := messages(ctx, e.deny, input)
	if err != nil {
		return nil, fmt.Errorf("deny rules: %w", err)
	}
	warn, err := messages(ctx, e.warn, input)
	if err != nil {
		return nil, fmt.Errorf("warn rules: %w", err)
	}
	return &Outcome{Deny: deny, Warn: warn}, nil
}

func messages(ctx context.Context, pq rego.PreparedEvalQuery, input map[string]any) ([]string, error) {
	rs, err := pq.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var out []string
	for _, result := range rs {
		for _, expr := range result.Expressions {
			set, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, v := range set {
				if msg, ok := v.(string); ok {
					out = append(out, msg)
				}
			}
		}
	}
	return out, nil
}

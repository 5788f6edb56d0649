// Package policy provides the footprint governance engine.
// Evaluates carbon budget policies against footprint results.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"ecotrack/decision/footprint"
	apperrors "ecotrack/pkg/errors"
)

// PolicyType defines the type of policy
type PolicyType string

const (
	PolicyTypeAnnualBudget        PolicyType = "annual_budget"
	PolicyTypeCategoryShare       PolicyType = "category_share"
	PolicyTypeConfidenceThreshold PolicyType = "confidence_threshold"
	PolicyTypeIncompleteEstimate  PolicyType = "incomplete_estimate"
	PolicyTypePeriodBudget        PolicyType = "period_budget"
)

// Severity defines policy violation severity
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Decision is the policy evaluation outcome
type Decision string

const (
	DecisionPass Decision = "pass"
	DecisionWarn Decision = "warn"
	DecisionDeny Decision = "deny"
)

// Policy defines a governance rule
type Policy struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Type        PolicyType `json:"type"`
	Severity    Severity   `json:"severity"`
	Threshold   float64    `json:"threshold"`
	Enabled     bool       `json:"enabled"`
}

// Validate checks a policy supplied by a user or an operator. A missing
// severity defaults to warning.
func (p *Policy) Validate() error {
	switch p.Type {
	case PolicyTypeAnnualBudget, PolicyTypePeriodBudget, PolicyTypeCategoryShare,
		PolicyTypeConfidenceThreshold, PolicyTypeIncompleteEstimate:
	default:
		return apperrors.NewValidationError("policies.type", fmt.Sprintf("unknown policy type %q", p.Type))
	}
	switch p.Severity {
	case "":
		p.Severity = SeverityWarning
	case SeverityError, SeverityWarning, SeverityInfo:
	default:
		return apperrors.NewValidationError("policies.severity", fmt.Sprintf("unknown severity %q", p.Severity))
	}
	if math.IsNaN(p.Threshold) || math.IsInf(p.Threshold, 0) || p.Threshold < 0 {
		return apperrors.NewValidationError("policies.threshold", "must be non-negative")
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	return nil
}

// LoadPolicyFile reads a JSON array of policies. Policies in the file are
// enabled unless they say otherwise.
func LoadPolicyFile(path string) ([]Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	var raw []struct {
		Policy
		Enabled *bool `json:"enabled"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}

	policies := make([]Policy, 0, len(raw))
	for i, r := range raw {
		p := r.Policy
		p.Enabled = r.Enabled == nil || *r.Enabled
		if p.ID == "" {
			p.ID = fmt.Sprintf("file-%d", i+1)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("policy %s: %w", p.ID, err)
		}
		policies = append(policies, p)
	}
	return policies, nil
}

// Violation represents a policy violation
type Violation struct {
	PolicyID   string `json:"policy_id"`
	PolicyName string `json:"policy_name"`
	Message    string `json:"message"`
	Severity   string `json:"severity"`
}

// Warning represents a policy warning
type Warning struct {
	PolicyID string `json:"policy_id"`
	Message  string `json:"message"`
}

// EvaluationRequest contains the input for policy evaluation
type EvaluationRequest struct {
	Footprint      *footprint.Result
	CustomPolicies []Policy
}

// EvaluationResult contains the policy evaluation outcome
type EvaluationResult struct {
	Decision    Decision    `json:"decision"`
	Violations  []Violation `json:"violations"`
	Warnings    []Warning   `json:"warnings"`
	PoliciesRan int         `json:"policies_ran"`
	EvaluatedAt time.Time   `json:"evaluated_at"`
}

// Engine evaluates policies against footprints
type Engine struct {
	policies   []Policy
	evaluators []Evaluator
}

// NewEngine creates a new policy engine
func NewEngine() *Engine {
	return &Engine{
		policies: DefaultPolicies(),
	}
}

// AddPolicy adds a custom policy
func (e *Engine) AddPolicy(p Policy) {
	e.policies = append(e.policies, p)
}

// WithEvaluator adds an external policy evaluator
func (e *Engine) WithEvaluator(ev Evaluator) *Engine {
	e.evaluators = append(e.evaluators, ev)
	return e
}

// WithOPA configures OPA integration
func (e *Engine) WithOPA(endpoint string) *Engine {
	return e.WithEvaluator(NewOPAClient(endpoint))
}

// Policies returns the configured policies
func (e *Engine) Policies() []Policy {
	out := make([]Policy, len(e.policies))
	copy(out, e.policies)
	return out
}

// Evaluate runs all policies against the footprint
func (e *Engine) Evaluate(ctx context.Context, req EvaluationRequest) (*EvaluationResult, error) {
	if req.Footprint == nil {
		return nil, fmt.Errorf("policy evaluation requires a footprint")
	}

	result := &EvaluationResult{
		Decision:    DecisionPass,
		Violations:  make([]Violation, 0),
		Warnings:    make([]Warning, 0),
		EvaluatedAt: time.Now(),
	}

	// Combine built-in and custom policies
	allPolicies := make([]Policy, 0, len(e.policies)+len(req.CustomPolicies))
	allPolicies = append(allPolicies, e.policies...)
	allPolicies = append(allPolicies, req.CustomPolicies...)

	for _, policy := range allPolicies {
		if !policy.Enabled {
			continue
		}

		result.PoliciesRan++
		violation, warning := e.evaluatePolicy(policy, req.Footprint)

		if violation != nil {
			result.Violations = append(result.Violations, *violation)
			if policy.Severity == SeverityError {
				result.Decision = DecisionDeny
			} else if result.Decision != DecisionDeny {
				result.Decision = DecisionWarn
			}
		}

		if warning != nil {
			result.Warnings = append(result.Warnings, *warning)
			if result.Decision == DecisionPass {
				result.Decision = DecisionWarn
			}
		}
	}

	// Run external policies if configured
	if len(e.evaluators) > 0 {
		input := Input(req.Footprint)
		for _, ev := range e.evaluators {
			result.PoliciesRan++
			e.evaluateExternal(ctx, ev, input, result)
		}
	}

	return result, nil
}

// evaluateExternal merges the outcome of ev into result. An unreachable
// evaluator downgrades a pass to a warning rather than failing the request.
func (e *Engine) evaluateExternal(ctx context.Context, ev Evaluator, input map[string]any, result *EvaluationResult) {
	outcome, err := ev.Evaluate(ctx, input)
	if err != nil {
		result.Warnings = append(result.Warnings, Warning{
			PolicyID: ev.Name(),
			Message:  fmt.Sprintf("external policies could not be evaluated: %v", err),
		})
		if result.Decision == DecisionPass {
			result.Decision = DecisionWarn
		}
		return
	}

	for _, msg := range outcome.Deny {
		result.Violations = append(result.Violations, Violation{
			PolicyID:   ev.Name(),
			PolicyName: ev.Name(),
			Message:    msg,
			Severity:   string(SeverityError),
		})
		result.Decision = DecisionDeny
	}
	for _, msg := range outcome.Warn {
		result.Warnings = append(result.Warnings, Warning{PolicyID: ev.Name(), Message: msg})
		if result.Decision == DecisionPass {
			result.Decision = DecisionWarn
		}
	}
}

func (e *Engine) evaluatePolicy(p Policy, fp *footprint.Result) (*Violation, *Warning) {
	switch p.Type {
	case PolicyTypeAnnualBudget:
		annual := fp.AnnualPerCapitaKg.InexactFloat64()
		if annual > p.Threshold {
			return breach(p, fmt.Sprintf("Annualized footprint (%.0f kg CO2e) exceeds budget (%.0f kg)", annual, p.Threshold))
		}

	case PolicyTypePeriodBudget:
		total := fp.TotalKg.InexactFloat64()
		if total > p.Threshold {
			return breach(p, fmt.Sprintf("Footprint over the period (%.2f kg CO2e) exceeds budget (%.2f kg)", total, p.Threshold))
		}

	case PolicyTypeCategoryShare:
		total := fp.TotalKg.InexactFloat64()
		if total <= 0 {
			return nil, nil
		}
		for _, c := range footprint.Categories {
			share := fp.CategoryKg(c) / total * 100
			if share > p.Threshold {
				return breach(p, fmt.Sprintf("%s accounts for %.0f%% of the footprint (limit %.0f%%)", c, share, p.Threshold))
			}
		}

	case PolicyTypeConfidenceThreshold:
		if fp.LinesEstimated > 0 && fp.Confidence < p.Threshold/100 {
			return breach(p, fmt.Sprintf("Footprint confidence (%.0f%%) below threshold (%.0f%%)", fp.Confidence*100, p.Threshold))
		}

	case PolicyTypeIncompleteEstimate:
		if fp.IsIncomplete {
			return breach(p, fmt.Sprintf("Footprint is incomplete (%d records could not be estimated)", fp.LinesSkipped))
		}
	}

	return nil, nil
}

// breach reports a failed policy as a violation, or as a warning when the
// policy is advisory.
func breach(p Policy, msg string) (*Violation, *Warning) {
	if p.Severity == SeverityError {
		return &Violation{
			PolicyID:   p.ID,
			PolicyName: p.Name,
			Message:    msg,
			Severity:   string(p.Severity),
		}, nil
	}
	return nil, &Warning{PolicyID: p.ID, Message: msg}
}

// DefaultPolicies returns the built-in policies
func DefaultPolicies() []Policy {
	return []Policy{
		{
			ID:          "annual-budget",
			Name:        "Sustainable Annual Budget",
			Description: "Warn when the annualized per-capita footprint exceeds 2 t CO2e",
			Type:        PolicyTypeAnnualBudget,
			Severity:    SeverityWarning,
			Threshold:   2000,
			Enabled:     true,
		},
		{
			ID:          "annual-ceiling",
			Name:        "Annual Ceiling",
			Description: "Deny when the annualized per-capita footprint exceeds 10 t CO2e",
			Type:        PolicyTypeAnnualBudget,
			Severity:    SeverityError,
			Threshold:   10000,
			Enabled:     true,
		},
		{
			ID:          "category-share",
			Name:        "Dominant Category",
			Description: "Warn when one category exceeds 60% of the footprint",
			Type:        PolicyTypeCategoryShare,
			Severity:    SeverityWarning,
			Threshold:   60,
			Enabled:     true,
		},
		{
			ID:          "incomplete",
			Name:        "Incomplete Footprint",
			Description: "Warn when some records could not be estimated",
			Type:        PolicyTypeIncompleteEstimate,
			Severity:    SeverityWarning,
			Enabled:     true,
		},
		{
			ID:          "default-confidence",
			Name:        "Minimum Confidence",
			Description: "Warn when footprint confidence is below 50%",
			Type:        PolicyTypeConfidenceThreshold,
			Severity:    SeverityWarning,
			Threshold:   50,
			Enabled:     true,
		},
	}
}

// Package advice turns a footprint into personalised reduction advice
// using a remote language model.
package advice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"ecotrack/decision/footprint"
	"ecotrack/decision/policy"
	apperrors "ecotrack/pkg/errors"
)

// ErrNotConfigured is returned when no generator is set up.
var ErrNotConfigured = errors.New("advice generator not configured")

// ErrEmptyAnswer is returned when the model produced no text.
var ErrEmptyAnswer = errors.New("advice generator returned an empty answer")

// MaxQuestionLength bounds the free-text question, in characters.
const MaxQuestionLength = 500

// Generator produces text from a system instruction and a prompt
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
	Name() string
}

// Request carries what the advice is about
type Request struct {
	Footprint *footprint.Result
	Policy    *policy.EvaluationResult
	Question  string
}

// Advice is a generated answer
type Advice struct {
	Text        string    `json:"advice"`
	Provider    string    `json:"provider"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Advisor builds prompts and calls the configured generator
type Advisor struct {
	gen    Generator
	logger zerolog.Logger
	now    func() time.Time
}

// NewAdvisor creates an advisor. gen may be nil, in which case every call
// fails with ErrNotConfigured.
func NewAdvisor(gen Generator, logger zerolog.Logger) *Advisor {
	return &Advisor{
		gen:    gen,
		logger: logger.With().Str("component", "advice").Logger(),
		now:    time.Now,
	}
}

// Configured reports whether a generator is available
func (a *Advisor) Configured() bool {
	return a.gen != nil
}

// Advise asks the generator for advice on req
func (a *Advisor) Advise(ctx context.Context, req Request) (*Advice, error) {
	if a.gen == nil {
		return nil, ErrNotConfigured
	}
	if req.Footprint == nil {
		return nil, apperrors.NewValidationError("footprint", "is required")
	}
	req.Question = strings.TrimSpace(req.Question)
	if utf8.RuneCountInString(req.Question) > MaxQuestionLength {
		return nil, apperrors.NewValidationError("question", fmt.Sprintf("must be at most %d characters", MaxQuestionLength))
	}

	start := a.now()
	text, err := a.gen.Generate(ctx, SystemInstruction, BuildPrompt(req))
	if err != nil {
		a.logger.Error().Err(err).Str("provider", a.gen.Name()).Msg("advice generation failed")
		return nil, fmt.Errorf("%s: %w", a.gen.Name(), err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%s: %w", a.gen.Name(), ErrEmptyAnswer)
	}

	a.logger.Debug().
		Str("provider", a.gen.Name()).
		Dur("took", a.now().Sub(start)).
		Int("chars", len(text)).
		Msg("advice generated")

	return &Advice{Text: text, Provider: a.gen.Name(), GeneratedAt: a.now()}, nil
}

// SystemInstruction frames every advice request.
const SystemInstruction = "You are an environmental coach helping a household reduce its carbon footprint. " +
	"Give at most five concrete, realistic actions ranked by expected kg CO2e saved. " +
	"Only use the figures provided. Answer in the language of the question, French by default."

// BuildPrompt renders the footprint, the policy outcome and the question
func BuildPrompt(req Request) string {
	fp := req.Footprint
	var b strings.Builder

	fmt.Fprintf(&b, "Period: %s to %s (%.0f days), grid zone %s at %.0f gCO2e/kWh.\n",
		fp.From.Format("2006-01-02"), fp.To.Format("2006-01-02"), fp.Days, fp.Zone, fp.GridIntensity)
	fmt.Fprintf(&b, "Total: %s kg CO2e, annualized per person: %s kg CO2e.\n",
		fp.TotalKg.StringFixed(2), fp.AnnualPerCapitaKg.StringFixed(0))

	b.WriteString("By category:\n")
	for _, c := range footprint.Categories {
		fmt.Fprintf(&b, "- %s: %s kg\n", c, fp.ByCategory[c].StringFixed(2))
	}

	if len(fp.Drivers) > 0 {
		b.WriteString("Largest sources:\n")
		for _, d := range fp.Drivers {
			fmt.Fprintf(&b, "- %s (%s): %s kg\n", d.Description, d.Category, d.KgCO2e.StringFixed(2))
		}
	}
	if fp.IsIncomplete {
		fmt.Fprintf(&b, "Note: %d records could not be estimated.\n", fp.LinesSkipped)
	}

	if p := req.Policy; p != nil && p.Decision != policy.DecisionPass {
		b.WriteString("Budget checks:\n")
		for _, v := range p.Violations {
			fmt.Fprintf(&b, "- %s\n", v.Message)
		}
		for _, w := range p.Warnings {
			fmt.Fprintf(&b, "- %s\n", w.Message)
		}
	}

	if req.Question != "" {
		fmt.Fprintf(&b, "Question: %s\n", req.Question)
	} else {
		b.WriteString("Question: what should I change first?\n")
	}
	return b.String()
}

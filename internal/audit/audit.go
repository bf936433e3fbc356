// Package audit verifies the persisted library state against the invariants
// the lending engine is meant to keep.
package audit

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"campuslib/internal/store"
)

// Check is one measurable invariant.
type Check struct {
	Name      string
	Invariant string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

func (t Threshold) holds(value float64) bool {
	switch t.Operator {
	case ">":
		return value > t.Value
	case "<":
		return value < t.Value
	case ">=":
		return value >= t.Value
	case "<=":
		return value <= t.Value
	case "==":
		return value == t.Value
	default:
		return false
	}
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Name      string  `json:"name"`
	Invariant string  `json:"invariant"`
	Expected  string  `json:"expected"`
	Actual    float64 `json:"actual"`
	Passed    bool    `json:"passed"`
	Error     string  `json:"error,omitempty"`
}

// Report is the outcome of one audit run.
type Report struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
	Passed     bool          `json:"passed"`
	Results    []CheckResult `json:"results"`
}

// Violations returns the results that did not pass.
func (r *Report) Violations() []CheckResult {
	var out []CheckResult
	for _, res := range r.Results {
		if !res.Passed {
			out = append(out, res)
		}
	}
	return out
}

// Auditor runs registered checks against the database.
type Auditor struct {
	tracer trace.Tracer
	db     *store.DB
	logger *zap.Logger
	checks []Check
	mu     sync.Mutex
}

func NewAuditor(db *store.DB, logger *zap.Logger) *Auditor {
	return &Auditor{
		tracer: otel.Tracer("campuslib/audit"),
		db:     db,
		logger: logger.Named("audit"),
	}
}

// Register adds a check to the suite.
func (a *Auditor) Register(c Check) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checks = append(a.checks, c)
}

// Checks returns the registered checks.
func (a *Auditor) Checks() []Check {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Check, len(a.checks))
	copy(out, a.checks)
	return out
}

// Run evaluates every check once. A check whose query fails counts as failed.
func (a *Auditor) Run(ctx context.Context) (*Report, error) {
	ctx, span := a.tracer.Start(ctx, "audit.run")
	defer span.End()

	report := &Report{StartedAt: time.Now(), Passed: true}
	for _, c := range a.Checks() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := CheckResult{
			Name:      c.Name,
			Invariant: c.Invariant,
			Expected:  fmt.Sprintf("%s %g", c.Threshold.Operator, c.Threshold.Value),
		}
		value, err := c.Query(ctx)
		if err != nil {
			res.Actual = -1
			res.Error = err.Error()
			span.RecordError(err)
		} else {
			res.Actual = value
			res.Passed = c.Threshold.holds(value)
		}
		if !res.Passed {
			report.Passed = false
			a.logger.Warn("invariant violated",
				zap.String("check", c.Name),
				zap.Float64("actual", res.Actual),
				zap.String("expected", res.Expected),
				zap.String("error", res.Error),
			)
		}
		report.Results = append(report.Results, res)
	}
	report.FinishedAt = time.Now()
	report.Duration = report.FinishedAt.Sub(report.StartedAt)

	span.SetAttributes(
		attribute.Bool("audit.passed", report.Passed),
		attribute.Int("audit.violations", len(report.Violations())),
	)
	return report, nil
}

// Watch runs the audit every interval until ctx is done, handing each report
// to fn.
func (a *Auditor) Watch(ctx context.Context, interval time.Duration, fn func(*Report)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		report, err := a.Run(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		fn(report)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Print writes a human-readable report.
func Print(w io.Writer, report *Report) {
	if report.Passed {
		fmt.Fprintf(w, "✅ All %d invariants hold\n", len(report.Results))
	} else {
		fmt.Fprintf(w, "❌ %d of %d invariants violated\n", len(report.Violations()), len(report.Results))
	}
	for _, res := range report.Results {
		mark := "ok  "
		if !res.Passed {
			mark = "FAIL"
		}
		fmt.Fprintf(w, "   %s %-28s expected %s, got %g", mark, res.Name, res.Expected, res.Actual)
		if res.Error != "" {
			fmt.Fprintf(w, " (%s)", res.Error)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "📊 Duration: %s\n", report.Duration)
}

package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aakashsharma7/code-reviewer/common/logger"
	"github.com/aakashsharma7/code-reviewer/internal/fault"
	"github.com/aakashsharma7/code-reviewer/internal/model"
)

// Dispatcher selects the analyzer variant for a job's analysis type and
// runs it under a hard timeout. Every failure crossing this boundary is
// classified into the shared taxonomy so the scheduler can apply retry
// policy uniformly regardless of variant.
type Dispatcher struct {
	analyzers map[string]Analyzer
	timeout   time.Duration
}

func NewDispatcher(timeout time.Duration, analyzers ...Analyzer) *Dispatcher {
	byName := make(map[string]Analyzer, len(analyzers))
	for _, a := range analyzers {
		byName[a.Name()] = a
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Dispatcher{analyzers: byName, timeout: timeout}
}

// targetPayload is the analysis-job payload shape the dispatcher reads.
type targetPayload struct {
	model.AnalysisPayload
	ProjectKey string       `json:"project_key,omitempty"`
	Files      []SourceFile `json:"files,omitempty"`
}

// Dispatch runs the analyzer selected by the job payload's analysis
// type. It never panics past its boundary.
func (d *Dispatcher) Dispatch(ctx context.Context, job *model.Job) (findings []RawFinding, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in analyzer dispatch",
				"panic", r,
				"job_id", job.ID)
			findings = nil
			err = fault.Transient(fmt.Sprintf("analyzer panic: %v", r), nil)
		}
	}()

	var payload targetPayload
	if unmarshalErr := json.Unmarshal(job.Payload, &payload); unmarshalErr != nil {
		return nil, fault.Validation(fmt.Sprintf("malformed analysis payload: %v", unmarshalErr))
	}

	variants, err := d.selectVariants(payload.AnalysisType)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "reviewer.analyzer",
		ReviewID:  logger.Ptr(payload.ReviewID),
	})

	target := Target{
		ReviewID:      payload.ReviewID,
		PullRequestID: payload.PullRequestID,
		RepositoryID:  payload.RepositoryID,
		ProjectKey:    payload.ProjectKey,
		Files:         payload.Files,
		Configuration: payload.Configuration,
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	for _, variant := range variants {
		start := time.Now()
		variantFindings, analyzeErr := variant.Analyze(dispatchCtx, target)
		if analyzeErr != nil {
			return nil, classify(analyzeErr, dispatchCtx)
		}
		findings = append(findings, variantFindings...)

		slog.InfoContext(ctx, "analysis dispatched",
			"analyzer", variant.Name(),
			"finding_count", len(variantFindings),
			"duration_ms", time.Since(start).Milliseconds())
	}

	return findings, nil
}

// selectVariants resolves an analysis type to its analyzers. TypeFull
// means every registered variant, in stable name order.
func (d *Dispatcher) selectVariants(analysisType string) ([]Analyzer, error) {
	if analysisType == TypeFull {
		names := make([]string, 0, len(d.analyzers))
		for name := range d.analyzers {
			names = append(names, name)
		}
		sort.Strings(names)
		variants := make([]Analyzer, 0, len(names))
		for _, name := range names {
			variants = append(variants, d.analyzers[name])
		}
		if len(variants) == 0 {
			return nil, fault.Fatal("no analyzers registered", nil)
		}
		return variants, nil
	}

	variant, ok := d.analyzers[analysisType]
	if !ok {
		return nil, fault.Validation(fmt.Sprintf("unknown analysis type %q", analysisType))
	}
	return []Analyzer{variant}, nil
}

// classify converts any analyzer failure into a taxonomy error. Already
// classified errors pass through; timeouts become transient.
func classify(err error, ctx context.Context) error {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fault.Transient("analyzer timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return fault.Transient("analyzer canceled", err)
	}
	return fault.Transient("analyzer failure", err)
}

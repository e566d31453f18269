package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sourcegraph/conc"

	"ollamachat/internal/domain/apperr"
	"ollamachat/internal/domain/entities"
	"ollamachat/internal/domain/metrics"
	"ollamachat/internal/pkg/constants"
	"ollamachat/internal/pkg/logutil"
)

// MaxBenchmarkIterations bounds a single benchmark request.
const MaxBenchmarkIterations = 20

// BenchmarkConfig holds the defaults of ad-hoc benchmarks.
type BenchmarkConfig struct {
	Prompt     string
	Iterations int
	Options    entities.GenerationOptions
	MaxModels  int
}

// BenchmarkRequest asks for a benchmark of one or more models. Empty fields
// take the configured defaults.
type BenchmarkRequest struct {
	Models     []string               `json:"models"`
	Prompt     string                 `json:"prompt,omitempty"`
	Iterations int                    `json:"iterations,omitempty"`
	Options    *entities.OptionsPatch `json:"options,omitempty"`
}

// BenchmarkIteration is the outcome of one benchmark call.
type BenchmarkIteration struct {
	Status        entities.TerminalStatus `json:"status"`
	Reason        string                  `json:"reason,omitempty"`
	TTFT          time.Duration           `json:"ttft"`
	TotalDuration time.Duration           `json:"total_duration"`
	OutputTokens  int                     `json:"output_tokens"`
	Response      string                  `json:"response,omitempty"`
}

// BenchmarkReport summarizes the iterations run against one model.
type BenchmarkReport struct {
	Model      string               `json:"model"`
	Prompt     string               `json:"prompt"`
	Iterations []BenchmarkIteration `json:"iterations"`
	Summary    metrics.Summary      `json:"summary"`
}

// Benchmarker runs fixed-prompt generations to measure model latency and
// throughput. Its calls are recorded like any other model call.
type Benchmarker struct {
	client Streamer
	config BenchmarkConfig
	logger *logutil.Logger
}

// NewBenchmarker creates a benchmarker.
func NewBenchmarker(client Streamer, config BenchmarkConfig, logger *logutil.Logger) *Benchmarker {
	if config.Prompt == "" {
		config.Prompt = constants.DefaultBenchmarkPrompt
	}
	if config.Iterations <= 0 {
		config.Iterations = constants.DefaultBenchmarkIterations
	}
	if config.Options.MaxTokens == 0 {
		config.Options = entities.DefaultGenerationOptions()
		config.Options.MaxTokens = constants.DefaultBenchmarkMaxTokens
	}
	if config.MaxModels <= 0 {
		config.MaxModels = constants.DefaultMaxCompareModels
	}
	return &Benchmarker{
		client: client,
		config: config,
		logger: logutil.OrGlobal(logger).Component("benchmarker"),
	}
}

// Benchmark runs iterations sequential calls of prompt against model.
func (b *Benchmarker) Benchmark(ctx context.Context, model, prompt string, iterations int) (*BenchmarkReport, error) {
	return b.run(ctx, model, prompt, iterations, b.config.Options)
}

// Compare benchmarks several models concurrently. Reports are ordered by
// model name.
func (b *Benchmarker) Compare(ctx context.Context, req BenchmarkRequest) ([]*BenchmarkReport, error) {
	models := dedupeModels(req.Models)
	if len(models) == 0 {
		return nil, fmt.Errorf("%w: at least one model is required", apperr.ErrInvalidTurn)
	}
	if len(models) > b.config.MaxModels {
		return nil, fmt.Errorf("%w: at most %d models per benchmark, got %d", apperr.ErrInvalidTurn, b.config.MaxModels, len(models))
	}
	if req.Iterations > MaxBenchmarkIterations {
		return nil, fmt.Errorf("%w: at most %d iterations, got %d", apperr.ErrInvalidTurn, MaxBenchmarkIterations, req.Iterations)
	}
	opts := req.Options.Apply(b.config.Options)
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	reports := make([]*BenchmarkReport, len(models))
	errs := make([]error, len(models))
	var wg conc.WaitGroup
	for i, model := range models {
		wg.Go(func() {
			reports[i], errs[i] = b.run(ctx, model, req.Prompt, req.Iterations, opts)
		})
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Model < reports[j].Model })
	return reports, nil
}

func (b *Benchmarker) run(ctx context.Context, model, prompt string, iterations int, opts entities.GenerationOptions) (*BenchmarkReport, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, fmt.Errorf("%w: model is required", apperr.ErrInvalidTurn)
	}
	if prompt == "" {
		prompt = b.config.Prompt
	}
	if iterations <= 0 {
		iterations = b.config.Iterations
	}
	if iterations > MaxBenchmarkIterations {
		return nil, fmt.Errorf("%w: at most %d iterations, got %d", apperr.ErrInvalidTurn, MaxBenchmarkIterations, iterations)
	}

	history := []*entities.Message{entities.NewMessage("", entities.RoleUser, prompt)}
	report := &BenchmarkReport{Model: model, Prompt: prompt}
	samples := make([]entities.BenchmarkSample, 0, iterations)

	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ch, err := b.client.Stream(ctx, StreamRequest{Model: model, History: history, Options: opts})
		if err != nil {
			return nil, err
		}

		var response strings.Builder
		var final entities.PartialOutput
		for p := range ch {
			if p.Done {
				final = p
				continue
			}
			response.WriteString(p.Delta)
		}

		report.Iterations = append(report.Iterations, BenchmarkIteration{
			Status:        final.Status,
			Reason:        final.Reason,
			TTFT:          final.TTFT,
			TotalDuration: final.TotalDuration,
			OutputTokens:  final.OutputTokens,
			Response:      response.String(),
		})
		samples = append(samples, entities.BenchmarkSample{
			Model:         model,
			TTFT:          final.TTFT,
			TotalDuration: final.TotalDuration,
			OutputTokens:  final.OutputTokens,
			PromptTokens:  final.PromptTokens,
			Outcome:       final.Status.Outcome(),
			Reason:        final.Reason,
			RecordedAt:    final.Timestamp,
		})
	}

	report.Summary = metrics.Summarize(model, samples)
	b.logger.Info("Benchmark finished", logutil.Fields{
		"model":          model,
		"iterations":     iterations,
		"mean_ttft_ms":   report.Summary.MeanTTFT.Milliseconds(),
		"tokens_per_sec": report.Summary.MeanTokensPerSec,
		"error_rate":     report.Summary.ErrorRate,
	})
	return report, nil
}

func dedupeModels(models []string) []string {
	seen := make(map[string]struct{}, len(models))
	var out []string
	for _, m := range models {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

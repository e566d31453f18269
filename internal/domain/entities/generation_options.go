package entities

import (
	"fmt"

	"ollamachat/internal/domain/apperr"
)

// Documented ranges for generation options.
const (
	MinTemperature   = 0.0
	MaxTemperature   = 2.0
	MinMaxTokens     = 1
	MaxMaxTokens     = 32768
	MinTopP          = 0.0
	MaxTopP          = 1.0
	MinTopK          = 1
	MaxTopK          = 100
	MinRepeatPenalty = 0.5
	MaxRepeatPenalty = 2.0
	MaxStopSequences = 4
)

// GenerationOptions is the fixed set of recognized sampling options.
type GenerationOptions struct {
	Temperature   float64  `json:"temperature" mapstructure:"temperature"`
	MaxTokens     int      `json:"max_tokens" mapstructure:"max_tokens"`
	TopP          float64  `json:"top_p" mapstructure:"top_p"`
	TopK          int      `json:"top_k" mapstructure:"top_k"`
	RepeatPenalty float64  `json:"repeat_penalty" mapstructure:"repeat_penalty"`
	Seed          *int     `json:"seed,omitempty" mapstructure:"seed"`
	Stop          []string `json:"stop,omitempty" mapstructure:"stop"`
}

// DefaultGenerationOptions mirrors the defaults of the chat UI sliders.
func DefaultGenerationOptions() GenerationOptions {
	return GenerationOptions{
		Temperature:   0.7,
		MaxTokens:     1000,
		TopP:          0.9,
		TopK:          40,
		RepeatPenalty: 1.1,
	}
}

// Validate checks every option against its documented range. The returned
// error wraps apperr.ErrInvalidOptions.
func (o GenerationOptions) Validate() error {
	var problems []string
	if o.Temperature < MinTemperature || o.Temperature > MaxTemperature {
		problems = append(problems, fmt.Sprintf("temperature %.2f outside [%.1f, %.1f]", o.Temperature, MinTemperature, MaxTemperature))
	}
	if o.MaxTokens < MinMaxTokens || o.MaxTokens > MaxMaxTokens {
		problems = append(problems, fmt.Sprintf("max_tokens %d outside [%d, %d]", o.MaxTokens, MinMaxTokens, MaxMaxTokens))
	}
	if o.TopP < MinTopP || o.TopP > MaxTopP {
		problems = append(problems, fmt.Sprintf("top_p %.2f outside [%.1f, %.1f]", o.TopP, MinTopP, MaxTopP))
	}
	if o.TopK < MinTopK || o.TopK > MaxTopK {
		problems = append(problems, fmt.Sprintf("top_k %d outside [%d, %d]", o.TopK, MinTopK, MaxTopK))
	}
	if o.RepeatPenalty < MinRepeatPenalty || o.RepeatPenalty > MaxRepeatPenalty {
		problems = append(problems, fmt.Sprintf("repeat_penalty %.2f outside [%.1f, %.1f]", o.RepeatPenalty, MinRepeatPenalty, MaxRepeatPenalty))
	}
	if len(o.Stop) > MaxStopSequences {
		problems = append(problems, fmt.Sprintf("at most %d stop sequences allowed, got %d", MaxStopSequences, len(o.Stop)))
	}
	if len(problems) > 0 {
		return &apperr.OptionsError{Problems: problems}
	}
	return nil
}

// OptionsPatch carries caller overrides; nil fields keep the base value.
type OptionsPatch struct {
	Temperature   *float64 `json:"temperature,omitempty"`
	MaxTokens     *int     `json:"max_tokens,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty"`
	Seed          *int     `json:"seed,omitempty"`
	Stop          []string `json:"stop,omitempty"`
}

// Apply returns base with the patch's non-nil fields applied.
func (p *OptionsPatch) Apply(base GenerationOptions) GenerationOptions {
	if p == nil {
		return base
	}
	if p.Temperature != nil {
		base.Temperature = *p.Temperature
	}
	if p.MaxTokens != nil {
		base.MaxTokens = *p.MaxTokens
	}
	if p.TopP != nil {
		base.TopP = *p.TopP
	}
	if p.TopK != nil {
		base.TopK = *p.TopK
	}
	if p.RepeatPenalty != nil {
		base.RepeatPenalty = *p.RepeatPenalty
	}
	if p.Seed != nil {
		seed := *p.Seed
		base.Seed = &seed
	}
	if p.Stop != nil {
		base.Stop = append([]string(nil), p.Stop...)
	}
	return base
}

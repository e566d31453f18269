package ports

import (
	"context"
	"time"
)

// ModelLister lists the models an inference server can serve.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ModelSummary, error)
	Ping(ctx context.Context) error
}

// ModelAdmin manages the models installed on an inference server. Only
// native Ollama servers support it.
type ModelAdmin interface {
	ModelLister
	ShowModel(ctx context.Context, name string) (*ModelInfo, error)
	PullModel(ctx context.Context, name string, progressFn func(PullProgress)) error
	DeleteModel(ctx context.Context, name string) error
	RunningModels(ctx context.Context) ([]RunningModel, error)
	UnloadModel(ctx context.Context, name string) error
	KeepLoaded(ctx context.Context, name string, d time.Duration) error
	Version(ctx context.Context) (string, error)
}

// ModelSummary is one entry of the installed model list.
type ModelSummary struct {
	Name       string        `json:"name"`
	ModifiedAt time.Time     `json:"modified_at"`
	Size       int64         `json:"size"`
	Digest     string        `json:"digest"`
	Details    *ModelDetails `json:"details,omitempty"`
}

// ModelDetails describes a model's architecture.
type ModelDetails struct {
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families,omitempty"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

// ModelInfo is the full description returned by a show request.
type ModelInfo struct {
	License    string       `json:"license,omitempty"`
	Modelfile  string       `json:"modelfile,omitempty"`
	Parameters string       `json:"parameters,omitempty"`
	Template   string       `json:"template,omitempty"`
	Details    ModelDetails `json:"details"`
}

// PullProgress is one progress update of a model download.
type PullProgress struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// Percent returns download completion in [0, 100], or 0 when unknown.
func (p PullProgress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Completed) / float64(p.Total) * 100
}

// RunningModel is a model currently loaded in memory.
type RunningModel struct {
	Name      string    `json:"name"`
	Model     string    `json:"model"`
	Size      int64     `json:"size"`
	SizeVRAM  int64     `json:"size_vram"`
	Digest    string    `json:"digest"`
	ExpiresAt time.Time `json:"expires_at"`
}

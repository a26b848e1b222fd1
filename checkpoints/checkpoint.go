// Package checkpoints persists trained models with their layer spec,
// training progress, and run metadata, in either a readable JSON form or a
// compact binary form.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tsawler/emotrain/engine"
	"github.com/tsawler/emotrain/layers"
	"github.com/tsawler/emotrain/tensor"
)

// WeightTensor is one named parameter with its shape and values.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// TrainingState records where in the schedule the checkpoint was taken.
type TrainingState struct {
	Phase        string  `json:"phase"`
	Epoch        int     `json:"epoch"`
	LearningRate float64 `json:"learning_rate"`
	BestAccuracy float64 `json:"best_accuracy"`
}

// Metadata identifies the run that produced a checkpoint.
type Metadata struct {
	RunID       string    `json:"run_id"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// NewMetadata returns metadata with a fresh run id and the current time.
func NewMetadata(description string) Metadata {
	return Metadata{
		RunID:       uuid.New().String(),
		CreatedAt:   time.Now().UTC(),
		Description: description,
	}
}

// Checkpoint is a complete serializable model state.
type Checkpoint struct {
	ModelSpec *layers.ModelSpec `json:"model_spec"`
	Weights   []WeightTensor    `json:"weights"`
	State     TrainingState     `json:"training_state"`
	Metadata  Metadata          `json:"metadata"`
}

// FromNetwork captures the network's current weights into a checkpoint.
func FromNetwork(net *engine.Network, state TrainingState, meta Metadata) *Checkpoint {
	params := net.NamedParameters()
	weights := make([]WeightTensor, len(params))
	for i, p := range params {
		shape := make([]int, len(p.Tensor.Shape))
		copy(shape, p.Tensor.Shape)
		data := make([]float64, len(p.Tensor.Data))
		copy(data, p.Tensor.Data)
		weights[i] = WeightTensor{Name: p.Name, Shape: shape, Data: data}
	}
	return &Checkpoint{
		ModelSpec: net.Spec(),
		Weights:   weights,
		State:     state,
		Metadata:  meta,
	}
}

// Apply loads the checkpoint's weights into a network. The network must have
// been built from a spec with matching parameter names and shapes.
func (c *Checkpoint) Apply(net *engine.Network) error {
	weights := make(map[string]*tensor.Tensor, len(c.Weights))
	for _, w := range c.Weights {
		t, err := tensor.FromData(w.Data, w.Shape...)
		if err != nil {
			return fmt.Errorf("weight %q: %w", w.Name, err)
		}
		weights[w.Name] = t
	}
	return net.LoadNamed(weights)
}

// Format selects the serialization encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatWire
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatWire:
		return "wire"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseFormat maps a format name to its value.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "json":
		return FormatJSON, nil
	case "wire":
		return FormatWire, nil
	default:
		return 0, fmt.Errorf("unknown checkpoint format %q", s)
	}
}

// Saver reads and writes checkpoints in one format.
type Saver struct {
	format Format
}

// NewSaver returns a saver for the given format.
func NewSaver(format Format) (*Saver, error) {
	switch format {
	case FormatJSON, FormatWire:
		return &Saver{format: format}, nil
	default:
		return nil, fmt.Errorf("unknown checkpoint format %d", format)
	}
}

// Marshal serializes a checkpoint.
func (s *Saver) Marshal(c *Checkpoint) ([]byte, error) {
	switch s.format {
	case FormatJSON:
		return json.MarshalIndent(c, "", "  ")
	case FormatWire:
		return marshalWire(c)
	default:
		return nil, fmt.Errorf("unknown checkpoint format %d", s.format)
	}
}

// Unmarshal deserializes a checkpoint.
func (s *Saver) Unmarshal(data []byte) (*Checkpoint, error) {
	switch s.format {
	case FormatJSON:
		var c Checkpoint
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decoding checkpoint: %w", err)
		}
		return &c, nil
	case FormatWire:
		return unmarshalWire(data)
	default:
		return nil, fmt.Errorf("unknown checkpoint format %d", s.format)
	}
}

// SaveToFile writes a checkpoint atomically: the data lands in a temporary
// file that is renamed over the target, so a crash never leaves a truncated
// checkpoint at the destination.
func (s *Saver) SaveToFile(path string, c *Checkpoint) error {
	data, err := s.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("creating temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming checkpoint: %w", err)
	}
	return nil
}

// LoadFromFile reads a checkpoint from disk.
func (s *Saver) LoadFromFile(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	return s.Unmarshal(data)
}

package engine

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/emotrain/layers"
	"github.com/tsawler/emotrain/tensor"
)

// Network instantiates a compiled ModelSpec for execution: it owns the
// parameter tensors and runs forward/backward passes over batches.
//
// Trainability is controlled per layer index through a frozen set rather
// than flags on individual layers; frozen layers still participate in
// forward and backward passes, but TrainableParams excludes them so the
// optimizer never touches their parameters.
type Network struct {
	spec   *layers.ModelSpec
	ops    []layerOp
	frozen map[int]bool
	rng    *rand.Rand
}

// NewNetwork builds the execution ops for a compiled model spec.
// Parameters are initialized from seed; the same seed also drives dropout.
func NewNetwork(spec *layers.ModelSpec, seed int64) (*Network, error) {
	if spec == nil || !spec.Compiled {
		return nil, fmt.Errorf("network requires a compiled model spec")
	}

	rng := rand.New(rand.NewSource(seed))
	ops := make([]layerOp, len(spec.Layers))
	for i := range spec.Layers {
		op, err := newLayerOp(&spec.Layers[i], rng)
		if err != nil {
			return nil, fmt.Errorf("layer %d (%s): %w", i, spec.Layers[i].Name, err)
		}
		ops[i] = op
	}

	return &Network{
		spec:   spec,
		ops:    ops,
		frozen: make(map[int]bool),
		rng:    rng,
	}, nil
}

// Spec returns the compiled model spec this network executes.
func (n *Network) Spec() *layers.ModelSpec {
	return n.spec
}

// Forward runs a batch through the network. training gates dropout.
func (n *Network) Forward(x *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	out := x
	var err error
	for i, op := range n.ops {
		out, err = op.Forward(out, training, n.rng)
		if err != nil {
			return nil, fmt.Errorf("forward layer %d (%s): %w", i, n.spec.Layers[i].Name, err)
		}
	}
	return out, nil
}

// Backward propagates the loss gradient through all layers, accumulating
// parameter gradients. Gradients flow through frozen layers too; freezing
// only stops their parameters from being updated.
func (n *Network) Backward(grad *tensor.Tensor) error {
	var err error
	for i := len(n.ops) - 1; i >= 0; i-- {
		grad, err = n.ops[i].Backward(grad)
		if err != nil {
			return fmt.Errorf("backward layer %d (%s): %w", i, n.spec.Layers[i].Name, err)
		}
	}
	return nil
}

// SetFrozen replaces the frozen layer set.
func (n *Network) SetFrozen(indices []int) error {
	frozen := make(map[int]bool, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= len(n.ops) {
			return fmt.Errorf("layer index %d out of range [0, %d)", idx, len(n.ops))
		}
		frozen[idx] = true
	}
	n.frozen = frozen
	return nil
}

// IsFrozen reports whether a layer's parameters are excluded from updates.
func (n *Network) IsFrozen(index int) bool {
	return n.frozen[index]
}

// NumLayers returns the layer count.
func (n *Network) NumLayers() int {
	return len(n.ops)
}

// LayerParams returns the parameter tensors of one layer (nil for
// parameterless layers).
func (n *Network) LayerParams(index int) []*tensor.Tensor {
	return n.ops[index].Params()
}

// Parameters returns all parameter tensors in layer order.
func (n *Network) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, op := range n.ops {
		params = append(params, op.Params()...)
	}
	return params
}

// TrainableParams returns the parameters and matching gradients of all
// non-frozen layers, in layer order.
func (n *Network) TrainableParams() ([]*tensor.Tensor, []*tensor.Tensor) {
	var params []*tensor.Tensor
	var grads []*tensor.Tensor
	for i, op := range n.ops {
		if n.frozen[i] {
			continue
		}
		params = append(params, op.Params()...)
		grads = append(grads, op.Grads()...)
	}
	return params, grads
}

// TrainableCount returns the number of trainable scalar parameters.
func (n *Network) TrainableCount() int {
	total := 0
	params, _ := n.TrainableParams()
	for _, p := range params {
		total += p.NumElems()
	}
	return total
}

// Snapshot returns deep copies of every parameter tensor in layer order,
// suitable for checkpointing.
func (n *Network) Snapshot() []*tensor.Tensor {
	params := n.Parameters()
	snap := make([]*tensor.Tensor, len(params))
	for i, p := range params {
		snap[i] = p.Clone()
	}
	return snap
}

// Restore copies a snapshot back into the network's parameters.
func (n *Network) Restore(snapshot []*tensor.Tensor) error {
	params := n.Parameters()
	if len(snapshot) != len(params) {
		return fmt.Errorf("snapshot has %d tensors, network has %d", len(snapshot), len(params))
	}
	for i, p := range params {
		if err := p.CopyFrom(snapshot[i]); err != nil {
			return fmt.Errorf("parameter %d: %w", i, err)
		}
	}
	return nil
}

// NamedParam pairs a parameter tensor with its checkpoint identity.
type NamedParam struct {
	Name   string // "<layer>.weight" or "<layer>.bias"
	Layer  string
	Kind   string // "weight" or "bias"
	Tensor *tensor.Tensor
}

// NamedParameters returns every parameter with a stable name derived from
// its layer, for serialization.
func (n *Network) NamedParameters() []NamedParam {
	var named []NamedParam
	for i, op := range n.ops {
		layerName := n.spec.Layers[i].Name
		for j, p := range op.Params() {
			kind := "weight"
			if j == 1 {
				kind = "bias"
			}
			named = append(named, NamedParam{
				Name:   fmt.Sprintf("%s.%s", layerName, kind),
				Layer:  layerName,
				Kind:   kind,
				Tensor: p,
			})
		}
	}
	return named
}

// LoadNamed copies parameter data by name, e.g. from a pretrained bundle.
// Every provided name must match a parameter with the same shape; network
// parameters absent from the map are left untouched.
func (n *Network) LoadNamed(weights map[string]*tensor.Tensor) error {
	named := n.NamedParameters()
	byName := make(map[string]*tensor.Tensor, len(named))
	for _, np := range named {
		byName[np.Name] = np.Tensor
	}
	for name, src := range weights {
		dst, ok := byName[name]
		if !ok {
			return fmt.Errorf("no parameter named %q in network", name)
		}
		if err := dst.CopyFrom(src); err != nil {
			return fmt.Errorf("parameter %q: %w", name, err)
		}
	}
	return nil
}

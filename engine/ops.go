package engine

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/emotrain/layers"
	"github.com/tsawler/emotrain/tensor"
)

// layerOp is the execution counterpart of a layers.LayerSpec. Forward caches
// whatever the backward pass needs; Backward returns the gradient with
// respect to the op's input and accumulates parameter gradients.
type layerOp interface {
	Forward(x *tensor.Tensor, training bool, rng *rand.Rand) (*tensor.Tensor, error)
	Backward(grad *tensor.Tensor) (*tensor.Tensor, error)
	Params() []*tensor.Tensor
	Grads() []*tensor.Tensor
}

// newLayerOp instantiates the op for a compiled layer spec, initializing
// parameters from rng.
func newLayerOp(spec *layers.LayerSpec, rng *rand.Rand) (layerOp, error) {
	switch spec.Type {
	case layers.Conv2D:
		return newConv2DOp(spec, rng), nil
	case layers.Dense:
		return newDenseOp(spec, rng), nil
	case layers.ReLU:
		return &reluOp{}, nil
	case layers.Softmax:
		return &softmaxOp{}, nil
	case layers.MaxPool2D:
		return newMaxPoolOp(spec), nil
	case layers.GlobalAvgPool:
		return &globalAvgPoolOp{}, nil
	case layers.Dropout:
		return &dropoutOp{rate: layers.FloatParam(spec, "rate")}, nil
	default:
		return nil, fmt.Errorf("no execution op for layer type %s", spec.Type)
	}
}

// heInit fills t with He-normal values scaled by fan-in, the standard
// initialization for ReLU stacks.
func heInit(t *tensor.Tensor, fanIn int, rng *rand.Rand) {
	std := math.Sqrt(2.0 / float64(fanIn))
	for i := range t.Data {
		t.Data[i] = rng.NormFloat64() * std
	}
}

// conv2DOp implements 2D convolution over NCHW batches.
// Weights are [outC, inC, kH, kW].
type conv2DOp struct {
	inChannels  int
	outChannels int
	kernel      int
	stride      int
	padding     int
	useBias     bool

	weights *tensor.Tensor
	bias    *tensor.Tensor
	gradW   *tensor.Tensor
	gradB   *tensor.Tensor

	input *tensor.Tensor
}

func newConv2DOp(spec *layers.LayerSpec, rng *rand.Rand) *conv2DOp {
	op := &conv2DOp{
		inChannels:  layers.IntParam(spec, "input_channels"),
		outChannels: layers.IntParam(spec, "output_channels"),
		kernel:      layers.IntParam(spec, "kernel_size"),
		stride:      layers.IntParam(spec, "stride"),
		padding:     layers.IntParam(spec, "padding"),
		useBias:     layers.BoolParam(spec, "use_bias"),
	}

	op.weights = tensor.New(op.outChannels, op.inChannels, op.kernel, op.kernel)
	op.gradW = tensor.New(op.outChannels, op.inChannels, op.kernel, op.kernel)
	heInit(op.weights, op.inChannels*op.kernel*op.kernel, rng)

	if op.useBias {
		op.bias = tensor.New(op.outChannels)
		op.gradB = tensor.New(op.outChannels)
	}
	return op
}

func (c *conv2DOp) outputSize(inH, inW int) (int, int) {
	outH := (inH+2*c.padding-c.kernel)/c.stride + 1
	outW := (inW+2*c.padding-c.kernel)/c.stride + 1
	return outH, outW
}

func (c *conv2DOp) Forward(x *tensor.Tensor, training bool, rng *rand.Rand) (*tensor.Tensor, error) {
	if len(x.Shape) != 4 || x.Shape[1] != c.inChannels {
		return nil, fmt.Errorf("conv2d expects [N, %d, H, W] input, got %v", c.inChannels, x.Shape)
	}

	batch := x.Shape[0]
	inH := x.Shape[2]
	inW := x.Shape[3]
	outH, outW := c.outputSize(inH, inW)

	c.input = x
	out := tensor.New(batch, c.outChannels, outH, outW)

	for b := 0; b < batch; b++ {
		for f := 0; f < c.outChannels; f++ {
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					sum := 0.0
					for ic := 0; ic < c.inChannels; ic++ {
						for kh := 0; kh < c.kernel; kh++ {
							ih := oh*c.stride + kh - c.padding
							if ih < 0 || ih >= inH {
								continue
							}
							for kw := 0; kw < c.kernel; kw++ {
								iw := ow*c.stride + kw - c.padding
								if iw < 0 || iw >= inW {
									continue
								}
								inIdx := ((b*c.inChannels+ic)*inH+ih)*inW + iw
								wIdx := ((f*c.inChannels+ic)*c.kernel+kh)*c.kernel + kw
								sum += x.Data[inIdx] * c.weights.Data[wIdx]
							}
						}
					}
					if c.useBias {
						sum += c.bias.Data[f]
					}
					out.Data[((b*c.outChannels+f)*outH+oh)*outW+ow] = sum
				}
			}
		}
	}

	return out, nil
}

func (c *conv2DOp) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if c.input == nil {
		return nil, fmt.Errorf("conv2d backward called before forward")
	}

	batch := c.input.Shape[0]
	inH := c.input.Shape[2]
	inW := c.input.Shape[3]
	outH := grad.Shape[2]
	outW := grad.Shape[3]

	c.gradW.Zero()
	if c.useBias {
		c.gradB.Zero()
	}
	gradInput := tensor.New(c.input.Shape...)

	for b := 0; b < batch; b++ {
		for f := 0; f < c.outChannels; f++ {
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					dout := grad.Data[((b*c.outChannels+f)*outH+oh)*outW+ow]
					if dout == 0 {
						continue
					}
					if c.useBias {
						c.gradB.Data[f] += dout
					}
					for ic := 0; ic < c.inChannels; ic++ {
						for kh := 0; kh < c.kernel; kh++ {
							ih := oh*c.stride + kh - c.padding
							if ih < 0 || ih >= inH {
								continue
							}
							for kw := 0; kw < c.kernel; kw++ {
								iw := ow*c.stride + kw - c.padding
								if iw < 0 || iw >= inW {
									continue
								}
								inIdx := ((b*c.inChannels+ic)*inH+ih)*inW + iw
								wIdx := ((f*c.inChannels+ic)*c.kernel+kh)*c.kernel + kw
								c.gradW.Data[wIdx] += c.input.Data[inIdx] * dout
								gradInput.Data[inIdx] += c.weights.Data[wIdx] * dout
							}
						}
					}
				}
			}
		}
	}

	return gradInput, nil
}

func (c *conv2DOp) Params() []*tensor.Tensor {
	if c.useBias {
		return []*tensor.Tensor{c.weights, c.bias}
	}
	return []*tensor.Tensor{c.weights}
}

func (c *conv2DOp) Grads() []*tensor.Tensor {
	if c.useBias {
		return []*tensor.Tensor{c.gradW, c.gradB}
	}
	return []*tensor.Tensor{c.gradW}
}

// denseOp implements a fully connected layer. Weights are [in, out] so the
// forward pass is a single [N,in] x [in,out] product via gonum.
type denseOp struct {
	inSize  int
	outSize int
	useBias bool

	weights *tensor.Tensor
	bias    *tensor.Tensor
	gradW   *tensor.Tensor
	gradB   *tensor.Tensor

	input *tensor.Tensor
}

func newDenseOp(spec *layers.LayerSpec, rng *rand.Rand) *denseOp {
	op := &denseOp{
		inSize:  layers.IntParam(spec, "input_size"),
		outSize: layers.IntParam(spec, "output_size"),
		useBias: layers.BoolParam(spec, "use_bias"),
	}
	op.weights = tensor.New(op.inSize, op.outSize)
	op.gradW = tensor.New(op.inSize, op.outSize)
	heInit(op.weights, op.inSize, rng)
	if op.useBias {
		op.bias = tensor.New(op.outSize)
		op.gradB = tensor.New(op.outSize)
	}
	return op
}

func (d *denseOp) Forward(x *tensor.Tensor, training bool, rng *rand.Rand) (*tensor.Tensor, error) {
	if len(x.Shape) != 2 || x.Shape[1] != d.inSize {
		return nil, fmt.Errorf("dense expects [N, %d] input, got %v", d.inSize, x.Shape)
	}
	batch := x.Shape[0]
	d.input = x

	out := tensor.New(batch, d.outSize)
	xm := mat.NewDense(batch, d.inSize, x.Data)
	wm := mat.NewDense(d.inSize, d.outSize, d.weights.Data)
	om := mat.NewDense(batch, d.outSize, out.Data)
	om.Mul(xm, wm)

	if d.useBias {
		for b := 0; b < batch; b++ {
			row := out.Data[b*d.outSize : (b+1)*d.outSize]
			for j := range row {
				row[j] += d.bias.Data[j]
			}
		}
	}
	return out, nil
}

func (d *denseOp) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if d.input == nil {
		return nil, fmt.Errorf("dense backward called before forward")
	}
	batch := d.input.Shape[0]

	xm := mat.NewDense(batch, d.inSize, d.input.Data)
	gm := mat.NewDense(batch, d.outSize, grad.Data)
	wm := mat.NewDense(d.inSize, d.outSize, d.weights.Data)

	// dW = X^T * dY
	gwm := mat.NewDense(d.inSize, d.outSize, d.gradW.Data)
	gwm.Mul(xm.T(), gm)

	if d.useBias {
		d.gradB.Zero()
		for b := 0; b < batch; b++ {
			for j := 0; j < d.outSize; j++ {
				d.gradB.Data[j] += grad.Data[b*d.outSize+j]
			}
		}
	}

	// dX = dY * W^T
	gradInput := tensor.New(batch, d.inSize)
	gim := mat.NewDense(batch, d.inSize, gradInput.Data)
	gim.Mul(gm, wm.T())

	return gradInput, nil
}

func (d *denseOp) Params() []*tensor.Tensor {
	if d.useBias {
		return []*tensor.Tensor{d.weights, d.bias}
	}
	return []*tensor.Tensor{d.weights}
}

func (d *denseOp) Grads() []*tensor.Tensor {
	if d.useBias {
		return []*tensor.Tensor{d.gradW, d.gradB}
	}
	return []*tensor.Tensor{d.gradW}
}

// reluOp applies max(0, x) elementwise.
type reluOp struct {
	input *tensor.Tensor
}

func (r *reluOp) Forward(x *tensor.Tensor, training bool, rng *rand.Rand) (*tensor.Tensor, error) {
	r.input = x
	out := tensor.New(x.Shape...)
	for i, v := range x.Data {
		if v > 0 {
			out.Data[i] = v
		}
	}
	return out, nil
}

func (r *reluOp) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if r.input == nil {
		return nil, fmt.Errorf("relu backward called before forward")
	}
	gradInput := tensor.New(grad.Shape...)
	for i, v := range r.input.Data {
		if v > 0 {
			gradInput.Data[i] = grad.Data[i]
		}
	}
	return gradInput, nil
}

func (r *reluOp) Params() []*tensor.Tensor { return nil }
func (r *reluOp) Grads() []*tensor.Tensor  { return nil }

// softmaxOp normalizes the last dimension to a probability distribution.
// Paired with categorical cross-entropy the loss gradient is already taken
// with respect to the pre-softmax logits, so Backward is a pass-through.
type softmaxOp struct{}

func (s *softmaxOp) Forward(x *tensor.Tensor, training bool, rng *rand.Rand) (*tensor.Tensor, error) {
	if len(x.Shape) != 2 {
		return nil, fmt.Errorf("softmax expects [N, classes] input, got %v", x.Shape)
	}
	batch := x.Shape[0]
	classes := x.Shape[1]
	out := tensor.New(x.Shape...)

	for b := 0; b < batch; b++ {
		row := x.Data[b*classes : (b+1)*classes]
		maxVal := row[0]
		for _, v := range row[1:] {
			if v > maxVal {
				maxVal = v
			}
		}
		sum := 0.0
		outRow := out.Data[b*classes : (b+1)*classes]
		for i, v := range row {
			e := math.Exp(v - maxVal)
			outRow[i] = e
			sum += e
		}
		for i := range outRow {
			outRow[i] /= sum
		}
	}
	return out, nil
}

func (s *softmaxOp) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	return grad, nil
}

func (s *softmaxOp) Params() []*tensor.Tensor { return nil }
func (s *softmaxOp) Grads() []*tensor.Tensor  { return nil }

// maxPoolOp implements non-overlapping max pooling over NCHW batches.
type maxPoolOp struct {
	pool   int
	stride int

	inputShape []int
	maxIndices []int
}

func newMaxPoolOp(spec *layers.LayerSpec) *maxPoolOp {
	return &maxPoolOp{
		pool:   layers.IntParam(spec, "pool_size"),
		stride: layers.IntParam(spec, "stride"),
	}
}

func (m *maxPoolOp) Forward(x *tensor.Tensor, training bool, rng *rand.Rand) (*tensor.Tensor, error) {
	if len(x.Shape) != 4 {
		return nil, fmt.Errorf("maxpool expects [N, C, H, W] input, got %v", x.Shape)
	}
	batch, channels, inH, inW := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	outH := (inH-m.pool)/m.stride + 1
	outW := (inW-m.pool)/m.stride + 1

	m.inputShape = x.Shape
	out := tensor.New(batch, channels, outH, outW)
	m.maxIndices = make([]int, out.NumElems())

	for b := 0; b < batch; b++ {
		for c := 0; c < channels; c++ {
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					maxVal := math.Inf(-1)
					maxIdx := 0
					for ph := 0; ph < m.pool; ph++ {
						ih := oh*m.stride + ph
						if ih >= inH {
							continue
						}
						for pw := 0; pw < m.pool; pw++ {
							iw := ow*m.stride + pw
							if iw >= inW {
								continue
							}
							idx := ((b*channels+c)*inH+ih)*inW + iw
							if x.Data[idx] > maxVal {
								maxVal = x.Data[idx]
								maxIdx = idx
							}
						}
					}
					outIdx := ((b*channels+c)*outH+oh)*outW + ow
					out.Data[outIdx] = maxVal
					m.maxIndices[outIdx] = maxIdx
				}
			}
		}
	}
	return out, nil
}

func (m *maxPoolOp) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if m.maxIndices == nil {
		return nil, fmt.Errorf("maxpool backward called before forward")
	}
	gradInput := tensor.New(m.inputShape...)
	for outIdx, inIdx := range m.maxIndices {
		gradInput.Data[inIdx] += grad.Data[outIdx]
	}
	return gradInput, nil
}

func (m *maxPoolOp) Params() []*tensor.Tensor { return nil }
func (m *maxPoolOp) Grads() []*tensor.Tensor  { return nil }

// globalAvgPoolOp averages each channel's spatial plane: [N,C,H,W] -> [N,C].
type globalAvgPoolOp struct {
	inputShape []int
}

func (g *globalAvgPoolOp) Forward(x *tensor.Tensor, training bool, rng *rand.Rand) (*tensor.Tensor, error) {
	if len(x.Shape) != 4 {
		return nil, fmt.Errorf("global average pool expects [N, C, H, W] input, got %v", x.Shape)
	}
	batch, channels, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	g.inputShape = x.Shape

	out := tensor.New(batch, channels)
	area := float64(h * w)
	for b := 0; b < batch; b++ {
		for c := 0; c < channels; c++ {
			sum := 0.0
			base := ((b*channels + c) * h) * w
			for i := 0; i < h*w; i++ {
				sum += x.Data[base+i]
			}
			out.Data[b*channels+c] = sum / area
		}
	}
	return out, nil
}

func (g *globalAvgPoolOp) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if g.inputShape == nil {
		return nil, fmt.Errorf("global average pool backward called before forward")
	}
	batch, channels, h, w := g.inputShape[0], g.inputShape[1], g.inputShape[2], g.inputShape[3]
	gradInput := tensor.New(g.inputShape...)
	area := float64(h * w)
	for b := 0; b < batch; b++ {
		for c := 0; c < channels; c++ {
			share := grad.Data[b*channels+c] / area
			base := ((b*channels + c) * h) * w
			for i := 0; i < h*w; i++ {
				gradInput.Data[base+i] = share
			}
		}
	}
	return gradInput, nil
}

func (g *globalAvgPoolOp) Params() []*tensor.Tensor { return nil }
func (g *globalAvgPoolOp) Grads() []*tensor.Tensor  { return nil }

// dropoutOp uses inverted dropout: surviving activations are scaled by
// 1/(1-rate) at training time so evaluation is a no-op.
type dropoutOp struct {
	rate float64
	mask []float64
}

func (d *dropoutOp) Forward(x *tensor.Tensor, training bool, rng *rand.Rand) (*tensor.Tensor, error) {
	if !training || d.rate <= 0 {
		d.mask = nil
		return x, nil
	}
	if d.rate >= 1 {
		return nil, fmt.Errorf("dropout rate %f would zero all activations", d.rate)
	}

	scale := 1.0 / (1.0 - d.rate)
	out := tensor.New(x.Shape...)
	d.mask = make([]float64, len(x.Data))
	for i, v := range x.Data {
		if rng.Float64() >= d.rate {
			d.mask[i] = scale
			out.Data[i] = v * scale
		}
	}
	return out, nil
}

func (d *dropoutOp) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if d.mask == nil {
		return grad, nil
	}
	gradInput := tensor.New(grad.Shape...)
	for i := range grad.Data {
		gradInput.Data[i] = grad.Data[i] * d.mask[i]
	}
	return gradInput, nil
}

func (d *dropoutOp) Params() []*tensor.Tensor { return nil }
func (d *dropoutOp) Grads() []*tensor.Tensor  { return nil }

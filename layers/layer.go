package layers

import (
	"fmt"
)

// LayerType represents the type of neural network layer
type LayerType int

const (
	Conv2D LayerType = iota
	Dense
	ReLU
	Softmax
	MaxPool2D
	GlobalAvgPool
	Dropout
)

func (lt LayerType) String() string {
	switch lt {
	case Conv2D:
		return "Conv2D"
	case Dense:
		return "Dense"
	case ReLU:
		return "ReLU"
	case Softmax:
		return "Softmax"
	case MaxPool2D:
		return "MaxPool2D"
	case GlobalAvgPool:
		return "GlobalAvgPool"
	case Dropout:
		return "Dropout"
	default:
		return "Unknown"
	}
}

// LayerSpec defines layer configuration for the execution engine.
// This is pure configuration - no execution logic.
type LayerSpec struct {
	Type       LayerType              `json:"type"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`

	// Shape information (computed during model compilation)
	InputShape  []int `json:"input_shape,omitempty"`
	OutputShape []int `json:"output_shape,omitempty"`

	// Parameter metadata (computed during model compilation)
	ParameterShapes [][]int `json:"parameter_shapes,omitempty"`
	ParameterCount  int64   `json:"parameter_count,omitempty"`
}

// ModelSpec defines a complete neural network model as layer configuration
type ModelSpec struct {
	Layers []LayerSpec `json:"layers"`

	// Compiled model information
	TotalParameters int64   `json:"total_parameters"`
	ParameterShapes [][]int `json:"parameter_shapes"`
	InputShape      []int   `json:"input_shape"`
	OutputShape     []int   `json:"output_shape"`
	Compiled        bool    `json:"compiled"`
}

// ModelAssemblyError indicates an architecture or shape incompatibility
// detected at model compilation time.
type ModelAssemblyError struct {
	Layer  string
	Reason string
}

func (e *ModelAssemblyError) Error() string {
	return fmt.Sprintf("model assembly failed at layer %q: %s", e.Layer, e.Reason)
}

// ModelBuilder helps construct neural network models
type ModelBuilder struct {
	layers     []LayerSpec
	inputShape []int
	compiled   bool
}

// NewModelBuilder creates a new model builder.
// inputShape excludes the batch dimension: [channels, height, width] for
// image input or [features] for flat input.
func NewModelBuilder(inputShape []int) *ModelBuilder {
	shapeCopy := make([]int, len(inputShape))
	copy(shapeCopy, inputShape)
	return &ModelBuilder{
		layers:     make([]LayerSpec, 0),
		inputShape: shapeCopy,
		compiled:   false,
	}
}

// AddLayer adds a layer to the model
func (mb *ModelBuilder) AddLayer(layer LayerSpec) *ModelBuilder {
	mb.layers = append(mb.layers, layer)
	mb.compiled = false // Invalidate compilation
	return mb
}

// AddConv2D adds a Conv2D layer to the model.
// Input channels are inferred during compilation.
func (mb *ModelBuilder) AddConv2D(outputChannels, kernelSize, stride, padding int, useBias bool, name string) *ModelBuilder {
	layer := LayerSpec{
		Type: Conv2D,
		Name: name,
		Parameters: map[string]interface{}{
			"output_channels": outputChannels,
			"kernel_size":     kernelSize,
			"stride":          stride,
			"padding":         padding,
			"use_bias":        useBias,
		},
	}
	return mb.AddLayer(layer)
}

// AddDense adds a dense layer to the model.
// Input size is inferred during compilation.
func (mb *ModelBuilder) AddDense(outputSize int, useBias bool, name string) *ModelBuilder {
	layer := LayerSpec{
		Type: Dense,
		Name: name,
		Parameters: map[string]interface{}{
			"output_size": outputSize,
			"use_bias":    useBias,
		},
	}
	return mb.AddLayer(layer)
}

// AddReLU adds a ReLU activation to the model
func (mb *ModelBuilder) AddReLU(name string) *ModelBuilder {
	layer := LayerSpec{
		Type:       ReLU,
		Name:       name,
		Parameters: map[string]interface{}{},
	}
	return mb.AddLayer(layer)
}

// AddSoftmax adds a Softmax activation to the model
func (mb *ModelBuilder) AddSoftmax(name string) *ModelBuilder {
	layer := LayerSpec{
		Type:       Softmax,
		Name:       name,
		Parameters: map[string]interface{}{},
	}
	return mb.AddLayer(layer)
}

// AddMaxPool2D adds a max pooling layer to the model
func (mb *ModelBuilder) AddMaxPool2D(poolSize, stride int, name string) *ModelBuilder {
	layer := LayerSpec{
		Type: MaxPool2D,
		Name: name,
		Parameters: map[string]interface{}{
			"pool_size": poolSize,
			"stride":    stride,
		},
	}
	return mb.AddLayer(layer)
}

// AddGlobalAvgPool adds a global average pooling layer that collapses
// spatial dimensions: [C, H, W] -> [C]
func (mb *ModelBuilder) AddGlobalAvgPool(name string) *ModelBuilder {
	layer := LayerSpec{
		Type:       GlobalAvgPool,
		Name:       name,
		Parameters: map[string]interface{}{},
	}
	return mb.AddLayer(layer)
}

// AddDropout adds a Dropout layer to the model.
// rate: dropout probability (0.0 = no dropout, 1.0 = drop all)
func (mb *ModelBuilder) AddDropout(rate float64, name string) *ModelBuilder {
	layer := LayerSpec{
		Type: Dropout,
		Name: name,
		Parameters: map[string]interface{}{
			"rate": rate,
		},
	}
	return mb.AddLayer(layer)
}

// NumLayers returns the number of layers added so far.
func (mb *ModelBuilder) NumLayers() int {
	return len(mb.layers)
}

// Compile compiles the model and computes shapes and parameter counts
func (mb *ModelBuilder) Compile() (*ModelSpec, error) {
	if len(mb.layers) == 0 {
		return nil, &ModelAssemblyError{Layer: "", Reason: "cannot compile empty model"}
	}

	model := &ModelSpec{
		Layers:     make([]LayerSpec, len(mb.layers)),
		InputShape: mb.inputShape,
		Compiled:   false,
	}

	copy(model.Layers, mb.layers)

	currentShape := mb.inputShape
	var allParameterShapes [][]int
	totalParams := int64(0)

	for i := range model.Layers {
		layer := &model.Layers[i]

		layer.InputShape = make([]int, len(currentShape))
		copy(layer.InputShape, currentShape)

		outputShape, paramShapes, paramCount, err := computeLayerInfo(layer, currentShape)
		if err != nil {
			return nil, err
		}

		layer.OutputShape = outputShape
		layer.ParameterShapes = paramShapes
		layer.ParameterCount = paramCount

		allParameterShapes = append(allParameterShapes, paramShapes...)
		totalParams += paramCount

		currentShape = outputShape
	}

	model.OutputShape = currentShape
	model.ParameterShapes = allParameterShapes
	model.TotalParameters = totalParams
	model.Compiled = true
	mb.compiled = true

	return model, nil
}

// computeLayerInfo computes output shape and parameter information for a layer
func computeLayerInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	switch layer.Type {
	case Conv2D:
		return computeConv2DInfo(layer, inputShape)
	case Dense:
		return computeDenseInfo(layer, inputShape)
	case MaxPool2D:
		return computeMaxPool2DInfo(layer, inputShape)
	case GlobalAvgPool:
		return computeGlobalAvgPoolInfo(layer, inputShape)
	case ReLU, Softmax, Dropout:
		return computeActivationInfo(layer, inputShape)
	default:
		return nil, nil, 0, &ModelAssemblyError{
			Layer:  layer.Name,
			Reason: fmt.Sprintf("unsupported layer type: %s", layer.Type.String()),
		}
	}
}

func computeConv2DInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) != 3 {
		return nil, nil, 0, &ModelAssemblyError{
			Layer:  layer.Name,
			Reason: fmt.Sprintf("Conv2D requires [C, H, W] input, got %v", inputShape),
		}
	}

	inChannels := inputShape[0]
	inH := inputShape[1]
	inW := inputShape[2]

	outChannels := IntParam(layer, "output_channels")
	kernel := IntParam(layer, "kernel_size")
	stride := IntParam(layer, "stride")
	padding := IntParam(layer, "padding")
	useBias := BoolParam(layer, "use_bias")

	if outChannels <= 0 || kernel <= 0 || stride <= 0 {
		return nil, nil, 0, &ModelAssemblyError{
			Layer:  layer.Name,
			Reason: fmt.Sprintf("invalid Conv2D config: channels=%d kernel=%d stride=%d", outChannels, kernel, stride),
		}
	}

	// Record inferred input channels for the execution engine.
	layer.Parameters["input_channels"] = inChannels

	outH := (inH+2*padding-kernel)/stride + 1
	outW := (inW+2*padding-kernel)/stride + 1
	if outH <= 0 || outW <= 0 {
		return nil, nil, 0, &ModelAssemblyError{
			Layer:  layer.Name,
			Reason: fmt.Sprintf("kernel %d with stride %d exceeds input %dx%d", kernel, stride, inH, inW),
		}
	}

	paramShapes := [][]int{{outChannels, inChannels, kernel, kernel}}
	paramCount := int64(outChannels * inChannels * kernel * kernel)
	if useBias {
		paramShapes = append(paramShapes, []int{outChannels})
		paramCount += int64(outChannels)
	}

	return []int{outChannels, outH, outW}, paramShapes, paramCount, nil
}

func computeDenseInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) != 1 {
		return nil, nil, 0, &ModelAssemblyError{
			Layer:  layer.Name,
			Reason: fmt.Sprintf("Dense requires flat [features] input, got %v (pool or flatten first)", inputShape),
		}
	}

	inSize := inputShape[0]
	outSize := IntParam(layer, "output_size")
	useBias := BoolParam(layer, "use_bias")

	if outSize <= 0 {
		return nil, nil, 0, &ModelAssemblyError{
			Layer:  layer.Name,
			Reason: fmt.Sprintf("invalid Dense output size: %d", outSize),
		}
	}

	layer.Parameters["input_size"] = inSize

	paramShapes := [][]int{{inSize, outSize}}
	paramCount := int64(inSize * outSize)
	if useBias {
		paramShapes = append(paramShapes, []int{outSize})
		paramCount += int64(outSize)
	}

	return []int{outSize}, paramShapes, paramCount, nil
}

func computeMaxPool2DInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) != 3 {
		return nil, nil, 0, &ModelAssemblyError{
			Layer:  layer.Name,
			Reason: fmt.Sprintf("MaxPool2D requires [C, H, W] input, got %v", inputShape),
		}
	}

	pool := IntParam(layer, "pool_size")
	stride := IntParam(layer, "stride")
	if pool <= 0 || stride <= 0 {
		return nil, nil, 0, &ModelAssemblyError{
			Layer:  layer.Name,
			Reason: fmt.Sprintf("invalid MaxPool2D config: pool=%d stride=%d", pool, stride),
		}
	}

	outH := (inputShape[1]-pool)/stride + 1
	outW := (inputShape[2]-pool)/stride + 1
	if outH <= 0 || outW <= 0 {
		return nil, nil, 0, &ModelAssemblyError{
			Layer:  layer.Name,
			Reason: fmt.Sprintf("pool %d with stride %d exceeds input %dx%d", pool, stride, inputShape[1], inputShape[2]),
		}
	}

	return []int{inputShape[0], outH, outW}, nil, 0, nil
}

func computeGlobalAvgPoolInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) != 3 {
		return nil, nil, 0, &ModelAssemblyError{
			Layer:  layer.Name,
			Reason: fmt.Sprintf("GlobalAvgPool requires [C, H, W] input, got %v", inputShape),
		}
	}
	return []int{inputShape[0]}, nil, 0, nil
}

func computeActivationInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	outputShape := make([]int, len(inputShape))
	copy(outputShape, inputShape)
	return outputShape, nil, 0, nil
}

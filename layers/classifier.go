package layers

import "fmt"

// BackboneConfig describes the convolutional feature extractor: a stack of
// Conv2D -> ReLU -> MaxPool2D blocks. Its parameters are typically loaded
// from a pretrained bundle and kept frozen during head training.
type BackboneConfig struct {
	Channels   []int // output channels per block
	KernelSize int
	PoolSize   int
}

// DefaultBackboneConfig returns the standard feature extractor layout.
func DefaultBackboneConfig() BackboneConfig {
	return BackboneConfig{
		Channels:   []int{32, 64, 128},
		KernelSize: 3,
		PoolSize:   2,
	}
}

// ClassifierConfig describes the trainable classification head attached to
// the feature extractor.
type ClassifierConfig struct {
	InputShape    []int // [channels, height, width]
	NumClasses    int
	HeadHidden    int     // width of the hidden dense projection
	PoolDropout   float64 // dropout after global average pooling
	HiddenDropout float64 // dropout after the hidden projection
}

// DefaultClassifierConfig returns the standard head layout for an 8-way
// emotion classifier over 3x224x224 input.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		InputShape:    []int{3, 224, 224},
		NumClasses:    8,
		HeadHidden:    256,
		PoolDropout:   0.3,
		HiddenDropout: 0.3,
	}
}

// AssembleClassifier composes the feature extractor with the classification
// head and compiles the full model: backbone blocks, then
// GlobalAvgPool -> Dropout -> Dense+ReLU -> Dropout -> Dense -> Softmax.
//
// The returned backbone layer count is the number of leading spec layers
// that belong to the feature extractor; everything after it is the head.
// Shape incompatibilities surface as *ModelAssemblyError.
func AssembleClassifier(bcfg BackboneConfig, ccfg ClassifierConfig) (*ModelSpec, int, error) {
	if len(bcfg.Channels) == 0 {
		return nil, 0, &ModelAssemblyError{Layer: "backbone", Reason: "backbone needs at least one conv block"}
	}
	if ccfg.NumClasses <= 1 {
		return nil, 0, &ModelAssemblyError{Layer: "head", Reason: fmt.Sprintf("invalid class count: %d", ccfg.NumClasses)}
	}
	if ccfg.HeadHidden <= 0 {
		return nil, 0, &ModelAssemblyError{Layer: "head", Reason: fmt.Sprintf("invalid hidden width: %d", ccfg.HeadHidden)}
	}
	if ccfg.PoolDropout < 0 || ccfg.PoolDropout >= 1 {
		return nil, 0, &ModelAssemblyError{Layer: "head_dropout1", Reason: fmt.Sprintf("dropout rate %g outside [0, 1)", ccfg.PoolDropout)}
	}
	if ccfg.HiddenDropout < 0 || ccfg.HiddenDropout >= 1 {
		return nil, 0, &ModelAssemblyError{Layer: "head_dropout2", Reason: fmt.Sprintf("dropout rate %g outside [0, 1)", ccfg.HiddenDropout)}
	}

	builder := NewModelBuilder(ccfg.InputShape)

	// Feature extractor: padding keeps spatial size through the conv,
	// each pool halves it.
	pad := bcfg.KernelSize / 2
	for i, ch := range bcfg.Channels {
		builder.AddConv2D(ch, bcfg.KernelSize, 1, pad, true, fmt.Sprintf("backbone_conv%d", i+1))
		builder.AddReLU(fmt.Sprintf("backbone_relu%d", i+1))
		builder.AddMaxPool2D(bcfg.PoolSize, bcfg.PoolSize, fmt.Sprintf("backbone_pool%d", i+1))
	}
	backboneLayers := builder.NumLayers()

	// Classification head.
	builder.AddGlobalAvgPool("head_gap")
	builder.AddDropout(ccfg.PoolDropout, "head_dropout1")
	builder.AddDense(ccfg.HeadHidden, true, "head_dense1")
	builder.AddReLU("head_relu")
	builder.AddDropout(ccfg.HiddenDropout, "head_dropout2")
	builder.AddDense(ccfg.NumClasses, true, "head_logits")
	builder.AddSoftmax("head_softmax")

	spec, err := builder.Compile()
	if err != nil {
		return nil, 0, err
	}
	return spec, backboneLayers, nil
}

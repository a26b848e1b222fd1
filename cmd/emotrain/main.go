// Command emotrain trains an eight-class facial emotion classifier from a
// FER-style CSV file and writes the best checkpoint plus an evaluation
// report.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/tsawler/emotrain/checkpoints"
	"github.com/tsawler/emotrain/engine"
	"github.com/tsawler/emotrain/layers"
	"github.com/tsawler/emotrain/training"
	"github.com/tsawler/emotrain/vision/dataset"
	"github.com/tsawler/emotrain/vision/preprocessing"
)

type options struct {
	csvPath    string
	sourceSize int
	targetSize int
	batchSize  int
	workers    int
	seed       int64

	headHidden    int
	poolDropout   float64
	hiddenDropout float64
	unfreezeTop   int

	warmEpochs int
	warmLR     float64
	fineEpochs int
	fineLR     float64
	lrFactor   float64
	lrPatience int
	minLR      float64

	checkpointPath string
	format         string
	reportPath     string
	description    string
	pretrainedPath string
	noAugment      bool
	verbose        bool
}

func parseFlags() *options {
	opts := &options{}
	flag.StringVar(&opts.csvPath, "csv", "", "path to the labeled pixel CSV (required)")
	flag.IntVar(&opts.sourceSize, "source-size", 48, "side length of the source pixel grids")
	flag.IntVar(&opts.targetSize, "image-size", 96, "side length of the model input")
	flag.IntVar(&opts.batchSize, "batch-size", 32, "mini-batch size")
	flag.IntVar(&opts.workers, "workers", 0, "preprocessing goroutines (0 = all CPUs)")
	flag.Int64Var(&opts.seed, "seed", 42, "seed for weights, shuffling, and augmentation")

	flag.IntVar(&opts.headHidden, "head-hidden", 256, "classification head hidden width")
	flag.Float64Var(&opts.poolDropout, "pool-dropout", 0.3, "dropout rate after pooling")
	flag.Float64Var(&opts.hiddenDropout, "hidden-dropout", 0.3, "dropout rate after the hidden layer")
	flag.IntVar(&opts.unfreezeTop, "unfreeze-top", 3, "backbone layers unfrozen during finetune")

	flag.IntVar(&opts.warmEpochs, "warmup-epochs", 10, "warmup phase epochs")
	flag.Float64Var(&opts.warmLR, "warmup-lr", 1e-3, "warmup learning rate")
	flag.IntVar(&opts.fineEpochs, "finetune-epochs", 10, "finetune phase epochs")
	flag.Float64Var(&opts.fineLR, "finetune-lr", 1e-4, "finetune learning rate")
	flag.Float64Var(&opts.lrFactor, "lr-factor", 0.5, "learning rate decay multiplier on plateau")
	flag.IntVar(&opts.lrPatience, "lr-patience", 2, "epochs without improvement before decay")
	flag.Float64Var(&opts.minLR, "min-lr", 1e-7, "learning rate floor")

	flag.StringVar(&opts.checkpointPath, "checkpoint", "emotrain.ckpt", "output path for the best checkpoint")
	flag.StringVar(&opts.format, "format", "wire", "checkpoint format: json or wire")
	flag.StringVar(&opts.reportPath, "report", "", "optional path for the JSON evaluation report")
	flag.StringVar(&opts.description, "description", "", "free-form note stored in checkpoint metadata")
	flag.StringVar(&opts.pretrainedPath, "pretrained", "", "optional checkpoint to initialize weights from")
	flag.BoolVar(&opts.noAugment, "no-augment", false, "disable training-time augmentation")
	flag.BoolVar(&opts.verbose, "v", false, "debug logging")
	flag.Parse()
	return opts
}

func main() {
	opts := parseFlags()

	level := zerolog.InfoLevel
	if opts.verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).
		With().Timestamp().Logger()

	if opts.csvPath == "" {
		flag.Usage()
		log.Fatal().Msg("-csv is required")
	}

	if err := run(opts, log); err != nil {
		log.Fatal().Err(err).Msg("training failed")
	}
}

func run(opts *options, log zerolog.Logger) error {
	format, err := checkpoints.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	saver, err := checkpoints.NewSaver(format)
	if err != nil {
		return err
	}

	// Stage 1: load and split the dataset.
	f, err := os.Open(opts.csvPath)
	if err != nil {
		return fmt.Errorf("loading dataset: %w", err)
	}
	ds, err := dataset.Load(f, dataset.Config{
		ImageSize:  opts.sourceSize,
		NumClasses: len(dataset.EmotionLabels),
	})
	f.Close()
	if err != nil {
		return fmt.Errorf("loading dataset: %w", err)
	}
	log.Info().
		Int("train", len(ds.Group(dataset.Train))).
		Int("validation", len(ds.Group(dataset.Validation))).
		Int("test", len(ds.Group(dataset.Test))).
		Msg("dataset loaded")

	// Stage 2: class weights from the training split only.
	classWeights, err := training.ComputeClassWeights(ds.ClassCounts(dataset.Train))
	if err != nil {
		return fmt.Errorf("computing class weights: %w", err)
	}
	for c, w := range classWeights {
		log.Debug().Str("class", dataset.EmotionLabels[c]).Float64("weight", w).Msg("class weight")
	}

	// Stage 3: preprocessing and loaders.
	numClasses := len(dataset.EmotionLabels)
	norm, err := preprocessing.NewNormalizer(opts.sourceSize, opts.targetSize)
	if err != nil {
		return fmt.Errorf("building preprocessing: %w", err)
	}
	var aug *preprocessing.Augmenter
	if !opts.noAugment {
		aug, err = preprocessing.NewAugmenter(preprocessing.DefaultAugmentConfig(), opts.sourceSize)
		if err != nil {
			return fmt.Errorf("building preprocessing: %w", err)
		}
	}

	trainLoader, err := training.NewLoader(ds.Group(dataset.Train), norm, aug, training.LoaderConfig{
		BatchSize:  opts.batchSize,
		NumClasses: numClasses,
		Shuffle:    true,
		Augment:    !opts.noAugment,
		Seed:       opts.seed,
		Workers:    opts.workers,
	})
	if err != nil {
		return fmt.Errorf("building train loader: %w", err)
	}
	valLoader, err := training.NewLoader(ds.Group(dataset.Validation), norm, nil, training.LoaderConfig{
		BatchSize:  opts.batchSize,
		NumClasses: numClasses,
		Workers:    opts.workers,
	})
	if err != nil {
		return fmt.Errorf("building validation loader: %w", err)
	}
	testLoader, err := training.NewLoader(ds.Group(dataset.Test), norm, nil, training.LoaderConfig{
		BatchSize:  opts.batchSize,
		NumClasses: numClasses,
		Workers:    opts.workers,
	})
	if err != nil {
		return fmt.Errorf("building test loader: %w", err)
	}

	// Stage 4: model assembly.
	spec, backboneLayers, err := layers.AssembleClassifier(
		layers.DefaultBackboneConfig(),
		layers.ClassifierConfig{
			InputShape:    []int{3, opts.targetSize, opts.targetSize},
			NumClasses:    numClasses,
			HeadHidden:    opts.headHidden,
			PoolDropout:   opts.poolDropout,
			HiddenDropout: opts.hiddenDropout,
		},
	)
	if err != nil {
		return fmt.Errorf("assembling model: %w", err)
	}
	net, err := engine.NewNetwork(spec, opts.seed)
	if err != nil {
		return fmt.Errorf("assembling model: %w", err)
	}
	log.Info().
		Int("layers", net.NumLayers()).
		Int("backbone_layers", backboneLayers).
		Int64("parameters", spec.TotalParameters).
		Msg("model assembled")

	if opts.pretrainedPath != "" {
		ckpt, err := saver.LoadFromFile(opts.pretrainedPath)
		if err != nil {
			return fmt.Errorf("loading pretrained weights: %w", err)
		}
		if err := ckpt.Apply(net); err != nil {
			return fmt.Errorf("loading pretrained weights: %w", err)
		}
		log.Info().Str("run_id", ckpt.Metadata.RunID).Msg("pretrained weights loaded")
	}

	// Stage 5: two-phase training with best-checkpoint saving.
	meta := checkpoints.NewMetadata(opts.description)
	cfg := training.TrainerConfig{
		NumClasses:     numClasses,
		BackboneLayers: backboneLayers,
		UnfreezeTop:    opts.unfreezeTop,
		WarmUp:         phaseConfig(opts.warmEpochs, opts.warmLR, opts),
		FineTune:       phaseConfig(opts.fineEpochs, opts.fineLR, opts),
		ClassWeights:   classWeights,
	}

	hooks := training.Hooks{
		OnEpoch: func(s training.EpochStats) {
			log.Info().
				Stringer("phase", s.Phase).
				Int("epoch", s.Epoch).
				Float64("lr", s.LearningRate).
				Float64("train_loss", s.TrainLoss).
				Float64("val_loss", s.ValLoss).
				Float64("val_accuracy", s.ValAccuracy).
				Bool("best", s.IsBest).
				Msg("epoch complete")
		},
		OnBest: func(s training.EpochStats, n *engine.Network) error {
			ckpt := checkpoints.FromNetwork(n, checkpoints.TrainingState{
				Phase:        s.Phase.String(),
				Epoch:        s.Epoch,
				LearningRate: s.LearningRate,
				BestAccuracy: s.ValAccuracy,
			}, meta)
			if err := saver.SaveToFile(opts.checkpointPath, ckpt); err != nil {
				return err
			}
			log.Debug().Str("path", opts.checkpointPath).Msg("checkpoint saved")
			return nil
		},
	}

	trainer, err := training.NewTrainer(net, cfg, hooks)
	if err != nil {
		return fmt.Errorf("configuring trainer: %w", err)
	}

	start := time.Now()
	result, err := trainer.Run(trainLoader, valLoader)
	if err != nil {
		return fmt.Errorf("training: %w", err)
	}
	log.Info().
		Float64("best_accuracy", result.BestAccuracy).
		Stringer("best_phase", result.BestPhase).
		Int("best_epoch", result.BestEpoch).
		Dur("elapsed", time.Since(start)).
		Msg("training complete")

	// Stage 6: final evaluation on the held-out test split.
	report, err := training.Evaluate(net, testLoader, training.NewWeightedCrossEntropy(nil), dataset.EmotionLabels)
	if err != nil {
		return fmt.Errorf("evaluating: %w", err)
	}
	log.Info().
		Int("samples", report.Total).
		Float64("accuracy", report.Accuracy).
		Float64("loss", report.MeanLoss).
		Msg("test evaluation")
	for c, acc := range report.PerClassAccuracy {
		log.Info().Str("class", dataset.EmotionLabels[c]).Float64("accuracy", acc).Msg("per-class accuracy")
	}

	if opts.reportPath != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		if err := os.WriteFile(opts.reportPath, data, 0o644); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		log.Info().Str("path", opts.reportPath).Msg("report written")
	}
	return nil
}

func phaseConfig(epochs int, lr float64, opts *options) training.PhaseConfig {
	return training.PhaseConfig{
		Epochs:       epochs,
		LearningRate: lr,
		LRFactor:     opts.lrFactor,
		LRPatience:   opts.lrPatience,
		LRThreshold:  1e-4,
		MinLR:        opts.minLR,
	}
}

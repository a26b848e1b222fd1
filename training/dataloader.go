package training

import (
	"fmt"
	"math/rand"
	"runtime"
	"sync"

	"github.com/tsawler/emotrain/tensor"
	"github.com/tsawler/emotrain/vision/dataset"
	"github.com/tsawler/emotrain/vision/preprocessing"
)

// Batch is one preprocessed mini-batch ready for the network.
type Batch struct {
	Data   *tensor.Tensor // [N, 3, T, T]
	Labels []int          // [N]
	OneHot [][]float64    // [N, K]
}

// Size returns how many samples the batch holds.
func (b *Batch) Size() int {
	return len(b.Labels)
}

// LoaderConfig controls batching behavior.
type LoaderConfig struct {
	BatchSize  int
	NumClasses int
	Shuffle    bool  // reshuffle sample order every epoch
	Augment    bool  // apply stochastic transforms before normalization
	Seed       int64 // drives shuffling and augmentation
	Workers    int   // preprocessing goroutines, 0 means NumCPU
}

// Loader iterates a record group in mini-batches, normalizing every sample
// and optionally augmenting it first. Augmentation draws never depend on
// worker scheduling: each sample's transform is seeded from the loader seed,
// the epoch, and the sample's shuffled position, so two loaders with the
// same seed produce bit-identical batches.
type Loader struct {
	records    []dataset.Record
	normalizer *preprocessing.Normalizer
	augmenter  *preprocessing.Augmenter
	cfg        LoaderConfig

	order      []int
	epoch      int
	pos        int
	shuffleRNG *rand.Rand
}

// NewLoader builds a loader over one split's records. augmenter may be nil
// when cfg.Augment is false.
func NewLoader(records []dataset.Record, normalizer *preprocessing.Normalizer, augmenter *preprocessing.Augmenter, cfg LoaderConfig) (*Loader, error) {
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be at least 1, got %d", cfg.BatchSize)
	}
	if cfg.NumClasses < 2 {
		return nil, fmt.Errorf("class count must be at least 2, got %d", cfg.NumClasses)
	}
	if cfg.Augment && augmenter == nil {
		return nil, fmt.Errorf("augmentation enabled without an augmenter")
	}
	if normalizer == nil {
		return nil, fmt.Errorf("normalizer is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}

	l := &Loader{
		records:    records,
		normalizer: normalizer,
		augmenter:  augmenter,
		cfg:        cfg,
		order:      make([]int, len(records)),
		shuffleRNG: rand.New(rand.NewSource(cfg.Seed)),
	}
	for i := range l.order {
		l.order[i] = i
	}
	if cfg.Shuffle {
		l.shuffle()
	}
	return l, nil
}

// Len returns the number of samples.
func (l *Loader) Len() int {
	return len(l.records)
}

// BatchesPerEpoch returns how many batches one full pass yields. A final
// short batch counts.
func (l *Loader) BatchesPerEpoch() int {
	return (len(l.records) + l.cfg.BatchSize - 1) / l.cfg.BatchSize
}

// Epoch returns the zero-based index of the epoch currently being iterated.
func (l *Loader) Epoch() int {
	return l.epoch
}

func (l *Loader) shuffle() {
	l.shuffleRNG.Shuffle(len(l.order), func(i, j int) {
		l.order[i], l.order[j] = l.order[j], l.order[i]
	})
}

// Next returns the next batch, or done=true when the epoch is exhausted.
// After done, the loader has advanced to the next epoch and reshuffled if
// configured; calling Next again starts the new epoch.
func (l *Loader) Next() (batch *Batch, done bool, err error) {
	if l.pos >= len(l.records) {
		l.pos = 0
		l.epoch++
		if l.cfg.Shuffle {
			l.shuffle()
		}
		return nil, true, nil
	}

	end := l.pos + l.cfg.BatchSize
	if end > len(l.records) {
		end = len(l.records)
	}
	indices := l.order[l.pos:end]
	start := l.pos
	l.pos = end

	n := len(indices)
	shape := l.normalizer.TargetShape()

	b := &Batch{
		Data:   tensor.New(n, shape[0], shape[1], shape[2]),
		Labels: make([]int, n),
		OneHot: make([][]float64, n),
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	sem := make(chan struct{}, l.cfg.Workers)
	for i, recIdx := range indices {
		wg.Add(1)
		sem <- struct{}{}
		go func(i, recIdx, position int) {
			defer wg.Done()
			defer func() { <-sem }()
			errs[i] = l.prepare(b, i, recIdx, position)
		}(i, recIdx, start+i)
	}
	wg.Wait()

	for _, e := range errs {
		if e != nil {
			return nil, false, e
		}
	}
	return b, false, nil
}

// prepare fills sample slot i of the batch from record recIdx. position is
// the sample's index in the epoch's shuffled order, used to derive its
// augmentation seed.
func (l *Loader) prepare(b *Batch, i, recIdx, position int) error {
	rec := l.records[recIdx]

	pixels := rec.Pixels
	if l.cfg.Augment {
		rng := rand.New(rand.NewSource(sampleSeed(l.cfg.Seed, l.epoch, position)))
		pixels = l.augmenter.Apply(pixels, rng)
	}

	sampleLen := len(b.Data.Data) / b.Size()
	l.normalizer.ApplyInto(pixels, b.Data.Data[i*sampleLen:(i+1)*sampleLen])

	oneHot, err := preprocessing.OneHot(rec.Label, l.cfg.NumClasses)
	if err != nil {
		return fmt.Errorf("record %d: %w", recIdx, err)
	}
	b.Labels[i] = rec.Label
	b.OneHot[i] = oneHot
	return nil
}

// sampleSeed mixes the loader seed, epoch, and sample position into one
// deterministic per-sample seed.
func sampleSeed(base int64, epoch, position int) int64 {
	h := uint64(base)
	h = h*0x9e3779b97f4a7c15 + uint64(epoch) + 1
	h = h*0x9e3779b97f4a7c15 + uint64(position) + 1
	h ^= h >> 31
	return int64(h)
}

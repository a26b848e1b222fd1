// Package dataset loads FER-style labeled facial images from CSV and
// partitions them into the official train/validation/test groups.
package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// EmotionLabels is the class name table, indexed by label id.
var EmotionLabels = []string{
	"angry",
	"disgust",
	"fear",
	"happy",
	"sad",
	"surprise",
	"neutral",
	"contempt",
}

// Split identifies which official group a record belongs to.
type Split int

const (
	Train Split = iota
	Validation
	Test
)

func (s Split) String() string {
	switch s {
	case Train:
		return "train"
	case Validation:
		return "validation"
	case Test:
		return "test"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Splits lists the three groups in canonical order.
var Splits = []Split{Train, Validation, Test}

// ParseSplit maps the CSV usage column to a Split.
func ParseSplit(s string) (Split, error) {
	switch strings.TrimSpace(s) {
	case "Training":
		return Train, nil
	case "PublicTest":
		return Validation, nil
	case "PrivateTest":
		return Test, nil
	default:
		return 0, fmt.Errorf("unrecognized usage tag %q", s)
	}
}

// Record is one raw labeled sample: a square grayscale pixel grid with its
// emotion label and split assignment. Immutable once loaded.
type Record struct {
	Pixels []uint8
	Label  int
	Split  Split
}

// DataFormatError reports a malformed source row. Loading never skips bad
// rows silently; the first malformed row aborts the load.
type DataFormatError struct {
	Row    int
	Reason string
}

func (e *DataFormatError) Error() string {
	return fmt.Sprintf("malformed dataset row %d: %s", e.Row, e.Reason)
}

// Config controls dataset loading.
type Config struct {
	ImageSize  int // source grid height and width (e.g. 48)
	NumClasses int
}

// DefaultConfig returns the FER-style defaults: 48x48 grids, 8 emotions.
func DefaultConfig() Config {
	return Config{
		ImageSize:  48,
		NumClasses: len(EmotionLabels),
	}
}

// Dataset holds the three disjoint record groups. Their union is exactly the
// loaded source, with original row order preserved within each group.
type Dataset struct {
	cfg    Config
	groups map[Split][]Record
}

// Load reads all records from a CSV source with columns
// emotion, pixels, Usage (a header row is detected and skipped).
// The pixel column is a whitespace-separated intensity list of exactly
// ImageSize squared values in [0, 255], row-major.
func Load(r io.Reader, cfg Config) (*Dataset, error) {
	if cfg.ImageSize <= 0 {
		return nil, fmt.Errorf("invalid image size: %d", cfg.ImageSize)
	}
	if cfg.NumClasses <= 1 {
		return nil, fmt.Errorf("invalid class count: %d", cfg.NumClasses)
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // validated per row for better diagnostics

	ds := &Dataset{
		cfg: cfg,
		groups: map[Split][]Record{
			Train:      nil,
			Validation: nil,
			Test:       nil,
		},
	}

	expectedPixels := cfg.ImageSize * cfg.ImageSize
	row := 0
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &DataFormatError{Row: row + 1, Reason: err.Error()}
		}
		row++

		// Header row.
		if row == 1 && len(fields) > 0 && strings.EqualFold(strings.TrimSpace(fields[0]), "emotion") {
			continue
		}

		if len(fields) < 3 {
			return nil, &DataFormatError{Row: row, Reason: fmt.Sprintf("expected 3 columns, got %d", len(fields))}
		}

		label, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			return nil, &DataFormatError{Row: row, Reason: fmt.Sprintf("bad label %q", fields[0])}
		}
		if label < 0 || label >= cfg.NumClasses {
			return nil, &DataFormatError{Row: row, Reason: fmt.Sprintf("label %d outside [0, %d)", label, cfg.NumClasses)}
		}

		pixels, err := parsePixels(fields[1], expectedPixels)
		if err != nil {
			return nil, &DataFormatError{Row: row, Reason: err.Error()}
		}

		split, err := ParseSplit(fields[2])
		if err != nil {
			return nil, &DataFormatError{Row: row, Reason: err.Error()}
		}

		ds.groups[split] = append(ds.groups[split], Record{
			Pixels: pixels,
			Label:  label,
			Split:  split,
		})
	}

	return ds, nil
}

func parsePixels(s string, expected int) ([]uint8, error) {
	parts := strings.Fields(s)
	if len(parts) != expected {
		return nil, fmt.Errorf("pixel count %d doesn't match grid size %d", len(parts), expected)
	}
	pixels := make([]uint8, expected)
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("bad pixel value %q at position %d", p, i)
		}
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("pixel value %d at position %d outside [0, 255]", v, i)
		}
		pixels[i] = uint8(v)
	}
	return pixels, nil
}

// Config returns the loading configuration.
func (d *Dataset) Config() Config {
	return d.cfg
}

// Group returns the records of one split, in original source order.
func (d *Dataset) Group(s Split) []Record {
	return d.groups[s]
}

// Len returns the total record count across all groups.
func (d *Dataset) Len() int {
	total := 0
	for _, g := range d.groups {
		total += len(g)
	}
	return total
}

// ClassCounts returns per-class sample counts for one split.
func (d *Dataset) ClassCounts(s Split) []int {
	counts := make([]int, d.cfg.NumClasses)
	for _, rec := range d.groups[s] {
		counts[rec.Label]++
	}
	return counts
}

// Labels returns the label of every record in a split, in group order.
func (d *Dataset) Labels(s Split) []int {
	labels := make([]int, len(d.groups[s]))
	for i, rec := range d.groups[s] {
		labels[i] = rec.Label
	}
	return labels
}

// Summary returns a one-line description of the dataset.
func (d *Dataset) Summary() string {
	return fmt.Sprintf("%d records (%d train, %d validation, %d test)",
		d.Len(), len(d.groups[Train]), len(d.groups[Validation]), len(d.groups[Test]))
}

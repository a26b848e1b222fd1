package dataset

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func pixelString(size int, value int) string {
	parts := make([]string, size*size)
	for i := range parts {
		parts[i] = fmt.Sprintf("%d", value)
	}
	return strings.Join(parts, " ")
}

func buildCSV(size int, rows [][3]string) string {
	var sb strings.Builder
	sb.WriteString("emotion,pixels,Usage\n")
	for _, r := range rows {
		sb.WriteString(fmt.Sprintf("%s,%s,%s\n", r[0], r[1], r[2]))
	}
	return sb.String()
}

func TestLoadPartitionsRecords(t *testing.T) {
	cfg := Config{ImageSize: 4, NumClasses: 8}
	rows := [][3]string{
		{"0", pixelString(4, 10), "Training"},
		{"1", pixelString(4, 20), "Training"},
		{"2", pixelString(4, 30), "PublicTest"},
		{"3", pixelString(4, 40), "PrivateTest"},
		{"4", pixelString(4, 50), "Training"},
	}

	ds, err := Load(strings.NewReader(buildCSV(4, rows)), cfg)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := len(ds.Group(Train)); got != 3 {
		t.Errorf("train group size = %d, want 3", got)
	}
	if got := len(ds.Group(Validation)); got != 1 {
		t.Errorf("validation group size = %d, want 1", got)
	}
	if got := len(ds.Group(Test)); got != 1 {
		t.Errorf("test group size = %d, want 1", got)
	}
	if ds.Len() != len(rows) {
		t.Errorf("total = %d, want %d", ds.Len(), len(rows))
	}

	// Source order preserved within a group.
	wantTrainLabels := []int{0, 1, 4}
	for i, rec := range ds.Group(Train) {
		if rec.Label != wantTrainLabels[i] {
			t.Errorf("train record %d label = %d, want %d", i, rec.Label, wantTrainLabels[i])
		}
	}

	if ds.Group(Validation)[0].Pixels[0] != 30 {
		t.Errorf("validation pixel = %d, want 30", ds.Group(Validation)[0].Pixels[0])
	}
}

func TestLoadWithoutHeader(t *testing.T) {
	cfg := Config{ImageSize: 2, NumClasses: 8}
	csv := fmt.Sprintf("3,%s,Training\n", pixelString(2, 7))

	ds, err := Load(strings.NewReader(csv), cfg)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(ds.Group(Train)) != 1 {
		t.Fatalf("train group size = %d, want 1", len(ds.Group(Train)))
	}
	if ds.Group(Train)[0].Label != 3 {
		t.Errorf("label = %d, want 3", ds.Group(Train)[0].Label)
	}
}

func TestLoadMalformedRows(t *testing.T) {
	cfg := Config{ImageSize: 2, NumClasses: 8}
	good := pixelString(2, 5)

	tests := []struct {
		name string
		row  [3]string
	}{
		{"non-integer label", [3]string{"cat", good, "Training"}},
		{"label out of range", [3]string{"8", good, "Training"}},
		{"negative label", [3]string{"-1", good, "Training"}},
		{"too few pixels", [3]string{"0", "1 2 3", "Training"}},
		{"too many pixels", [3]string{"0", "1 2 3 4 5", "Training"}},
		{"pixel out of range", [3]string{"0", "0 0 0 256", "Training"}},
		{"non-integer pixel", [3]string{"0", "0 0 x 0", "Training"}},
		{"unknown usage tag", [3]string{"0", good, "SemiPublicTest"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(buildCSV(2, [][3]string{tt.row})), cfg)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var dfe *DataFormatError
			if !errors.As(err, &dfe) {
				t.Fatalf("expected DataFormatError, got %T: %v", err, err)
			}
			if dfe.Row != 2 {
				t.Errorf("error row = %d, want 2", dfe.Row)
			}
		})
	}
}

func TestLoadMissingColumns(t *testing.T) {
	cfg := Config{ImageSize: 2, NumClasses: 8}
	csv := "emotion,pixels,Usage\n0,1 2 3 4\n"

	_, err := Load(strings.NewReader(csv), cfg)
	var dfe *DataFormatError
	if !errors.As(err, &dfe) {
		t.Fatalf("expected DataFormatError, got %T: %v", err, err)
	}
}

func TestClassCounts(t *testing.T) {
	cfg := Config{ImageSize: 2, NumClasses: 8}
	rows := [][3]string{
		{"0", pixelString(2, 1), "Training"},
		{"0", pixelString(2, 1), "Training"},
		{"5", pixelString(2, 1), "Training"},
		{"0", pixelString(2, 1), "PublicTest"},
	}

	ds, err := Load(strings.NewReader(buildCSV(2, rows)), cfg)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	counts := ds.ClassCounts(Train)
	if counts[0] != 2 || counts[5] != 1 {
		t.Errorf("train counts = %v, want class 0 = 2 and class 5 = 1", counts)
	}
	if sum := counts[0] + counts[5]; sum != len(ds.Group(Train)) {
		t.Errorf("counted %d records across classes, want %d", sum, len(ds.Group(Train)))
	}

	valCounts := ds.ClassCounts(Validation)
	if valCounts[0] != 1 {
		t.Errorf("validation counts = %v, want class 0 = 1", valCounts)
	}
}

func TestParseSplit(t *testing.T) {
	tests := []struct {
		in   string
		want Split
	}{
		{"Training", Train},
		{"PublicTest", Validation},
		{"PrivateTest", Test},
		{" Training ", Train},
	}
	for _, tt := range tests {
		got, err := ParseSplit(tt.in)
		if err != nil {
			t.Errorf("ParseSplit(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSplit(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := ParseSplit("Test"); err == nil {
		t.Error("expected error for unknown tag")
	}
}

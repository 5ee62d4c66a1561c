package aggregate

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Output files written by Report.Write.
const (
	HeatmapFile = "heatmap.csv"
	ScatterFile = "scatter.csv"
	MetricsFile = "metrics.csv"
	SummaryFile = "summary.json"
)

// Report is the result of one aggregation pass. It is rebuilt from the trial
// directories every time.
type Report struct {
	Samples []Sample
	Buckets []Bucket
	Stats   ScanStats
}

// Build scans runsDir and summarizes what it finds.
func Build(runsDir string) (*Report, error) {
	samples, st, err := Scan(runsDir)
	if err != nil {
		return nil, err
	}
	return &Report{
		Samples: samples,
		Buckets: Summarize(samples),
		Stats:   st,
	}, nil
}

// Run builds the report for runsDir and writes its tables into outDir.
func Run(runsDir, outDir string) (*Report, error) {
	r, err := Build(runsDir)
	if err != nil {
		return nil, err
	}
	if err := r.Write(outDir); err != nil {
		return nil, err
	}
	return r, nil
}

// Write renders every output file into outDir. Each file is replaced
// atomically so a reader never sees a half-written table.
func (r *Report) Write(outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	outputs := []struct {
		name  string
		write func(io.Writer) error
	}{
		{HeatmapFile, func(w io.Writer) error { return WriteHeatmap(w, r.Buckets) }},
		{ScatterFile, func(w io.Writer) error { return WriteScatter(w, r.Buckets) }},
		{MetricsFile, func(w io.Writer) error { return WriteMetrics(w, r.Samples) }},
		{SummaryFile, func(w io.Writer) error { return FormatJSON(w, r, nil) }},
	}
	for _, o := range outputs {
		var buf bytes.Buffer
		if err := o.write(&buf); err != nil {
			return fmt.Errorf("rendering %s: %w", o.name, err)
		}
		if err := writeAtomic(filepath.Join(outDir, o.name), buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}

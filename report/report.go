// Package report persists benchmark reports and renders them for people.
//
// A report is written as a 2-space indented JSON artifact at a well-known path per
// transport, overwriting the previous run. Sinks publish a finished report to one or more
// destinations, and Store serves saved artifacts to the read-only view.
package report

import (
	"bytes"
	"encoding/json"
	"io"
	"os"

	"github.com/MegaGrindStone/go-mcp-bench/benchmark"
)

// Artifact paths of the two transports.
const (
	SSEPath   = "benchmark_results.json"
	StdIOPath = "benchmark_results_stdio.json"
)

// DefaultPath returns the artifact path of the transport's runs.
func DefaultPath(transport benchmark.Transport) string {
	if transport == benchmark.TransportStdIO {
		return StdIOPath
	}
	return SSEPath
}

// Encode writes rep as indented JSON.
func Encode(w io.Writer, rep benchmark.BenchmarkReport) error {
	bs, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(bs)
	return err
}

// Decode reads a report written by Encode.
func Decode(r io.Reader) (benchmark.BenchmarkReport, error) {
	var rep benchmark.BenchmarkReport
	if err := json.NewDecoder(r).Decode(&rep); err != nil {
		return benchmark.BenchmarkReport{}, err
	}
	return rep, nil
}

// WriteFile writes rep to path, replacing any previous content.
func WriteFile(path string, rep benchmark.BenchmarkReport) error {
	var buf bytes.Buffer
	if err := Encode(&buf, rep); err != nil {
		return benchmark.NewSerializationError(path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return benchmark.NewSerializationError(path, err)
	}
	return nil
}

// ReadFile loads the report saved at path.
func ReadFile(path string) (benchmark.BenchmarkReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return benchmark.BenchmarkReport{}, benchmark.NewSerializationError(path, err)
	}
	defer f.Close()

	rep, err := Decode(f)
	if err != nil {
		return benchmark.BenchmarkReport{}, benchmark.NewSerializationError(path, err)
	}
	return rep, nil
}

// Package writer encodes reports as optionally compressed JSON.
package writer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/heapshot-analysis/pkg/compression"
)

// JSONWriter writes data as JSON.
type JSONWriter[T any] struct {
	// Indent specifies the indentation for pretty printing.
	// Empty string means compact output.
	Indent string

	// Compression wraps the encoded output.
	Compression compression.Type
}

// NewJSONWriter creates a new JSON writer with compact output.
func NewJSONWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{}
}

// NewPrettyJSONWriter creates a JSON writer with pretty printing.
func NewPrettyJSONWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{Indent: "  "}
}

// WithCompression returns a copy of w that compresses its output.
func (w *JSONWriter[T]) WithCompression(t compression.Type) *JSONWriter[T] {
	c := *w
	c.Compression = t
	return &c
}

// Write writes the data as JSON to out.
func (w *JSONWriter[T]) Write(data T, out io.Writer) error {
	cw, err := compression.NewWriter(out, w.Compression, compression.LevelDefault)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(cw)
	if w.Indent != "" {
		encoder.SetIndent("", w.Indent)
	}
	if err := encoder.Encode(data); err != nil {
		cw.Close()
		return fmt.Errorf("failed to encode data: %w", err)
	}
	return cw.Close()
}

// Encode returns the encoded bytes.
func (w *JSONWriter[T]) Encode(data T) ([]byte, error) {
	var buf bytes.Buffer
	if err := w.Write(data, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteToFile writes the data to path. Compression follows the file
// extension unless the writer already sets one.
func (w *JSONWriter[T]) WriteToFile(data T, path string) error {
	ww := w
	if w.Compression == compression.TypeNone {
		ww = w.WithCompression(compression.TypeFromName(path))
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := ww.Write(data, file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// ReadFile decodes a file written by WriteToFile.
func ReadFile[T any](path string) (T, error) {
	var out T

	file, err := os.Open(path)
	if err != nil {
		return out, err
	}
	defer file.Close()

	r, _, err := compression.NewReader(file)
	if err != nil {
		return out, err
	}
	defer r.Close()

	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return out, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return out, nil
}

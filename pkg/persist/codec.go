// Package persist provides codec-based, atomically written file persistence
// for checkpoint state. Files are always written to a temporary name in the
// target directory and renamed into place, so a reader never observes a
// partially written file.
package persist

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"
)

// File extensions for supported codecs.
const (
	jsonExtension = ".json"
	gobExtension  = ".gob"
	lz4Suffix     = ".lz4"
)

// Default indentation for pretty-printed JSON.
const defaultIndent = "  "

// filePerm is the permission mode for persisted state files.
const filePerm = 0o600

// Codec defines how state is serialized and deserialized.
type Codec interface {
	// Encode writes the state to the writer.
	Encode(w io.Writer, state any) error
	// Decode reads the state from the reader.
	Decode(r io.Reader, state any) error
	// Extension returns the file extension for this codec (e.g., ".json").
	Extension() string
}

// JSONCodec implements Codec using JSON encoding with optional indentation.
type JSONCodec struct {
	// Indent specifies the indentation string. Empty string means compact JSON.
	Indent string
}

// NewJSONCodec creates a JSON codec with pretty-printing (2-space indent).
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{Indent: defaultIndent}
}

// Encode implements Codec.Encode using JSON encoding.
func (c *JSONCodec) Encode(w io.Writer, state any) error {
	encoder := json.NewEncoder(w)
	if c.Indent != "" {
		encoder.SetIndent("", c.Indent)
	}

	err := encoder.Encode(state)
	if err != nil {
		return fmt.Errorf("json encode: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode using JSON decoding.
func (c *JSONCodec) Decode(r io.Reader, state any) error {
	decoder := json.NewDecoder(r)

	err := decoder.Decode(state)
	if err != nil {
		return fmt.Errorf("json decode: %w", err)
	}

	return nil
}

// Extension implements Codec.Extension for JSON files.
func (c *JSONCodec) Extension() string {
	return jsonExtension
}

// GobCodec implements Codec using gob encoding.
type GobCodec struct{}

// NewGobCodec creates a gob codec.
func NewGobCodec() *GobCodec {
	return &GobCodec{}
}

// Encode implements Codec.Encode using gob encoding.
func (c *GobCodec) Encode(w io.Writer, state any) error {
	encoder := gob.NewEncoder(w)

	err := encoder.Encode(state)
	if err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode using gob decoding.
func (c *GobCodec) Decode(r io.Reader, state any) error {
	decoder := gob.NewDecoder(r)

	err := decoder.Decode(state)
	if err != nil {
		return fmt.Errorf("gob decode: %w", err)
	}

	return nil
}

// Extension implements Codec.Extension for gob files.
func (c *GobCodec) Extension() string {
	return gobExtension
}

// LZ4Codec wraps another codec with LZ4 frame compression. Accumulator
// snapshots are highly repetitive, so compression keeps large checkpoint
// directories small without changing the inner format.
type LZ4Codec struct {
	Inner Codec
}

// NewLZ4Codec wraps the given codec with LZ4 compression.
func NewLZ4Codec(inner Codec) *LZ4Codec {
	return &LZ4Codec{Inner: inner}
}

// Encode compresses the inner codec's output with an LZ4 frame.
func (c *LZ4Codec) Encode(w io.Writer, state any) error {
	zw := lz4.NewWriter(w)

	err := c.Inner.Encode(zw, state)
	if err != nil {
		return fmt.Errorf("lz4 encode: %w", err)
	}

	closeErr := zw.Close()
	if closeErr != nil {
		return fmt.Errorf("lz4 flush: %w", closeErr)
	}

	return nil
}

// Decode decompresses an LZ4 frame and decodes with the inner codec.
func (c *LZ4Codec) Decode(r io.Reader, state any) error {
	zr := lz4.NewReader(r)

	err := c.Inner.Decode(zr, state)
	if err != nil {
		return fmt.Errorf("lz4 decode: %w", err)
	}

	return nil
}

// Extension appends the lz4 suffix to the inner codec's extension.
func (c *LZ4Codec) Extension() string {
	return c.Inner.Extension() + lz4Suffix
}

// SaveState atomically saves the given state to a file in the directory.
// The filename is constructed from the basename and the codec's extension.
func SaveState(dir, basename string, codec Codec, state any) error {
	filename := basename + codec.Extension()
	path := filepath.Join(dir, filename)

	tmp, err := os.CreateTemp(dir, filename+".tmp-*")
	if err != nil {
		return fmt.Errorf("create state temp file: %w", err)
	}

	encodeErr := codec.Encode(tmp, state)
	if encodeErr != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return fmt.Errorf("encode state: %w", encodeErr)
	}

	syncErr := tmp.Sync()
	if syncErr != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return fmt.Errorf("sync state file: %w", syncErr)
	}

	closeErr := tmp.Close()
	if closeErr != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("close state file: %w", closeErr)
	}

	chmodErr := os.Chmod(tmp.Name(), filePerm)
	if chmodErr != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("chmod state file: %w", chmodErr)
	}

	renameErr := os.Rename(tmp.Name(), path)
	if renameErr != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("rename state file: %w", renameErr)
	}

	return nil
}

// LoadState loads state from a file in the specified directory.
// The state parameter must be a pointer to the target struct.
func LoadState(dir, basename string, codec Codec, state any) error {
	filename := basename + codec.Extension()
	path := filepath.Join(dir, filename)

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	decodeErr := codec.Decode(file, state)
	if decodeErr != nil {
		return fmt.Errorf("decode state: %w", decodeErr)
	}

	return nil
}

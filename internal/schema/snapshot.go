package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"
)

// Format is a snapshot encoding.
type Format string

const (
	FormatYAML        Format = "yaml"
	FormatJSON        Format = "json"
	FormatMsgpack     Format = "msgpack"
	FormatMsgpackZstd Format = "msgpack+zstd"
)

// FormatFromPath picks a format from a file extension:
// .yaml/.yml, .json, .msgpack, or .msgpack.zst.
func FormatFromPath(path string) (Format, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".msgpack.zst"):
		return FormatMsgpackZstd, nil
	case strings.HasSuffix(lower, ".msgpack"):
		return FormatMsgpack, nil
	}
	switch filepath.Ext(lower) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("cannot infer snapshot format from %q", path)
}

// Encode serializes a definition.
func Encode(def Definition, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(def)
	case FormatJSON:
		return json.MarshalIndent(def, "", "  ")
	case FormatMsgpack:
		return msgpack.Marshal(def)
	case FormatMsgpackZstd:
		raw, err := msgpack.Marshal(def)
		if err != nil {
			return nil, err
		}
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
	default:
		return nil, fmt.Errorf("unsupported snapshot format %q", format)
	}
}

// Decode parses a serialized definition.
func Decode(data []byte, format Format) (Definition, error) {
	var def Definition
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &def)
	case FormatJSON:
		err = json.Unmarshal(data, &def)
	case FormatMsgpack:
		err = msgpack.Unmarshal(data, &def)
	case FormatMsgpackZstd:
		var dec *zstd.Decoder
		dec, err = zstd.NewReader(nil)
		if err != nil {
			return def, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		defer dec.Close()
		var raw []byte
		raw, err = dec.DecodeAll(data, nil)
		if err != nil {
			return def, fmt.Errorf("failed to decompress snapshot: %w", err)
		}
		err = msgpack.Unmarshal(raw, &def)
	default:
		return def, fmt.Errorf("unsupported snapshot format %q", format)
	}
	if err != nil {
		return def, fmt.Errorf("failed to decode %s snapshot: %w", format, err)
	}
	return def, nil
}

// LoadFile reads and builds a snapshot file.
func LoadFile(path string) (*Graph, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	def, err := Decode(data, format)
	if err != nil {
		return nil, err
	}
	return Build(def)
}

// WriteFile encodes a definition in the format implied by path.
func WriteFile(path string, def Definition) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	data, err := Encode(def, format)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Store holds the current graph. Readers get a consistent snapshot for as long
// as they keep the pointer; writers replace the whole graph.
type Store struct {
	current atomic.Pointer[Graph]
}

// NewStore returns a store holding g, which may be nil.
func NewStore(g *Graph) *Store {
	s := &Store{}
	if g != nil {
		s.current.Store(g)
	}
	return s
}

// Load returns the current graph, or nil before the first Swap.
func (s *Store) Load() *Graph {
	return s.current.Load()
}

// Swap installs g and returns the previous graph.
func (s *Store) Swap(g *Graph) *Graph {
	return s.current.Swap(g)
}

// Package openapi detects which operations of an OpenAPI document changed
// between two revisions.
//
// Every operation (one HTTP method on one path) is hashed on its
// semantically relevant fields, so reordering keys or editing comments does
// not register as a change.
package openapi

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"log/slog"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Methods are the path item keys treated as operations, in document order.
var Methods = []string{"get", "post", "put", "delete", "patch", "options", "head"}

// ErrUnparseable is returned when a document cannot be read as YAML or JSON.
var ErrUnparseable = errors.New("unparseable OpenAPI document")

// Operation is the index record of one operation.
type Operation struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	OperationID string `json:"operationId,omitempty"`
	Hash        string `json:"hash"`
}

// Index maps an operation key to its record. The key is the operationId
// when present, otherwise "<method>-<path>".
type Index map[string]Operation

// Keys returns the operation keys in sorted order.
func (ix Index) Keys() []string {
	keys := make([]string, 0, len(ix))
	for k := range ix {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Key returns the index key of an operation.
func Key(method, path, operationID string) string {
	if operationID != "" {
		return operationID
	}
	return method + "-" + path
}

// Indexer builds operation indexes.
type Indexer struct {
	fs       afero.Fs
	hashFunc func() hash.Hash
	logger   *slog.Logger
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithFs sets the filesystem documents are read from.
func WithFs(fs afero.Fs) Option {
	return func(ix *Indexer) {
		ix.fs = fs
	}
}

// WithHashFunc sets the operation hash. The default is xxHash64.
func WithHashFunc(hashFunc func() hash.Hash) Option {
	return func(ix *Indexer) {
		ix.hashFunc = hashFunc
	}
}

// WithLogger sets the logger used to report diffs.
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Indexer) {
		if logger != nil {
			ix.logger = logger
		}
	}
}

// NewIndexer creates an Indexer reading from the OS filesystem.
func NewIndexer(options ...Option) *Indexer {
	ix := &Indexer{
		fs:       afero.NewOsFs(),
		hashFunc: func() hash.Hash { return xxhash.New() },
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, option := range options {
		option(ix)
	}
	return ix
}

// Build indexes the document at specPath. A missing document yields a nil
// index and no error; an unparseable one yields a nil index and an error
// wrapping ErrUnparseable. Callers must treat a nil index as "granularity
// unknown", never as "no operations".
func (ix *Indexer) Build(specPath string) (Index, error) {
	data, err := afero.ReadFile(ix.fs, specPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", specPath, err)
	}

	index, err := ix.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", specPath, err)
	}
	return index, nil
}

// Parse indexes an in-memory document.
func (ix *Indexer) Parse(data []byte) (Index, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: empty document", ErrUnparseable)
	}

	index := make(Index)
	paths, _ := normalize(doc["paths"]).(map[string]any)
	for path, item := range paths {
		pathItem, ok := item.(map[string]any)
		if !ok {
			continue
		}
		for _, method := range Methods {
			op, ok := pathItem[method].(map[string]any)
			if !ok {
				continue
			}
			operationID, _ := op["operationId"].(string)

			h, err := ix.hashOperation(path, method, operationID, op)
			if err != nil {
				return nil, fmt.Errorf("operation %s %s: %w", method, path, err)
			}
			index[Key(method, path, operationID)] = Operation{
				Path:        path,
				Method:      method,
				OperationID: operationID,
				Hash:        h,
			}
		}
	}
	return index, nil
}

// hashOperation hashes the canonical JSON encoding of the fields that
// affect generated documentation. encoding/json sorts map keys, so the
// result does not depend on key order in the source document.
func (ix *Indexer) hashOperation(path, method, operationID string, op map[string]any) (string, error) {
	content, err := json.Marshal(struct {
		Path        string `json:"path"`
		Method      string `json:"method"`
		OperationID string `json:"operationId,omitempty"`
		Summary     any    `json:"summary,omitempty"`
		Description any    `json:"description,omitempty"`
		Parameters  any    `json:"parameters,omitempty"`
		RequestBody any    `json:"requestBody,omitempty"`
		Responses   any    `json:"responses,omitempty"`
	}{
		Path:        path,
		Method:      method,
		OperationID: operationID,
		Summary:     op["summary"],
		Description: op["description"],
		Parameters:  op["parameters"],
		RequestBody: op["requestBody"],
		Responses:   op["responses"],
	})
	if err != nil {
		return "", err
	}

	h := ix.hashFunc()
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// normalize converts YAML mappings with non-string keys (such as response
// codes written as bare integers) into string-keyed maps.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			t[k] = normalize(child)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[fmt.Sprint(k)] = normalize(child)
		}
		return out
	case []any:
		for i, child := range t {
			t[i] = normalize(child)
		}
		return t
	}
	return v
}

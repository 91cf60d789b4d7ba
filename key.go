package buildcache

import "fmt"

// InputsBuilder provides a fluent API for computing a target's input hash set.
// Hashing errors are accumulated instead of returned per call and are
// surfaced by Build.
type InputsBuilder struct {
	hasher *Hasher
	inputs Inputs
	errors []error
}

// Inputs creates a new InputsBuilder using the cache's hasher.
func (c *Cache) Inputs() *InputsBuilder {
	return &InputsBuilder{
		hasher: c.Hasher(),
		inputs: make(Inputs),
	}
}

// File adds the hash of a single file. A missing file records NoHash.
func (ib *InputsBuilder) File(name, path string) *InputsBuilder {
	h, err := ib.hasher.File(path)
	if err != nil {
		ib.errors = append(ib.errors, fmt.Errorf("input %s: %w", name, err))
	}
	ib.set(name, h)
	return ib
}

// Dir adds the hash of a directory subtree. A missing directory records NoHash.
func (ib *InputsBuilder) Dir(name, path string, opts DirOptions) *InputsBuilder {
	h, err := ib.hasher.Dir(path, opts)
	if err != nil {
		ib.errors = append(ib.errors, fmt.Errorf("input %s: %w", name, err))
	}
	ib.set(name, h)
	return ib
}

// String adds the hash of a literal value.
// This is useful for versioning, source URLs, or other configuration.
func (ib *InputsBuilder) String(name, value string) *InputsBuilder {
	ib.set(name, ib.hasher.String(value))
	return ib
}

// Version is sugar for String("version", v).
func (ib *InputsBuilder) Version(v string) *InputsBuilder {
	return ib.String("version", v)
}

// Package adds the hash of a dependency version declared in package.json.
func (ib *InputsBuilder) Package(name, packageJSON, pkg string) *InputsBuilder {
	h, err := ib.hasher.PackageVersion(packageJSON, pkg)
	if err != nil {
		ib.errors = append(ib.errors, fmt.Errorf("input %s: %w", name, err))
	}
	ib.set(name, h)
	return ib
}

// Hash adds a precomputed hash.
func (ib *InputsBuilder) Hash(name string, h Hash) *InputsBuilder {
	ib.set(name, h)
	return ib
}

// Build returns the input hash set, or a ValidationError listing every
// input that could not be hashed.
func (ib *InputsBuilder) Build() (Inputs, error) {
	if err := newValidationError(ib.errors); err != nil {
		return nil, err
	}
	return ib.inputs.clone(), nil
}

func (ib *InputsBuilder) set(name string, h Hash) {
	if _, dup := ib.inputs[name]; dup {
		ib.errors = append(ib.errors, fmt.Errorf("input %s declared twice", name))
	}
	ib.inputs[name] = h
}

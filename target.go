package buildcache

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Hash is a hex-encoded content digest.
// The empty Hash means "input does not exist", which is a valid state
// distinct from any real digest. It is written to the lockfile as null.
type Hash string

// NoHash is the hash of an absent input.
const NoHash Hash = ""

// Short returns the first 12 characters, for log lines.
func (h Hash) Short() string {
	if h == NoHash {
		return "<none>"
	}
	if len(h) > 12 {
		return string(h[:12])
	}
	return string(h)
}

// MarshalJSON writes NoHash as null.
func (h Hash) MarshalJSON() ([]byte, error) {
	if h == NoHash {
		return []byte("null"), nil
	}
	return json.Marshal(string(h))
}

// UnmarshalJSON reads null as NoHash.
func (h *Hash) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*h = NoHash
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*h = Hash(s)
	return nil
}

// Inputs maps a logical input name to its content hash.
type Inputs map[string]Hash

// Keys returns the input names in sorted order.
func (in Inputs) Keys() []string {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// clone returns an independent copy; a nil set clones to an empty one.
func (in Inputs) clone() Inputs {
	out := make(Inputs, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// TargetID names one independently cacheable unit of work.
// Its string form is "category" or "category:name", e.g. "changelog"
// or "openapi:client:chat".
type TargetID struct {
	Category string
	Name     string
}

// NewTargetID builds and validates an identifier.
func NewTargetID(category, name string) (TargetID, error) {
	id := TargetID{Category: category, Name: name}
	if err := id.Validate(); err != nil {
		return TargetID{}, err
	}
	return id, nil
}

// MustTargetID is NewTargetID that panics on invalid input.
func MustTargetID(category, name string) TargetID {
	id, err := NewTargetID(category, name)
	if err != nil {
		panic(err)
	}
	return id
}

// ParseTargetID splits s on its first ':'.
func ParseTargetID(s string) (TargetID, error) {
	category, name, _ := strings.Cut(s, ":")
	return NewTargetID(category, name)
}

// String returns the manifest key for the target.
func (id TargetID) String() string {
	if id.Name == "" {
		return id.Category
	}
	return id.Category + ":" + id.Name
}

// Validate checks the identifier can be used both as a manifest key and
// as a snapshot directory.
func (id TargetID) Validate() error {
	if err := validateCategory(id.Category); err != nil {
		return err
	}
	if id.Name == "" {
		return nil
	}
	for _, r := range id.Name {
		if !isIDRune(r) && r != ':' {
			return fmt.Errorf("%w: name %q contains %q", ErrInvalidTargetID, id.Name, r)
		}
	}
	for _, seg := range strings.Split(id.Name, ":") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: name %q has an empty or relative segment", ErrInvalidTargetID, id.Name)
		}
	}
	return nil
}

// leaf is the snapshot directory name under the category.
// '@' and '+' are outside the allowed charset, so the mapping is injective.
func (id TargetID) leaf() string {
	if id.Name == "" {
		return "@"
	}
	return strings.ReplaceAll(id.Name, ":", "+")
}

func validateCategory(category string) error {
	if category == "" {
		return fmt.Errorf("%w: empty category", ErrInvalidTargetID)
	}
	if category == "." || category == ".." {
		return fmt.Errorf("%w: category %q", ErrInvalidTargetID, category)
	}
	for _, r := range category {
		if !isIDRune(r) {
			return fmt.Errorf("%w: category %q contains %q", ErrInvalidTargetID, category, r)
		}
	}
	return nil
}

func isIDRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-', r == '_', r == '.':
		return true
	}
	return false
}

package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Index is a 1-based row or column position that is either present or
// intentionally absent. The zero value is absent.
type Index struct {
	n   int
	set bool
}

// At returns a present index for the 1-based position n.
func At(n int) Index { return Index{n: n, set: true} }

// Unset returns an absent index.
func Unset() Index { return Index{} }

// IsSet reports whether the index is present.
func (i Index) IsSet() bool { return i.set }

// Number returns the 1-based position. It is 0 when the index is absent.
func (i Index) Number() int {
	if !i.set {
		return 0
	}
	return i.n
}

// Zero returns the 0-based position used internally. The second result is
// false when the index is absent.
func (i Index) Zero() (int, bool) {
	if !i.set {
		return 0, false
	}
	return i.n - 1, true
}

func (i Index) String() string {
	if !i.set {
		return "unset"
	}
	return strconv.Itoa(i.n)
}

// MarshalJSON encodes an absent index as null.
func (i Index) MarshalJSON() ([]byte, error) {
	if !i.set {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(i.n)), nil
}

// UnmarshalJSON accepts a positive integer or null.
func (i *Index) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*i = Unset()
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("index must be an integer or null: %w", err)
	}
	return i.assign(n)
}

// MarshalYAML encodes an absent index as null.
func (i Index) MarshalYAML() (any, error) {
	if !i.set {
		return nil, nil
	}
	return i.n, nil
}

// UnmarshalYAML accepts a positive integer or null.
func (i *Index) UnmarshalYAML(value *yaml.Node) error {
	if value.Tag == "!!null" {
		*i = Unset()
		return nil
	}
	var n int
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("line %d: index must be an integer or null: %w", value.Line, err)
	}
	return i.assign(n)
}

func (i *Index) assign(n int) error {
	if n < 1 {
		return fmt.Errorf("index %d out of range: positions are 1-based, use null to disable", n)
	}
	*i = At(n)
	return nil
}

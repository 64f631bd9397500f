package eventlog

import (
	"encoding/json"
	"fmt"
)

// Wire value of the Nothing sentinel. Kept JSON-compatible with clients that
// serialize the absent version as -1.
const nothingWire int64 = -1

// Version is a tagged stream revision: either Nothing (the stream has no
// events) or Exact(v >= 0). The zero value is Nothing. Constructors
// normalize any negative input so -1 can never leak as a real revision.
type Version struct {
	value int64
	exact bool
}

// Nothing returns the empty-stream sentinel.
func Nothing() Version {
	return Version{}
}

// Exact returns a concrete revision; negative input normalizes to Nothing.
func Exact(v int64) Version {
	if v < 0 {
		return Nothing()
	}
	return Version{value: v, exact: true}
}

// IsNothing reports whether the version is the sentinel.
func (v Version) IsNothing() bool {
	return !v.exact
}

// Value returns the concrete revision; ok is false for Nothing.
func (v Version) Value() (int64, bool) {
	if !v.exact {
		return 0, false
	}
	return v.value, true
}

// Wire returns the serialized representation: -1 for Nothing.
func (v Version) Wire() int64 {
	if !v.exact {
		return nothingWire
	}
	return v.value
}

func (v Version) String() string {
	if !v.exact {
		return "nothing"
	}
	return fmt.Sprintf("%d", v.value)
}

// MarshalJSON serializes to the wire number.
func (v Version) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Wire())
}

// UnmarshalJSON accepts any number and normalizes negatives to Nothing.
func (v *Version) UnmarshalJSON(data []byte) error {
	var raw int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = Exact(raw)
	return nil
}

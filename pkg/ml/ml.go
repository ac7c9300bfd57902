// Package ml holds what the incremental classifiers share: error kinds,
// hyperparameter decoding and class-universe bookkeeping.
package ml

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidParams = errors.New("invalid classifier parameters")
	ErrInvalidSample = errors.New("invalid training sample")
	ErrNotFitted     = errors.New("classifier has not been fitted")
)

// DecodeParams copies caller supplied keyword parameters onto dst, which
// must be a pointer to a struct with json tags. Unknown keys are rejected.
func DecodeParams(params map[string]interface{}, dst interface{}) error {
	if len(params) == 0 {
		return nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

// Classes tracks the label universe fixed by the first PartialFit call.
type Classes []int

// Bind validates classes and y against the receiver, recording classes on
// first use. It returns the index of y within the universe.
func (c *Classes) Bind(classes []int, y int) (int, error) {
	if len(classes) == 0 {
		return 0, fmt.Errorf("%w: empty class universe", ErrInvalidSample)
	}
	if len(*c) == 0 {
		seen := make(map[int]struct{}, len(classes))
		for _, cls := range classes {
			if _, dup := seen[cls]; dup {
				return 0, fmt.Errorf("%w: duplicate class %d", ErrInvalidSample, cls)
			}
			seen[cls] = struct{}{}
		}
		*c = append(Classes(nil), classes...)
	} else if !c.equal(classes) {
		return 0, fmt.Errorf("%w: classes %v differ from %v", ErrInvalidSample, classes, []int(*c))
	}
	idx := c.Index(y)
	if idx < 0 {
		return 0, fmt.Errorf("%w: label %d not in classes", ErrInvalidSample, y)
	}
	return idx, nil
}

func (c Classes) Index(y int) int {
	for i, cls := range c {
		if cls == y {
			return i
		}
	}
	return -1
}

func (c Classes) equal(other []int) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		if c[i] != other[i] {
			return false
		}
	}
	return true
}

// CheckFinite rejects NaN and infinite feature values.
func CheckFinite(x []float64) error {
	if len(x) == 0 {
		return fmt.Errorf("%w: empty feature vector", ErrInvalidSample)
	}
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: feature %d is not finite", ErrInvalidSample, i)
		}
	}
	return nil
}

// Argmax returns the first index holding the largest score.
func Argmax(scores []float64) int {
	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	return best
}

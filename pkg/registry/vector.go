package registry

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

const maxEncodedVector = 1 << 20

// Vector is a decoded feature vector. Literal keeps the numbers as the
// caller wrote them so they can be echoed back unchanged.
type Vector struct {
	Literal []json.Number
	Values  []float64
}

// DecodeVector turns the predict query parameter into a vector. The value is
// base64 text of a flat JSON array of numbers. It is parsed, never evaluated:
// anything that is not structurally such an array is rejected.
func DecodeVector(encoded string) (Vector, error) {
	if len(encoded) > maxEncodedVector {
		return Vector{}, errors.New("encoded vector too long")
	}
	raw, err := decodeBase64(encoded)
	if err != nil {
		return Vector{}, err
	}
	return ParseVector(raw)
}

// ParseVector parses a flat JSON array of finite numbers.
func ParseVector(raw []byte) (Vector, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return Vector{}, fmt.Errorf("vector: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return Vector{}, errors.New("vector: expected array")
	}

	vec := Vector{Literal: []json.Number{}, Values: []float64{}}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Vector{}, fmt.Errorf("vector: %w", err)
		}
		num, ok := tok.(json.Number)
		if !ok {
			return Vector{}, fmt.Errorf("vector: element %d is not a number", len(vec.Values))
		}
		value, err := num.Float64()
		if err != nil || math.IsInf(value, 0) {
			return Vector{}, fmt.Errorf("vector: element %d out of range", len(vec.Values))
		}
		vec.Literal = append(vec.Literal, num)
		vec.Values = append(vec.Values, value)
	}

	tok, err = dec.Token()
	if err != nil {
		return Vector{}, fmt.Errorf("vector: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != ']' {
		return Vector{}, errors.New("vector: unterminated array")
	}
	if _, err := dec.Token(); err != io.EOF {
		return Vector{}, errors.New("vector: trailing data")
	}
	return vec, nil
}

// decodeBase64 accepts the standard and URL-safe alphabets with or without
// padding. A '+' turned into a space by query decoding is restored.
func decodeBase64(encoded string) ([]byte, error) {
	s := strings.TrimRight(strings.ReplaceAll(strings.TrimSpace(encoded), " ", "+"), "=")
	if raw, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return raw, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("vector: invalid base64: %w", err)
	}
	return raw, nil
}

// Package fingerprint computes deterministic content fingerprints for the
// data bundles that determine a generated page.
package fingerprint

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"time"
)

// ErrUnserializable is returned when a bundle holds a value that has no
// deterministic serialization (funcs, channels, complex numbers, maps keyed
// by non-strings, or structures nested deeper than maxDepth).
var ErrUnserializable = errors.New("value cannot be fingerprinted deterministically")

// maxDepth bounds nesting so self-referencing values fail instead of looping.
const maxDepth = 64

// Bundle is one unordered group of content-defining fields.
type Bundle map[string]any

// Fingerprint is an opaque digest over an ordered list of bundles.
type Fingerprint string

// Canonical lets a type substitute a simpler value for fingerprinting.
type Canonical interface {
	CanonicalValue() any
}

// Compute serializes the bundles with Serialize and hashes the result with
// SHA-256.
func Compute(bundles ...Bundle) (Fingerprint, error) {
	data, err := Serialize(bundles...)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return Fingerprint(fmt.Sprintf("sha256:%x", sum)), nil
}

// Serialize produces the canonical byte sequence for the bundles. Keys of
// each bundle are sorted and only the values are written, in key order.
// Bundles are written in the order given. Every value carries a type tag
// and a length prefix, so adjacent values cannot run into each other.
func Serialize(bundles ...Bundle) ([]byte, error) {
	var buf []byte
	for _, b := range bundles {
		keys := make([]string, 0, len(b))
		for k := range b {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf = append(buf, '{')
		buf = strconv.AppendInt(buf, int64(len(keys)), 10)
		buf = append(buf, ':')
		for _, k := range keys {
			var err error
			buf, err = appendValue(buf, reflect.ValueOf(b[k]), 0)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
		}
	}
	return buf, nil
}

var (
	timeType      = reflect.TypeOf(time.Time{})
	canonicalType = reflect.TypeOf((*Canonical)(nil)).Elem()
)

func appendValue(buf []byte, v reflect.Value, depth int) ([]byte, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrUnserializable, maxDepth)
	}
	if !v.IsValid() {
		return append(buf, 'n'), nil
	}
	if v.Type().Implements(canonicalType) {
		if (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) && v.IsNil() {
			return append(buf, 'n'), nil
		}
		c := v.Interface().(Canonical).CanonicalValue()
		return appendValue(buf, reflect.ValueOf(c), depth+1)
	}
	if v.Type() == timeType {
		t := v.Interface().(time.Time)
		return appendString(append(buf, 't'), t.UTC().Format(time.RFC3339Nano)), nil
	}

	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			return append(buf, 'b', '1'), nil
		}
		return append(buf, 'b', '0'), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		buf = strconv.AppendInt(append(buf, 'i'), v.Int(), 10)
		return append(buf, ';'), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		buf = strconv.AppendUint(append(buf, 'u'), v.Uint(), 10)
		return append(buf, ';'), nil
	case reflect.Float32, reflect.Float64:
		buf = strconv.AppendFloat(append(buf, 'f'), v.Float(), 'g', -1, 64)
		return append(buf, ';'), nil
	case reflect.String:
		return appendString(append(buf, 's'), v.String()), nil
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return append(buf, 'n'), nil
		}
		return appendValue(buf, v.Elem(), depth+1)
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
			return appendString(append(buf, 'y'), string(v.Bytes())), nil
		}
		buf = strconv.AppendInt(append(buf, 'l'), int64(v.Len()), 10)
		buf = append(buf, ':')
		for i := 0; i < v.Len(); i++ {
			var err error
			if buf, err = appendValue(buf, v.Index(i), depth+1); err != nil {
				return nil, err
			}
		}
		return buf, nil
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: map keyed by %s", ErrUnserializable, v.Type().Key())
		}
		keys := v.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		buf = strconv.AppendInt(append(buf, 'm'), int64(len(keys)), 10)
		buf = append(buf, ':')
		for _, k := range keys {
			buf = appendString(buf, k.String())
			var err error
			if buf, err = appendValue(buf, v.MapIndex(k), depth+1); err != nil {
				return nil, err
			}
		}
		return buf, nil
	case reflect.Struct:
		t := v.Type()
		buf = append(buf, 'r')
		buf = appendString(buf, t.Name())
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			buf = appendString(buf, f.Name)
			var err error
			if buf, err = appendValue(buf, v.Field(i), depth+1); err != nil {
				return nil, err
			}
		}
		return append(buf, ';'), nil
	default:
		return nil, fmt.Errorf("%w: unsupported kind %s", ErrUnserializable, v.Kind())
	}
}

func appendString(buf []byte, s string) []byte {
	buf = strconv.AppendInt(buf, int64(len(s)), 10)
	buf = append(buf, ':')
	return append(buf, s...)
}

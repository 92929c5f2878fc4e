// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitsync

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Document is the remote representation of a payload: a flat mapping of
// field name to primitive value (string, number, bool, timestamp or nil)
type Document map[string]any

// RemoteDocument is a document together with its remote identifier
type RemoteDocument struct {
	ID       string   `json:"id"`
	Document Document `json:"document"`
}

// Validate rejects nested or non-primitive values
func (d Document) Validate() error {
	for k, v := range d {
		if k == "" {
			return fmt.Errorf("%w: empty field name", ErrInvalidDocument)
		}
		switch v.(type) {
		case nil, string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64, json.Number, time.Time:
		default:
			return fmt.Errorf("%w: field %q has unsupported type %T", ErrInvalidDocument, k, v)
		}
	}
	return nil
}

// String returns a string field, or "" when absent
func (d Document) String(key string) string {
	switch v := d[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Float returns a numeric field. Values decoded from JSON arrive as float64
// or json.Number; both are accepted.
func (d Document) Float(key string) (float64, error) {
	switch v := d[key].(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int8:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: field %q: %v", ErrInvalidDocument, key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: field %q is %T, not a number", ErrInvalidDocument, key, v)
	}
}

// Int returns an integer field. Fractional numbers and values outside the
// int64 range are rejected.
func (d Document) Int(key string) (int64, error) {
	switch v := d[key].(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return 0, fmt.Errorf("%w: field %q overflows int64: %d", ErrInvalidDocument, key, v)
		}
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("%w: field %q overflows int64: %d", ErrInvalidDocument, key, v)
		}
		return int64(v), nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
	}
	f, err := d.Float(key)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: field %q is not an integer: %v", ErrInvalidDocument, key, f)
	}
	// -2^63 is exact as a float64; 2^63 is the first value past MaxInt64.
	if f < math.MinInt64 || f >= -math.MinInt64 {
		return 0, fmt.Errorf("%w: field %q overflows int64: %v", ErrInvalidDocument, key, f)
	}
	return int64(f), nil
}

// Bool returns a boolean field, false when absent
func (d Document) Bool(key string) (bool, error) {
	switch v := d[key].(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("%w: field %q: %v", ErrInvalidDocument, key, err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("%w: field %q is %T, not a bool", ErrInvalidDocument, key, v)
	}
}

// Time returns a timestamp field. Timestamps travel as RFC3339 strings once
// encoded to JSON, so both time.Time and strings are accepted.
func (d Document) Time(key string) (time.Time, error) {
	switch v := d[key].(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return v, nil
	case string:
		if v == "" {
			return time.Time{}, nil
		}
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: field %q: %v", ErrInvalidDocument, key, err)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("%w: field %q is %T, not a timestamp", ErrInvalidDocument, key, v)
	}
}

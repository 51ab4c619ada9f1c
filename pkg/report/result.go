// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package report accumulates the facts discovered during a provisioning run
// and persists them once at the end.
package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is the second-resolution local time format used for the
// start and end facts and in report file names
const TimestampLayout = "2006-01-02T15:04:05"

// Timestamp formats t for the report
func Timestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// FileName builds the report file name for an identity and a time. Colons
// are replaced so the name is valid on every file system.
func FileName(identity string, t time.Time) string {
	return identity + "_" + strings.ReplaceAll(Timestamp(t), ":", "-") + "_report_stage_2.json"
}

// NewRunID returns a fresh run identifier
func NewRunID() string {
	return uuid.NewString()
}

// Result is an insertion-ordered set of facts. Setting an existing fact
// replaces its value and keeps its position.
type Result struct {
	keys   []string
	values map[string]any
}

func NewResult() *Result {
	return &Result{values: make(map[string]any)}
}

func (r *Result) Set(key string, value any) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

func (r *Result) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// String returns a fact as a string, or "" if absent or not a string
func (r *Result) String(key string) string {
	s, _ := r.values[key].(string)
	return s
}

// Keys returns the fact names in insertion order
func (r *Result) Keys() []string {
	return append([]string(nil), r.keys...)
}

func (r *Result) Len() int {
	return len(r.keys)
}

// MarshalJSON writes the facts as one object in insertion order
func (r *Result) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Encode renders the report document, indented with four spaces
func (r *Result) Encode() ([]byte, error) {
	raw, err := r.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "    "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

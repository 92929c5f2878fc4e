// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitness

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/alestar328/TraiScore-sub000/fitsync"
)

// JSONAdapter maps a flat struct to a document through its json tags.
// Times travel as RFC 3339 strings and numbers keep their exact text.
type JSONAdapter[T any] struct{}

var (
	_ fitsync.Adapter[Exercise]  = JSONAdapter[Exercise]{}
	_ fitsync.Adapter[Workout]   = JSONAdapter[Workout]{}
	_ fitsync.Adapter[BodyStats] = JSONAdapter[BodyStats]{}
	_ fitsync.Adapter[LabResult] = JSONAdapter[LabResult]{}
)

func (JSONAdapter[T]) ToDocument(payload T) (fitsync.Document, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc fitsync.Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

func (JSONAdapter[T]) FromDocument(doc fitsync.Document) (T, error) {
	var payload T
	if err := doc.Validate(); err != nil {
		return payload, err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return payload, fmt.Errorf("failed to encode document: %w", err)
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, fmt.Errorf("%w: %v", fitsync.ErrInvalidDocument, err)
	}
	return payload, nil
}

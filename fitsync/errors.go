// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitsync

import "errors"

var (
	// ErrNotFound is returned by stores when a record or document does not exist
	ErrNotFound = errors.New("not found")

	// ErrPendingDelete is returned when editing a record already queued for deletion
	ErrPendingDelete = errors.New("record is pending deletion")

	// ErrInvalidRecord is returned when a record violates the state/op invariant
	ErrInvalidRecord = errors.New("invalid record")

	// ErrInvalidDocument is returned for documents that are not flat primitive maps
	ErrInvalidDocument = errors.New("invalid document")
)

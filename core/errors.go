// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import "errors"

// Domain errors shared by the embedding subsystem.
var (
	// ErrInvalidConfiguration indicates bad chunking or search parameters.
	// It is returned before any work starts.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrDimensionMismatch indicates two vectors that should have the same length do not.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrNotFound indicates a missing or soft deleted document.
	ErrNotFound = errors.New("document not found")

	// ErrProviderFailure indicates the embedding provider failed after all retries.
	ErrProviderFailure = errors.New("embedding provider failure")

	// ErrStorageFailure indicates the record store is unavailable.
	ErrStorageFailure = errors.New("storage failure")

	// ErrCancelled indicates work was abandoned because its context was cancelled.
	ErrCancelled = errors.New("operation cancelled")

	// ErrInvalidDocument indicates a Document failed validation.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrEmptyTitle indicates the document Title field is empty.
	ErrEmptyTitle = errors.New("title cannot be empty")

	// ErrEmptyModel indicates no embedding model name was given.
	ErrEmptyModel = errors.New("model name cannot be empty")
)

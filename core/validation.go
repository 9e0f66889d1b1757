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

import (
	"fmt"
)

// ValidateDocument validates a Document according to domain rules.
//
// Validation rules:
//   - Title must not be empty
//
// NOT validated:
//   - Content (empty documents are legal and produce no chunks)
//   - Checksum and Version (assigned by the repository)
//   - ID (0 is valid until the repository assigns one)
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidDocument)
	}

	if doc.Title == "" {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrEmptyTitle)
	}

	return nil
}

// ValidateChunkParams checks chunk size and overlap.
// chunkSize must be positive and 0 <= overlap < chunkSize.
func ValidateChunkParams(chunkSize, overlap int) error {
	if chunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfiguration, chunkSize)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: chunk overlap must not be negative, got %d", ErrInvalidConfiguration, overlap)
	}
	if overlap >= chunkSize {
		return fmt.Errorf("%w: chunk overlap %d must be less than chunk size %d", ErrInvalidConfiguration, overlap, chunkSize)
	}
	return nil
}

// Validate checks the request before any work starts.
func (r BatchEmbeddingRequest) Validate() error {
	if r.Model == "" {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, ErrEmptyModel)
	}
	return ValidateChunkParams(r.ChunkSize, r.ChunkOverlap)
}

// ValidateEmbedding checks the fields a stored embedding must carry.
func ValidateEmbedding(emb *DocumentEmbedding) error {
	if emb == nil {
		return fmt.Errorf("%w: embedding is nil", ErrInvalidConfiguration)
	}
	if emb.Id == "" {
		return fmt.Errorf("%w: embedding id is empty", ErrInvalidConfiguration)
	}
	if emb.Model == "" {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, ErrEmptyModel)
	}
	if len(emb.Vector) == 0 {
		return fmt.Errorf("%w: embedding %s has an empty vector", ErrInvalidConfiguration, emb.Id)
	}
	return nil
}

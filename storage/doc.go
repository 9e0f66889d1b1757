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


// Package storage provides the storage abstraction layer for inkwell.
//
// This package defines repository interfaces that decouple storage implementation
// from business logic. Two backends are provided: storage/badger, which holds both
// documents and embeddings, and storage/sqlite, an alternative embedding store.
//
// # Architecture
//
// The storage layer follows the Repository pattern:
//
//   - DocumentRepository: documents with checksums and durable version numbers
//   - EmbeddingRepository: the only owner of DocumentEmbedding records
//
// Embeddings are never edited in place. A document's embeddings are replaced as a
// whole with ReplaceForDocument, which runs in a single transaction so readers
// never observe a half written set.
//
// # Usage
//
// Use in tests with in-memory storage:
//
//	docs, embeddings, backend, err := badger.NewMemoryRepositories()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
//
// # Context Support
//
// All repository methods accept context.Context for cancellation
// and timeout support. Pass context.Background() for operations
// without specific timeout requirements.
package storage

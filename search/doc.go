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


// Package search ranks stored chunk embeddings against a query.
//
// Cosine and Rank are pure functions over vectors and candidate sequences and
// are safe for concurrent use. Searcher wires them to the embedding provider
// and the stores: it embeds the query text, streams every stored embedding,
// drops candidates that are stale or out of scope, and returns ranked results
// with document titles filled in.
//
// Ranking is an exact linear scan; there is no approximate index.
package search

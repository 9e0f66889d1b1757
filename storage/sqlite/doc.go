// Package sqlite provides an embedding repository backed by SQLite.
//
// It uses modernc.org/sqlite, a pure Go SQLite implementation, so no cgo
// toolchain is needed. Vectors are stored as little-endian float32 BLOBs and
// metadata as JSON text. Documents stay in the badger store; this package only
// implements storage.EmbeddingRepository.
package sqlite

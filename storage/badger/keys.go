package badger

import (
	"encoding/binary"
	"fmt"

	"github.com/poiesic/inkwell/core"
)

const (
	documentPrefix       = "docrec"
	documentSourcePrefix = "docsrc"
	documentIDSeq        = "docrecseq"
	documentVersionSeq   = "docverseq"
	embeddingPrefix      = "embrec"
	embeddingDocPrefix   = "embdoc"
	embeddingDimPrefix   = "embdim"
)

// makeDocumentKey generates a key for a document by ID.
// Format: prefix:BE(id), so prefix iteration returns documents in ID order.
func makeDocumentKey(id core.ID) []byte {
	prefix := documentPrefix + ":"
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// makeDocumentSourceKey generates the source path index key.
func makeDocumentSourceKey(source string) []byte {
	return []byte(fmt.Sprintf("%s:%s", documentSourcePrefix, source))
}

// makeEmbeddingKey generates a key for an embedding record by ID.
func makeEmbeddingKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", embeddingPrefix, id))
}

// makeEmbeddingDocKey generates a composite key for the document index.
// Format: prefix:BE(docID):BE(chunkIndex):embeddingID
func makeEmbeddingDocKey(docID core.ID, chunkIndex int, embeddingID string) []byte {
	prefix := makePartialEmbeddingDocKey(docID)
	buf := make([]byte, len(prefix)+8+len(embeddingID))
	offset := copy(buf, prefix)
	// Write in BigEndian order so lexicographic sort follows chunk order
	binary.BigEndian.PutUint64(buf[offset:], uint64(chunkIndex))
	offset += 8
	copy(buf[offset:], embeddingID)
	return buf
}

// makePartialEmbeddingDocKey generates the prefix of all index keys of a document.
// Format: prefix:BE(docID):
func makePartialEmbeddingDocKey(docID core.ID) []byte {
	prefix := embeddingDocPrefix + ":"
	buf := make([]byte, len(prefix)+9)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(docID))
	buf[offset+8] = ':'
	return buf
}

// makeEmbeddingDimKey generates the key holding a model's vector dimension.
func makeEmbeddingDimKey(model string) []byte {
	return []byte(fmt.Sprintf("%s:%s", embeddingDimPrefix, model))
}

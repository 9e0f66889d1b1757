package core

import (
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

// MUS serializers for the persisted record types. Field order is the wire order;
// append new fields at the end only.
var (
	IDMUS                = idMUS{}
	DocumentMUS          = documentMUS{}
	DocumentEmbeddingMUS = documentEmbeddingMUS{}
)

var errLengthOutOfRange = errors.New("mus: length out of range")

type idMUS struct{}

func (s idMUS) Marshal(v ID, bs []byte) (n int) {
	return varint.Uint64.Marshal(uint64(v), bs)
}

func (s idMUS) Unmarshal(bs []byte) (v ID, n int, err error) {
	u, n, err := varint.Uint64.Unmarshal(bs)
	return ID(u), n, err
}

func (s idMUS) Size(v ID) (size int) {
	return varint.Uint64.Size(uint64(v))
}

func (s idMUS) Skip(bs []byte) (n int, err error) {
	return varint.Uint64.Skip(bs)
}

type documentMUS struct{}

func (s documentMUS) Marshal(v Document, bs []byte) (n int) {
	n = IDMUS.Marshal(v.Id, bs)
	n += IDMUS.Marshal(v.ProjectId, bs[n:])
	n += ord.String.Marshal(v.Title, bs[n:])
	n += ord.String.Marshal(v.Content, bs[n:])
	n += ord.String.Marshal(v.Source, bs[n:])
	n += ord.String.Marshal(v.Checksum, bs[n:])
	n += varint.Uint64.Marshal(v.Version, bs[n:])
	n += ord.Bool.Marshal(v.Deleted, bs[n:])
	n += marshalTime(v.InsertedAt, bs[n:])
	n += marshalTime(v.UpdatedAt, bs[n:])
	return
}

func (s documentMUS) Unmarshal(bs []byte) (v Document, n int, err error) {
	var n1 int
	if v.Id, n1, err = IDMUS.Unmarshal(bs); err != nil {
		return
	}
	n += n1
	if v.ProjectId, n1, err = IDMUS.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.Title, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.Content, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.Source, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.Checksum, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.Version, n1, err = varint.Uint64.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.Deleted, n1, err = ord.Bool.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.InsertedAt, n1, err = unmarshalTime(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.UpdatedAt, n1, err = unmarshalTime(bs[n:]); err != nil {
		return
	}
	n += n1
	return
}

func (s documentMUS) Size(v Document) (size int) {
	size = IDMUS.Size(v.Id)
	size += IDMUS.Size(v.ProjectId)
	size += ord.String.Size(v.Title)
	size += ord.String.Size(v.Content)
	size += ord.String.Size(v.Source)
	size += ord.String.Size(v.Checksum)
	size += varint.Uint64.Size(v.Version)
	size += ord.Bool.Size(v.Deleted)
	size += sizeTime(v.InsertedAt)
	size += sizeTime(v.UpdatedAt)
	return
}

type documentEmbeddingMUS struct{}

func (s documentEmbeddingMUS) Marshal(v DocumentEmbedding, bs []byte) (n int) {
	n = ord.String.Marshal(v.Id, bs)
	n += IDMUS.Marshal(v.DocumentId, bs[n:])
	n += varint.Int64.Marshal(int64(v.ChunkIndex), bs[n:])
	n += ord.String.Marshal(v.Text, bs[n:])
	n += varint.Int64.Marshal(int64(v.Start), bs[n:])
	n += varint.Int64.Marshal(int64(v.End), bs[n:])
	n += marshalVector(v.Vector, bs[n:])
	n += ord.String.Marshal(v.Model, bs[n:])
	n += marshalTime(v.CreatedAt, bs[n:])
	n += marshalMetadata(v.Metadata, bs[n:])
	return
}

func (s documentEmbeddingMUS) Unmarshal(bs []byte) (v DocumentEmbedding, n int, err error) {
	var (
		n1 int
		i  int64
	)
	if v.Id, n1, err = ord.String.Unmarshal(bs); err != nil {
		return
	}
	n += n1
	if v.DocumentId, n1, err = IDMUS.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if i, n1, err = varint.Int64.Unmarshal(bs[n:]); err != nil {
		return
	}
	v.ChunkIndex = int(i)
	n += n1
	if v.Text, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if i, n1, err = varint.Int64.Unmarshal(bs[n:]); err != nil {
		return
	}
	v.Start = int(i)
	n += n1
	if i, n1, err = varint.Int64.Unmarshal(bs[n:]); err != nil {
		return
	}
	v.End = int(i)
	n += n1
	if v.Vector, n1, err = unmarshalVector(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.Model, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.CreatedAt, n1, err = unmarshalTime(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.Metadata, n1, err = unmarshalMetadata(bs[n:]); err != nil {
		return
	}
	n += n1
	return
}

func (s documentEmbeddingMUS) Size(v DocumentEmbedding) (size int) {
	size = ord.String.Size(v.Id)
	size += IDMUS.Size(v.DocumentId)
	size += varint.Int64.Size(int64(v.ChunkIndex))
	size += ord.String.Size(v.Text)
	size += varint.Int64.Size(int64(v.Start))
	size += varint.Int64.Size(int64(v.End))
	size += sizeVector(v.Vector)
	size += ord.String.Size(v.Model)
	size += sizeTime(v.CreatedAt)
	size += sizeMetadata(v.Metadata)
	return
}

// Times are stored as Unix microseconds in UTC.

func marshalTime(t time.Time, bs []byte) int {
	if t.IsZero() {
		return varint.Int64.Marshal(0, bs)
	}
	return varint.Int64.Marshal(t.UnixMicro(), bs)
}

func unmarshalTime(bs []byte) (time.Time, int, error) {
	us, n, err := varint.Int64.Unmarshal(bs)
	if err != nil {
		return time.Time{}, n, err
	}
	if us == 0 {
		return time.Time{}, n, nil
	}
	return time.UnixMicro(us).UTC(), n, nil
}

func sizeTime(t time.Time) int {
	if t.IsZero() {
		return varint.Int64.Size(0)
	}
	return varint.Int64.Size(t.UnixMicro())
}

// Vectors are a length prefix followed by fixed width float32 values.

func marshalVector(vec []float32, bs []byte) (n int) {
	n = varint.Uint64.Marshal(uint64(len(vec)), bs)
	for _, f := range vec {
		n += raw.Float32.Marshal(f, bs[n:])
	}
	return
}

func unmarshalVector(bs []byte) (vec []float32, n int, err error) {
	length, n, err := varint.Uint64.Unmarshal(bs)
	if err != nil {
		return nil, n, err
	}
	if length > uint64(len(bs)-n) {
		return nil, n, errLengthOutOfRange
	}
	vec = make([]float32, length)
	for i := range vec {
		var n1 int
		if vec[i], n1, err = raw.Float32.Unmarshal(bs[n:]); err != nil {
			return nil, n, err
		}
		n += n1
	}
	return vec, n, nil
}

func sizeVector(vec []float32) (size int) {
	size = varint.Uint64.Size(uint64(len(vec)))
	for _, f := range vec {
		size += raw.Float32.Size(f)
	}
	return
}

// Metadata maps are written in key order so equal maps encode to equal bytes.

func marshalMetadata(m map[string]string, bs []byte) (n int) {
	n = varint.Uint64.Marshal(uint64(len(m)), bs)
	for _, k := range slices.Sorted(maps.Keys(m)) {
		n += ord.String.Marshal(k, bs[n:])
		n += ord.String.Marshal(m[k], bs[n:])
	}
	return
}

func unmarshalMetadata(bs []byte) (m map[string]string, n int, err error) {
	length, n, err := varint.Uint64.Unmarshal(bs)
	if err != nil {
		return nil, n, err
	}
	if length == 0 {
		return nil, n, nil
	}
	if length > uint64(len(bs)-n) {
		return nil, n, errLengthOutOfRange
	}
	m = make(map[string]string, length)
	for range length {
		var (
			k, v string
			n1   int
		)
		if k, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
			return nil, n, err
		}
		n += n1
		if v, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
			return nil, n, err
		}
		n += n1
		m[k] = v
	}
	return m, n, nil
}

func sizeMetadata(m map[string]string) (size int) {
	size = varint.Uint64.Size(uint64(len(m)))
	for k, v := range m {
		size += ord.String.Size(k) + ord.String.Size(v)
	}
	return
}

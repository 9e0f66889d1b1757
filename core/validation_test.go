package core

import (
	"errors"
	"testing"
)

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name    string
		doc     *Document
		wantErr error
	}{
		{
			name:    "nil document",
			doc:     nil,
			wantErr: ErrInvalidDocument,
		},
		{
			name:    "empty title",
			doc:     &Document{Content: "text"},
			wantErr: ErrEmptyTitle,
		},
		{
			name: "empty content is allowed",
			doc:  &Document{Title: "Draft"},
		},
		{
			name: "valid document",
			doc:  &Document{Title: "Chapter 1", Content: "It was a dark and stormy night."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument(tt.doc)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateDocument() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateDocument() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateChunkParams(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
		wantErr bool
	}{
		{"zero size", 0, 0, true},
		{"negative size", -5, 0, true},
		{"negative overlap", 10, -1, true},
		{"overlap equal to size", 10, 10, true},
		{"overlap larger than size", 10, 11, true},
		{"no overlap", 10, 0, false},
		{"overlap just below size", 10, 9, false},
		{"size one", 1, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChunkParams(tt.size, tt.overlap)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfiguration) {
					t.Errorf("ValidateChunkParams(%d, %d) error = %v, want ErrInvalidConfiguration", tt.size, tt.overlap, err)
				}
				return
			}
			if err != nil {
				t.Errorf("ValidateChunkParams(%d, %d) unexpected error = %v", tt.size, tt.overlap, err)
			}
		})
	}
}

func TestBatchEmbeddingRequest_Validate(t *testing.T) {
	valid := BatchEmbeddingRequest{DocumentIds: []ID{1}, Model: "m", ChunkSize: 10, ChunkOverlap: 3}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error = %v", err)
	}

	noModel := valid
	noModel.Model = ""
	if err := noModel.Validate(); !errors.Is(err, ErrInvalidConfiguration) || !errors.Is(err, ErrEmptyModel) {
		t.Errorf("Validate() error = %v, want ErrInvalidConfiguration wrapping ErrEmptyModel", err)
	}

	badOverlap := valid
	badOverlap.ChunkOverlap = 10
	if err := badOverlap.Validate(); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("Validate() error = %v, want ErrInvalidConfiguration", err)
	}
}

func TestValidateEmbedding(t *testing.T) {
	tests := []struct {
		name    string
		emb     *DocumentEmbedding
		wantErr bool
	}{
		{"nil", nil, true},
		{"missing id", &DocumentEmbedding{Model: "m", Vector: []float32{1}}, true},
		{"missing model", &DocumentEmbedding{Id: "a", Vector: []float32{1}}, true},
		{"empty vector", &DocumentEmbedding{Id: "a", Model: "m"}, true},
		{"valid", &DocumentEmbedding{Id: "a", Model: "m", Vector: []float32{1}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEmbedding(tt.emb)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEmbedding() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func newRequest(model string) BatchEmbeddingRequest {
	return BatchEmbeddingRequest{Model: model, ChunkSize: 10, ChunkOverlap: 2}
}

func TestBatchEmbeddingRequest_ValidateReturnedValue(t *testing.T) {
	if err := newRequest("m").Validate(); err != nil {
		t.Errorf("Validate() unexpected error = %v", err)
	}
	if err := newRequest("").Validate(); !errors.Is(err, ErrEmptyModel) {
		t.Errorf("Validate() error = %v, want ErrEmptyModel", err)
	}
}

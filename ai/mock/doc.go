// Package mock provides test double implementations of AI service interfaces.
//
// The mocks let tests run without an embedding server and give controlled,
// deterministic behavior.
//
// # Usage in Tests
//
//	mockEmbedder := mock.NewMockEmbedder().
//	    WithDimension("small", 8).
//	    WithEmbedTextFunc(func(ctx context.Context, model, text string) ([]float32, error) {
//	        return []float32{0.1, 0.2, 0.3}, nil
//	    })
//
//	count := mockEmbedder.CallCount()
//
// Without injected functions MockEmbedder returns unit-length vectors derived
// from an FNV hash of the text.
package mock

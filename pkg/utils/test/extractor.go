package testutils

import (
	"context"
	"fmt"

	"github.com/papercomputeco/engram/pkg/extract"
)

// MockExtractor is a test extractor with configurable results per text.
type MockExtractor struct {
	// Extractions maps input text to its extraction result.
	Extractions map[string]*extract.Extraction

	// Fail causes every Extract call to return an error.
	Fail bool
}

func NewMockExtractor() *MockExtractor {
	return &MockExtractor{
		Extractions: make(map[string]*extract.Extraction),
	}
}

func (m *MockExtractor) Extract(_ context.Context, text string) (*extract.Extraction, error) {
	if m.Fail {
		return nil, fmt.Errorf("mock extractor down")
	}
	if ex, ok := m.Extractions[text]; ok {
		return ex, nil
	}
	return &extract.Extraction{}, nil
}

func (m *MockExtractor) Close() error {
	return nil
}

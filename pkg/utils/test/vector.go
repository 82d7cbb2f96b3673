package testutils

import (
	"context"

	"github.com/engramhq/engram/pkg/vector"
)

// MockVectorDriver is a test vector driver that records adds and returns
// configurable query results.
type MockVectorDriver struct {
	Documents []vector.Document
	Results   []vector.QueryResult
	Deleted   []string

	// FailQuery causes Query to return an error.
	FailQuery bool
}

func NewMockVectorDriver() *MockVectorDriver {
	return &MockVectorDriver{
		Documents: make([]vector.Document, 0),
		Results:   make([]vector.QueryResult, 0),
	}
}

func (m *MockVectorDriver) Add(_ context.Context, docs []vector.Document) error {
	m.Documents = append(m.Documents, docs...)
	return nil
}

func (m *MockVectorDriver) Query(_ context.Context, ownerID string, _ []float32, topK int) ([]vector.QueryResult, error) {
	if m.FailQuery {
		return nil, vector.ErrConnection
	}

	results := make([]vector.QueryResult, 0, len(m.Results))
	for _, r := range m.Results {
		if r.OwnerID == ownerID {
			results = append(results, r)
		}
	}
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (m *MockVectorDriver) Delete(_ context.Context, ids []string) error {
	m.Deleted = append(m.Deleted, ids...)
	return nil
}

func (m *MockVectorDriver) Close() error {
	return nil
}

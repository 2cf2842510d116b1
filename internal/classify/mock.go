package classify

import "context"

// MockProvider satisfies Provider for testing.
type MockProvider struct {
	Name_        string
	ClassifyFunc func(ctx context.Context, in Input) (Result, error)
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Classify(ctx context.Context, in Input) (Result, error) {
	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(ctx, in)
	}
	return Result{}, nil
}

// NewMockProvider returns a MockProvider with a sensible default response.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		ClassifyFunc: func(_ context.Context, _ Input) (Result, error) {
			return Result{Label: "mock", Confidence: 0.85}, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		ClassifyFunc: func(_ context.Context, _ Input) (Result, error) {
			return Result{}, err
		},
	}
}

// Compile-time check that MockProvider implements Provider.
var _ Provider = (*MockProvider)(nil)

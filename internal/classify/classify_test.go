package classify_test

import (
	"context"
	"testing"

	"github.com/mw10013/orgagent/internal/classify"
	"github.com/mw10013/orgagent/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider_Heuristic(t *testing.T) {
	p, err := classify.NewProvider(config.ClassifierConfig{Provider: "heuristic"})
	require.NoError(t, err)
	assert.Equal(t, "heuristic", p.Name())
}

func TestNewProvider_Mock(t *testing.T) {
	p, err := classify.NewProvider(config.ClassifierConfig{Provider: "mock"})
	require.NoError(t, err)
	assert.Equal(t, "mock", p.Name())
}

func TestNewProvider_Unknown(t *testing.T) {
	_, err := classify.NewProvider(config.ClassifierConfig{Provider: "oracle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle")
}

func TestHeuristic_ByContentType(t *testing.T) {
	p := &classify.HeuristicProvider{}

	cases := []struct {
		contentType string
		label       string
	}{
		{"image/png", "image"},
		{"image/jpeg; charset=binary", "image"},
		{"video/mp4", "video"},
		{"audio/mpeg", "audio"},
		{"application/pdf", "document"},
		{"text/plain", "text"},
	}
	for _, tc := range cases {
		res, err := p.Classify(context.Background(), classify.Input{Name: "f", ContentType: tc.contentType})
		require.NoError(t, err)
		assert.Equal(t, tc.label, res.Label, "content type %q", tc.contentType)
		assert.InDelta(t, 0.9, res.Confidence, 0.001)
	}
}

func TestHeuristic_FallsBackToExtension(t *testing.T) {
	p := &classify.HeuristicProvider{}

	res, err := p.Classify(context.Background(), classify.Input{
		Name:        "cat.png",
		ContentType: "application/octet-stream",
	})
	require.NoError(t, err)
	assert.Equal(t, "image", res.Label)
	assert.InDelta(t, 0.6, res.Confidence, 0.001)
}

func TestHeuristic_Unknown(t *testing.T) {
	p := &classify.HeuristicProvider{}

	res, err := p.Classify(context.Background(), classify.Input{
		Name:        "blob.bin",
		ContentType: "application/octet-stream",
	})
	require.NoError(t, err)
	assert.Equal(t, "unknown", res.Label)
}

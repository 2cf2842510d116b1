// Package classify assigns a label and confidence score to recorded uploads.
package classify

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/mw10013/orgagent/internal/config"
)

var ErrProviderUnavailable = errors.New("classifier unavailable")

// Result is one classification outcome for an upload.
type Result struct {
	Label      string
	Confidence float64
}

// Input describes the upload to classify.
type Input struct {
	Name        string
	ContentType string
	Size        int64
}

// Provider is the classification interface. Never call a concrete classifier
// directly; always inject this interface.
type Provider interface {
	Classify(ctx context.Context, in Input) (Result, error)
	Name() string
}

// NewProvider constructs the configured classification provider.
// Called once at server startup.
func NewProvider(cfg config.ClassifierConfig) (Provider, error) {
	switch cfg.Provider {
	case "heuristic":
		return &HeuristicProvider{}, nil
	case "mock":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown classifier provider %q: must be one of heuristic, mock", cfg.Provider)
	}
}

// HeuristicProvider labels uploads from their content type and file extension.
// It exists so the pipeline is complete without an external inference service;
// swapping in a model-backed provider only requires implementing Provider.
type HeuristicProvider struct{}

func (p *HeuristicProvider) Name() string { return "heuristic" }

func (p *HeuristicProvider) Classify(_ context.Context, in Input) (Result, error) {
	if label, ok := byContentType(in.ContentType); ok {
		return Result{Label: label, Confidence: 0.9}, nil
	}
	if label, ok := byExtension(in.Name); ok {
		return Result{Label: label, Confidence: 0.6}, nil
	}
	return Result{Label: "unknown", Confidence: 0.1}, nil
}

func byContentType(contentType string) (string, bool) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch {
	case strings.HasPrefix(ct, "image/"):
		return "image", true
	case strings.HasPrefix(ct, "video/"):
		return "video", true
	case strings.HasPrefix(ct, "audio/"):
		return "audio", true
	case ct == "application/pdf":
		return "document", true
	case strings.HasPrefix(ct, "text/"):
		return "text", true
	}
	return "", false
}

func byExtension(name string) (string, bool) {
	switch strings.ToLower(path.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg":
		return "image", true
	case ".mp4", ".mov", ".webm":
		return "video", true
	case ".mp3", ".wav", ".flac":
		return "audio", true
	case ".pdf", ".doc", ".docx":
		return "document", true
	case ".txt", ".md", ".csv", ".json":
		return "text", true
	}
	return "", false
}

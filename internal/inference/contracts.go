// Package inference declares the two remote capabilities the pipeline depends on.
package inference

import (
	"context"
	"iter"
)

// SynchronousInference runs a model and returns its whole output at once.
type SynchronousInference interface {
	Run(ctx context.Context, model string, input map[string]any) (string, error)
}

// StreamingInference runs a model and yields its output as ordered text chunks.
// The sequence ends after the first non-nil error.
type StreamingInference interface {
	Stream(ctx context.Context, model string, req StreamRequest) iter.Seq2[string, error]
}

// StreamRequest is a text prompt plus one attached image.
type StreamRequest struct {
	Prompt    string
	Image     []byte
	ImageMIME string
	ImageName string
	Options   GenerationOptions
}

// GenerationOptions are sampling parameters; providers ignore what they do not support.
type GenerationOptions struct {
	Temperature     float64
	TopP            float64
	PresencePenalty float64
	MinTokens       int
}

// SyncFunc adapts a function to SynchronousInference.
type SyncFunc func(ctx context.Context, model string, input map[string]any) (string, error)

func (f SyncFunc) Run(ctx context.Context, model string, input map[string]any) (string, error) {
	return f(ctx, model, input)
}

// Chunks yields each chunk in order and then stops. Useful for fakes.
func Chunks(chunks ...string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, c := range chunks {
			if !yield(c, nil) {
				return
			}
		}
	}
}

// Fail yields the given chunks followed by err.
func Fail(err error, chunks ...string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, c := range chunks {
			if !yield(c, nil) {
				return
			}
		}
		yield("", err)
	}
}

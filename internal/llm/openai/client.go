// Package openai provides an OpenAI-compatible streaming structuring backend.
package openai

import (
	"context"
	"encoding/base64"
	"iter"
	"time"

	"github.com/google/uuid"
	openai "github.com/openai/openai-go"

	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/inference"
)

// Stream implements inference.StreamingInference over chat/completions.
// Every delta's content is yielded in order; empty deltas are skipped.
func (c *Client) Stream(ctx context.Context, model string, req inference.StreamRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		rid := uuid.New().String()
		start := time.Now()
		c.logger.Info("llm.openai.stream.start", "req_id", rid, "model", model, "prompt_len", len(req.Prompt), "image_bytes", len(req.Image))

		stream := c.client.Chat.Completions.NewStreaming(ctx, buildParams(model, req))
		defer func() {
			if err := stream.Close(); err != nil {
				c.logger.Warn("llm.openai.stream.close_error", "req_id", rid, "error", err)
			}
		}()

		chunks := 0
		for stream.Next() {
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				chunks++
				if !yield(choice.Delta.Content, nil) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			c.logger.Error("llm.openai.stream.error", "req_id", rid, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
			yield("", err)
			return
		}
		c.logger.Info("llm.openai.stream.done", "req_id", rid, "chunks", chunks, "elapsed_ms", time.Since(start).Milliseconds())
	}
}

func buildParams(model string, req inference.StreamRequest) openai.ChatCompletionNewParams {
	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(req.Prompt),
	}
	if len(req.Image) > 0 {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: "data:" + req.ImageMIME + ";base64," + base64.StdEncoding.EncodeToString(req.Image),
		}))
	}

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(parts)},
	}
	if req.Options.Temperature > 0 {
		params.Temperature = openai.Float(req.Options.Temperature)
	}
	if req.Options.TopP > 0 {
		params.TopP = openai.Float(req.Options.TopP)
	}
	// chat/completions caps presence_penalty at 2.
	if p := req.Options.PresencePenalty; p != 0 {
		params.PresencePenalty = openai.Float(min(max(p, -2), 2))
	}
	return params
}

package replicate

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/inference"
)

// Server-sent event types emitted on a prediction stream.
const (
	eventOutput = "output"
	eventError  = "error"
	eventDone   = "done"
)

// Stream implements inference.StreamingInference. The prompt, generation options
// and the image (as a data URI) become the prediction input.
func (c *Client) Stream(ctx context.Context, model string, req inference.StreamRequest) iter.Seq2[string, error] {
	return c.StreamInput(ctx, model, PredictionInput(req))
}

// PredictionInput maps a StreamRequest onto the language model input fields.
func PredictionInput(req inference.StreamRequest) map[string]any {
	input := map[string]any{
		"prompt":           req.Prompt,
		"top_p":            req.Options.TopP,
		"temperature":      req.Options.Temperature,
		"presence_penalty": req.Options.PresencePenalty,
		"min_tokens":       req.Options.MinTokens,
	}
	if len(req.Image) > 0 {
		input["image"] = "data:" + req.ImageMIME + ";base64," + base64.StdEncoding.EncodeToString(req.Image)
	}
	return input
}

// StreamInput creates a streaming prediction and yields each output event in order.
func (c *Client) StreamInput(ctx context.Context, model string, input map[string]any) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		reqID := uuid.New().String()
		start := time.Now()
		c.logger.Info("replicate.stream.start", "req_id", reqID, "model", model)

		p, err := c.createPrediction(ctx, model, input, true, reqID)
		if err != nil {
			yield("", err)
			return
		}
		if p.URLs.Stream == "" {
			yield("", fmt.Errorf("replicate: model %s returned no stream url", model))
			return
		}

		resp, err := c.openStream(ctx, p.URLs.Stream)
		if err != nil {
			c.logger.Error("replicate.stream.open_error", "req_id", reqID, "prediction_id", p.ID, "error", err)
			yield("", err)
			return
		}

		dec := ssestream.NewDecoder(resp)
		defer func() {
			if err := dec.Close(); err != nil {
				c.logger.Warn("replicate.stream.close_error", "req_id", reqID, "error", err)
			}
		}()

		chunks := 0
		for dec.Next() {
			evt := dec.Event()
			data := bytes.TrimSuffix(evt.Data, []byte("\n"))
			switch evt.Type {
			case eventOutput:
				chunks++
				if !yield(string(data), nil) {
					return
				}
			case eventError:
				yield("", &PredictionError{ID: p.ID, Status: StatusFailed, Detail: string(data)})
				return
			case eventDone:
				if reason := doneReason(data); reason != "" {
					yield("", &PredictionError{ID: p.ID, Status: reason})
					return
				}
				c.logger.Info("replicate.stream.done",
					"req_id", reqID,
					"prediction_id", p.ID,
					"chunks", chunks,
					"elapsed_ms", time.Since(start).Milliseconds(),
				)
				return
			}
		}
		if err := dec.Err(); err != nil {
			yield("", fmt.Errorf("replicate: read stream: %w", err))
			return
		}
		if err := ctx.Err(); err != nil {
			yield("", err)
			return
		}
		yield("", fmt.Errorf("replicate: stream for prediction %s ended without done event", p.ID))
	}
}

func (c *Client) openStream(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.setAuth(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-store")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(raw))}
	}
	return resp, nil
}

// doneReason returns "canceled" or "error" when the done event reports an unsuccessful end.
func doneReason(data []byte) string {
	if len(bytes.TrimSpace(data)) == 0 {
		return ""
	}
	var payload struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ""
	}
	return payload.Reason
}

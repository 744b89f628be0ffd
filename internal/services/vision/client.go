package vision

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"mime"
	"strings"

	"reimagine/internal/logging"
	"reimagine/internal/queue"
	"reimagine/internal/services"
	"reimagine/internal/services/openrouter"
	"reimagine/internal/stage"
)

const maxLineBytes = 1 << 20

// Client streams image descriptions from a chat completions endpoint.
type Client struct {
	transport *openrouter.Transport
	logger    *slog.Logger
}

// New constructs an analysis client on the given transport.
func New(transport *openrouter.Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{
		transport: transport,
		logger:    logging.NewComponentLogger(logger, "vision"),
	}
}

// HealthCheck reports whether cfg is complete enough to call the stage.
func (c *Client) HealthCheck(_ context.Context, cfg stage.Config) stage.Health {
	return stage.CheckConfig(stage.NameAnalysis, cfg)
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *openrouter.APIError `json:"error"`
}

// Analyze requests a streamed description of image. onPartial receives the
// cumulative text after every delta.
func (c *Client) Analyze(ctx context.Context, image queue.Image, cfg stage.Config, onPartial func(string)) (string, error) {
	if len(image.Data) == 0 {
		return "", services.Wrap(services.ErrStageRequest, stage.NameAnalysis, "", "source image has no data", nil)
	}
	payload := openrouter.ChatRequest{
		Model: cfg.Model,
		Messages: []openrouter.Message{
			openrouter.UserMessage(
				openrouter.TextPart(cfg.Instruction),
				openrouter.ImagePart(image.DataURL()),
			),
		},
		Stream: true,
	}

	resp, err := c.transport.Post(ctx, cfg, payload, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	logger := logging.WithContext(ctx, c.logger)
	sampler := logging.NewStreamSampler(0)
	var text strings.Builder

	emit := func(delta string) {
		if delta == "" {
			return
		}
		text.WriteString(delta)
		current := text.String()
		if sampler.ShouldLog(len(current)) {
			logger.Debug("analysis streaming", logging.Int("chars", len(current)))
		}
		if onPartial != nil {
			onPartial(current)
		}
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var chunk streamChunk
		if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
			return "", services.Wrap(services.ErrMalformedResponse, stage.NameAnalysis, "decode", "undecodable response", err)
		}
		if err := chunkError(chunk); err != nil {
			return "", err
		}
		for _, choice := range chunk.Choices {
			emit(choice.Message.Content)
		}
		return finalize(text.String())
	}

	// A stream is complete once it sends [DONE] or a finish_reason.
	complete := false
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			complete = true
			break
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return "", services.Wrap(services.ErrMalformedResponse, stage.NameAnalysis, "decode", "undecodable stream chunk", err)
		}
		if err := chunkError(chunk); err != nil {
			return "", err
		}
		for _, choice := range chunk.Choices {
			emit(choice.Delta.Content)
			if choice.FinishReason != "" {
				complete = true
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", c.transport.ReadError(ctx, err)
	}
	if !complete {
		return "", services.Wrap(services.ErrMalformedResponse, stage.NameAnalysis, "stream", "stream ended before completion", nil)
	}
	return finalize(text.String())
}

func chunkError(chunk streamChunk) error {
	if chunk.Error == nil {
		return nil
	}
	message := strings.TrimSpace(chunk.Error.Message)
	if message == "" {
		message = "provider reported an error"
	}
	return services.Wrap(services.ErrStageRequest, stage.NameAnalysis, "stream", message, nil)
}

func finalize(text string) (string, error) {
	description := strings.TrimSpace(text)
	if description == "" {
		return "", services.Wrap(services.ErrMalformedResponse, stage.NameAnalysis, "stream", "empty description", nil)
	}
	return description, nil
}

package imagegen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"path"
	"strings"

	"reimagine/internal/logging"
	"reimagine/internal/queue"
	"reimagine/internal/services"
	"reimagine/internal/services/openrouter"
	"reimagine/internal/stage"
)

const maxResponseBytes = 64 << 20

// Client renders images through a chat completions endpoint with image output.
type Client struct {
	transport *openrouter.Transport
	logger    *slog.Logger
}

// New constructs a generation client on the given transport.
func New(transport *openrouter.Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{
		transport: transport,
		logger:    logging.NewComponentLogger(logger, "imagegen"),
	}
}

// HealthCheck reports whether cfg is complete enough to call the stage.
func (c *Client) HealthCheck(_ context.Context, cfg stage.Config) stage.Health {
	return stage.CheckConfig(stage.NameGeneration, cfg)
}

type generationResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Images  []struct {
				ImageURL struct {
					URL string `json:"url"`
				} `json:"image_url"`
			} `json:"images"`
		} `json:"message"`
	} `json:"choices"`
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
	Error *openrouter.APIError `json:"error"`
}

// Generate renders a new image from description, sending the source image as
// a visual reference.
func (c *Client) Generate(ctx context.Context, image queue.Image, description string, cfg stage.Config) (queue.Image, error) {
	prompt := strings.TrimSpace(cfg.Instruction)
	if prompt != "" {
		prompt += "\n\n"
	}
	prompt += strings.TrimSpace(description)

	parts := []openrouter.ContentPart{openrouter.TextPart(prompt)}
	if len(image.Data) > 0 {
		parts = append(parts, openrouter.ImagePart(image.DataURL()))
	}
	payload := openrouter.ChatRequest{
		Model:      cfg.Model,
		Messages:   []openrouter.Message{openrouter.UserMessage(parts...)},
		Modalities: []string{"image", "text"},
	}
	if ratio := strings.TrimSpace(cfg.AspectRatio); ratio != "" {
		payload.ImageConfig = &openrouter.ImageConfig{AspectRatio: ratio}
	}

	resp, err := c.transport.Post(ctx, cfg, payload, false)
	if err != nil {
		return queue.Image{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return queue.Image{}, c.transport.ReadError(ctx, err)
	}
	var parsed generationResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return queue.Image{}, malformed("decode", "undecodable response", err)
	}
	if parsed.Error != nil {
		message := strings.TrimSpace(parsed.Error.Message)
		if message == "" {
			message = "provider reported an error"
		}
		return queue.Image{}, services.Wrap(services.ErrStageRequest, stage.NameGeneration, "generate", message, nil)
	}

	result, err := extractImage(parsed)
	if err != nil {
		return queue.Image{}, err
	}
	result.Name = resultName(image.Name, result.MIMEType)
	logging.WithContext(ctx, c.logger).Debug("image generated",
		logging.String("mime_type", result.MIMEType),
		logging.Int("bytes", len(result.Data)),
		logging.Bool("reference", result.URL != ""),
	)
	return result, nil
}

// extractImage returns the first image in either supported response shape.
func extractImage(resp generationResponse) (queue.Image, error) {
	for _, choice := range resp.Choices {
		for _, img := range choice.Message.Images {
			if url := strings.TrimSpace(img.ImageURL.URL); url != "" {
				return imageFromURL(url)
			}
		}
	}
	for _, item := range resp.Data {
		if encoded := strings.TrimSpace(item.B64JSON); encoded != "" {
			data, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil || len(data) == 0 {
				return queue.Image{}, malformed("decode", "undecodable image data", err)
			}
			return queue.Image{MIMEType: queue.SniffMIME(data), Data: data}, nil
		}
		if url := strings.TrimSpace(item.URL); url != "" {
			return imageFromURL(url)
		}
	}
	return queue.Image{}, malformed("decode", "response contained no image", nil)
}

func imageFromURL(url string) (queue.Image, error) {
	lower := strings.ToLower(url)
	switch {
	case strings.HasPrefix(lower, "data:"):
		return parseDataURL(url)
	case strings.HasPrefix(lower, "https://"), strings.HasPrefix(lower, "http://"):
		return queue.Image{URL: url}, nil
	default:
		return queue.Image{}, malformed("decode", "unsupported image reference", nil)
	}
}

// parseDataURL decodes "data:<mime>;base64,<payload>".
func parseDataURL(url string) (queue.Image, error) {
	header, payload, ok := strings.Cut(url[len("data:"):], ",")
	if !ok {
		return queue.Image{}, malformed("decode", "data url without payload", nil)
	}
	mimeType, encoding, _ := strings.Cut(header, ";")
	if !strings.EqualFold(strings.TrimSpace(encoding), "base64") {
		return queue.Image{}, malformed("decode", "data url is not base64", nil)
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil || len(data) == 0 {
		return queue.Image{}, malformed("decode", "undecodable image data", err)
	}
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		mimeType = queue.SniffMIME(data)
	}
	return queue.Image{MIMEType: mimeType, Data: data}, nil
}

func resultName(sourceName, mimeType string) string {
	base := strings.TrimSuffix(sourceName, path.Ext(sourceName))
	if strings.TrimSpace(base) == "" {
		base = "image"
	}
	ext := ".png"
	switch mimeType {
	case "image/jpeg":
		ext = ".jpg"
	case "image/webp":
		ext = ".webp"
	case "image/gif":
		ext = ".gif"
	}
	return base + "-reimagined" + ext
}

func malformed(operation, message string, err error) error {
	return services.Wrap(services.ErrMalformedResponse, stage.NameGeneration, operation, message, err)
}

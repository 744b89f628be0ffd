package openrouter

// Message is one chat message. Content holds text and image parts.
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart is a multimodal message part.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references an image by http(s) URL or data URL.
type ImageURL struct {
	URL string `json:"url"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

// ImagePart builds an image content part.
func ImagePart(url string) ContentPart {
	return ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: url}}
}

// ChatRequest is the chat completions request body.
type ChatRequest struct {
	Model       string       `json:"model"`
	Messages    []Message    `json:"messages"`
	Stream      bool         `json:"stream,omitempty"`
	Modalities  []string     `json:"modalities,omitempty"`
	ImageConfig *ImageConfig `json:"image_config,omitempty"`
}

// ImageConfig carries image output parameters.
type ImageConfig struct {
	AspectRatio string `json:"aspect_ratio,omitempty"`
}

// APIError is the error object providers embed in response bodies and
// stream chunks.
type APIError struct {
	Message string `json:"message"`
	Code    any    `json:"code,omitempty"`
}

// UserMessage builds a single user message from parts.
func UserMessage(parts ...ContentPart) Message {
	return Message{Role: "user", Content: parts}
}

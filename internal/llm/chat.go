package llm

import (
	"encoding/base64"

	"github.com/spherical/ocr-bench/internal/domain"
)

// OCRPrompt is the instruction sent along with every page image
const OCRPrompt = "Please extract all text from this image. Return only the extracted text without any additional formatting or explanations."

// TextPrompt is used when a page arrives as extracted text instead of an image
const TextPrompt = "The following is the text layer of a document page. Return it as clean plain text without any additional formatting or explanations."

// Message represents a chat message
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart represents a part of message content (text or image)
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL represents an image URL in the message
type ImageURL struct {
	URL string `json:"url"`
}

// StreamOptions asks streaming backends to report usage in the final chunk
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// Request represents a chat/completions request
type Request struct {
	Model         string         `json:"model,omitempty"`
	Messages      []Message      `json:"messages"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
}

// Response represents a chat/completions response or stream chunk
type Response struct {
	ID      string   `json:"id"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice represents a single completion choice
type Choice struct {
	Delta        Delta  `json:"delta"`
	Message      Delta  `json:"message"`
	FinishReason string `json:"finish_reason"`
}

// Delta represents a message body or a streamed fragment of one
type Delta struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

// Usage is the token accounting block of a response
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Domain converts the wire usage block, filling a missing total.
func (u *Usage) Domain() domain.Usage {
	if u == nil {
		return domain.Usage{}
	}
	total := u.TotalTokens
	if total == 0 {
		total = u.PromptTokens + u.CompletionTokens
	}
	return domain.Usage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		TotalTokens:  total,
	}
}

// ImageDataURL encodes image bytes as a base64 data URL.
func ImageDataURL(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// BuildOCRMessages builds the single user message for one page. Pages that
// carry only text are sent as text with TextPrompt.
func BuildOCRMessages(page domain.PageContent) []Message {
	if !page.HasImage() {
		return []Message{{
			Role: "user",
			Content: []ContentPart{
				{Type: "text", Text: TextPrompt},
				{Type: "text", Text: page.Text},
			},
		}}
	}

	return []Message{{
		Role: "user",
		Content: []ContentPart{
			{Type: "text", Text: OCRPrompt},
			{Type: "image_url", ImageURL: &ImageURL{URL: ImageDataURL(page.MIMEType, page.Image)}},
		},
	}}
}

// FirstContent returns the message text of the first choice.
func (r *Response) FirstContent() (string, bool) {
	if len(r.Choices) == 0 {
		return "", false
	}
	return r.Choices[0].Message.Content, true
}

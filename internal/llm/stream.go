package llm

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// StreamParser handles parsing of Server-Sent Events (SSE) streams
type StreamParser struct {
	scanner *bufio.Scanner
}

// NewStreamParser creates a new stream parser
func NewStreamParser(reader io.Reader) *StreamParser {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &StreamParser{scanner: scanner}
}

// StreamChunk represents a single chunk from the stream
type StreamChunk struct {
	Content      string
	FinishReason string
	Usage        *Usage
	Done         bool
}

// Next reads the next chunk from the stream
func (p *StreamParser) Next() (*StreamChunk, error) {
	for p.scanner.Scan() {
		line := p.scanner.Text()

		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")

		if data == "[DONE]" {
			return &StreamChunk{Done: true}, nil
		}

		var resp Response
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			// Skip invalid JSON lines
			continue
		}

		chunk := &StreamChunk{Usage: resp.Usage}
		if len(resp.Choices) > 0 {
			chunk.Content = resp.Choices[0].Delta.Content
			chunk.FinishReason = resp.Choices[0].FinishReason
		}
		return chunk, nil
	}

	if err := p.scanner.Err(); err != nil {
		return nil, err
	}

	return &StreamChunk{Done: true}, nil
}

// ParseAll reads the whole stream and returns the concatenated content and
// the last usage block seen. Usage arrives after the finish_reason chunk on
// backends that report it, so parsing runs until [DONE] or EOF.
func (p *StreamParser) ParseAll() (string, *Usage, error) {
	var content strings.Builder
	var usage *Usage

	for {
		chunk, err := p.Next()
		if err != nil {
			return content.String(), usage, err
		}

		content.WriteString(chunk.Content)
		if chunk.Usage != nil {
			usage = chunk.Usage
		}

		if chunk.Done {
			break
		}
	}

	return content.String(), usage, nil
}

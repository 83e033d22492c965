package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Content is one item of a response envelope.
type Content struct {
	// Type is "text" or "image".
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     []byte `json:"data,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
}

// Response is the uniform envelope every call produces. Callers must check
// IsError; failures are never reported any other way.
type Response struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}

func textResponse(format string, a ...any) *Response {
	return &Response{Content: []Content{{Type: "text", Text: fmt.Sprintf(format, a...)}}}
}

func jsonResponse(v any) (*Response, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return &Response{Content: []Content{{Type: "text", Text: string(data)}}}, nil
}

func errorResponse(text string) *Response {
	return &Response{Content: []Content{{Type: "text", Text: text}}, IsError: true}
}

func (r *Response) appendText(text string) {
	r.Content = append(r.Content, Content{Type: "text", Text: text})
}

func (r *Response) appendImage(data []byte, mime string) {
	r.Content = append(r.Content, Content{Type: "image", Data: data, MIMEType: mime})
}

// Text joins the text items of the response.
func (r *Response) Text() string {
	var parts []string
	for _, c := range r.Content {
		if c.Type == "text" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

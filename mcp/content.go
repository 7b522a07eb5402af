package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ContentType represents the type of content in messages.
type ContentType string

// ContentType represents the type of content in messages.
const (
	ContentTypeText     ContentType = "text"
	ContentTypeImage    ContentType = "image"
	ContentTypeAudio    ContentType = "audio"
	ContentTypeResource ContentType = "resource"
)

// Content is one item of a tool result. The concrete type is one of TextContent,
// ImageContent, AudioContent or EmbeddedResource, selected by the "type" field on the wire.
type Content interface {
	ContentType() ContentType
}

// TextContent is plain text produced by a tool.
type TextContent struct {
	Text string `json:"text"`
}

// ImageContent is a base64 encoded image.
type ImageContent struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

// AudioContent is base64 encoded audio.
type AudioContent struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

// EmbeddedResource carries resource contents inline in a tool result.
type EmbeddedResource struct {
	Resource ResourceContents `json:"resource"`
}

// ContentType implements Content.
func (TextContent) ContentType() ContentType { return ContentTypeText }

// ContentType implements Content.
func (ImageContent) ContentType() ContentType { return ContentTypeImage }

// ContentType implements Content.
func (AudioContent) ContentType() ContentType { return ContentTypeAudio }

// ContentType implements Content.
func (EmbeddedResource) ContentType() ContentType { return ContentTypeResource }

// Contents is the content list of a tool result. It decodes each element into the
// variant named by its "type" field.
type Contents []Content

// UnmarshalJSON implements json.Unmarshaler.
func (c *Contents) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}

	out := make(Contents, 0, len(raws))
	for i, raw := range raws {
		var head struct {
			Type ContentType `json:"type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return fmt.Errorf("content %d: %w", i, err)
		}

		var (
			item Content
			err  error
		)
		switch head.Type {
		case ContentTypeText:
			var v TextContent
			err = json.Unmarshal(raw, &v)
			item = v
		case ContentTypeImage:
			var v ImageContent
			err = json.Unmarshal(raw, &v)
			item = v
		case ContentTypeAudio:
			var v AudioContent
			err = json.Unmarshal(raw, &v)
			item = v
		case ContentTypeResource:
			var v EmbeddedResource
			err = json.Unmarshal(raw, &v)
			item = v
		default:
			return fmt.Errorf("content %d: unknown content type %q", i, head.Type)
		}
		if err != nil {
			return fmt.Errorf("content %d: %w", i, err)
		}
		out = append(out, item)
	}

	*c = out
	return nil
}

// MarshalJSON implements json.Marshaler, adding the "type" discriminator to every element.
func (c Contents) MarshalJSON() ([]byte, error) {
	items := make([]json.RawMessage, 0, len(c))
	for _, item := range c {
		bs, err := json.Marshal(item)
		if err != nil {
			return nil, err
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(bs, &fields); err != nil {
			return nil, err
		}
		typ, err := json.Marshal(item.ContentType())
		if err != nil {
			return nil, err
		}
		fields["type"] = typ
		bs, err = json.Marshal(fields)
		if err != nil {
			return nil, err
		}
		items = append(items, bs)
	}
	return json.Marshal(items)
}

// Text concatenates all text items of the list, separated by newlines.
func (c Contents) Text() string {
	var parts []string
	for _, item := range c {
		if t, ok := item.(TextContent); ok {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ResourceContents represents either text or blob resource contents. Exactly one of
// Text or Blob is set.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// IsBlob reports whether the contents are base64 binary rather than text.
func (r ResourceContents) IsBlob() bool {
	return r.Blob != ""
}

// ToolError reports a tool call the server answered with isError set.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tool %s returned an error result", e.Tool)
	}
	return fmt.Sprintf("tool %s returned an error result: %s", e.Tool, e.Message)
}

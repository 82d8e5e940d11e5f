package types

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
)

// Role identifies who produced a piece of content.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleModel     Role = "model"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartKind tags the variant held by a Part.
type PartKind string

const (
	PartKindText             PartKind = "text"
	PartKindInlineData       PartKind = "inline_data"
	PartKindFunctionCall     PartKind = "function_call"
	PartKindFunctionResponse PartKind = "function_response"
)

// Blob is binary data carried inline with its MIME type.
type Blob struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// FunctionCall is a tool invocation emitted by a model.
type FunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// FunctionResponse is the result handed back for a FunctionCall.
type FunctionResponse struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response,omitempty"`
}

// Part is one element of a Content. Exactly one payload field is set,
// selected by Kind. Only text parts are inspected by guardrails.
type Part struct {
	Kind             PartKind          `json:"kind"`
	Text             string            `json:"text,omitempty"`
	InlineData       *Blob             `json:"inline_data,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
}

// NewTextPart creates a text part.
func NewTextPart(text string) Part {
	return Part{Kind: PartKindText, Text: text}
}

// NewInlineDataPart creates a binary part. The data is copied.
func NewInlineDataPart(mimeType string, data []byte) Part {
	return Part{Kind: PartKindInlineData, InlineData: &Blob{MIMEType: mimeType, Data: bytes.Clone(data)}}
}

// NewFunctionCallPart creates a function call part.
func NewFunctionCallPart(name string, args json.RawMessage) Part {
	return Part{Kind: PartKindFunctionCall, FunctionCall: &FunctionCall{Name: name, Args: cloneRaw(args)}}
}

// NewFunctionResponsePart creates a function response part.
func NewFunctionResponsePart(name string, response json.RawMessage) Part {
	return Part{Kind: PartKindFunctionResponse, FunctionResponse: &FunctionResponse{Name: name, Response: cloneRaw(response)}}
}

// AsText returns the text payload and whether the part is a text part.
func (p Part) AsText() (string, bool) {
	if p.Kind != PartKindText {
		return "", false
	}
	return p.Text, true
}

// IsText reports whether the part is a text part.
func (p Part) IsText() bool {
	return p.Kind == PartKindText
}

// Clone returns a deep copy of the part.
func (p Part) Clone() Part {
	out := Part{Kind: p.Kind, Text: p.Text}
	if p.InlineData != nil {
		out.InlineData = &Blob{MIMEType: p.InlineData.MIMEType, Data: bytes.Clone(p.InlineData.Data)}
	}
	if p.FunctionCall != nil {
		out.FunctionCall = &FunctionCall{Name: p.FunctionCall.Name, Args: cloneRaw(p.FunctionCall.Args)}
	}
	if p.FunctionResponse != nil {
		out.FunctionResponse = &FunctionResponse{Name: p.FunctionResponse.Name, Response: cloneRaw(p.FunctionResponse.Response)}
	}
	return out
}

// Equal compares two parts by value.
func (p Part) Equal(o Part) bool {
	if p.Kind != o.Kind || p.Text != o.Text {
		return false
	}
	switch {
	case (p.InlineData == nil) != (o.InlineData == nil):
		return false
	case p.InlineData != nil && (p.InlineData.MIMEType != o.InlineData.MIMEType || !bytes.Equal(p.InlineData.Data, o.InlineData.Data)):
		return false
	}
	switch {
	case (p.FunctionCall == nil) != (o.FunctionCall == nil):
		return false
	case p.FunctionCall != nil && (p.FunctionCall.Name != o.FunctionCall.Name || !jsonEqual(p.FunctionCall.Args, o.FunctionCall.Args)):
		return false
	}
	switch {
	case (p.FunctionResponse == nil) != (o.FunctionResponse == nil):
		return false
	case p.FunctionResponse != nil && (p.FunctionResponse.Name != o.FunctionResponse.Name || !jsonEqual(p.FunctionResponse.Response, o.FunctionResponse.Response)):
		return false
	}
	return true
}

// Content is a conversational payload: a role plus ordered parts.
//
// Content is treated as an immutable value. Every helper returns a new
// Content backed by a fresh Parts slice, so a value handed to concurrent
// readers is never modified underneath them.
type Content struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// NewContent creates an empty content for the given role.
func NewContent(role Role) Content {
	return Content{Role: role, Parts: []Part{}}
}

// NewTextContent creates a content holding a single text part.
func NewTextContent(role Role, text string) Content {
	return NewContent(role).WithText(text)
}

// WithPart returns a copy of c with p appended.
func (c Content) WithPart(p Part) Content {
	parts := make([]Part, 0, len(c.Parts)+1)
	for _, existing := range c.Parts {
		parts = append(parts, existing.Clone())
	}
	parts = append(parts, p.Clone())
	return Content{Role: c.Role, Parts: parts}
}

// WithText returns a copy of c with a text part appended.
func (c Content) WithText(text string) Content {
	return c.WithPart(NewTextPart(text))
}

// Text joins all text parts with a single space.
func (c Content) Text() string {
	texts := make([]string, 0, len(c.Parts))
	for _, p := range c.Parts {
		if t, ok := p.AsText(); ok {
			texts = append(texts, t)
		}
	}
	return strings.Join(texts, " ")
}

// Clone returns a deep copy of c.
func (c Content) Clone() Content {
	parts := make([]Part, len(c.Parts))
	for i, p := range c.Parts {
		parts[i] = p.Clone()
	}
	return Content{Role: c.Role, Parts: parts}
}

// MapText applies fn to every text part and returns the resulting content
// together with whether any text changed. Non-text parts are carried over
// untouched. c itself is never modified.
func (c Content) MapText(fn func(string) string) (Content, bool) {
	out := Content{Role: c.Role, Parts: make([]Part, len(c.Parts))}
	changed := false
	for i, p := range c.Parts {
		if t, ok := p.AsText(); ok {
			mapped := fn(t)
			if mapped != t {
				changed = true
			}
			out.Parts[i] = NewTextPart(mapped)
			continue
		}
		out.Parts[i] = p.Clone()
	}
	return out, changed
}

// Equal reports whether c and o hold the same value. A nil Parts slice and
// an empty one are considered equal.
func (c Content) Equal(o Content) bool {
	if c.Role != o.Role || len(c.Parts) != len(o.Parts) {
		return false
	}
	for i := range c.Parts {
		if !c.Parts[i].Equal(o.Parts[i]) {
			return false
		}
	}
	return true
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return bytes.Clone(raw)
}

// jsonEqual compares two JSON documents semantically, falling back to a
// byte comparison when either side does not parse.
func jsonEqual(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return false
	}
	return reflect.DeepEqual(va, vb)
}

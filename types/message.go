// Package types defines the data model shared by every bounded structure in
// the memory subsystem: messages, tool calls, and their content parts.
package types

import (
	"time"

	"github.com/solstice-labs/agentmem/internal/sizeutil"
)

// Kind identifies the role of a Message in a conversation, matching the
// vocabulary of spec §3: human, assistant, tool, system.
type Kind string

// Message kinds.
const (
	KindHuman     Kind = "human"
	KindAssistant Kind = "assistant"
	KindTool      Kind = "tool"
	KindSystem    Kind = "system"
)

// Message is an ordered element of a conversation. Messages are never
// mutated in place once appended; they are evicted only by the streaming
// reducer (msgreducer.Reduce).
type Message struct {
	ID        string        `json:"id,omitempty"`
	Kind      Kind          `json:"kind"`
	Content   string        `json:"content"`
	Parts     []ContentPart `json:"parts,omitempty"`
	ToolCalls []ToolCall    `json:"tool_calls,omitempty"`
	Timestamp time.Time     `json:"timestamp,omitempty"`

	// cachedSize memoizes ByteSize so repeated reducer passes over the same
	// message don't re-walk Parts/ToolCalls. Zero means "not yet computed".
	cachedSize int
}

// ContentPart is one piece of a multi-part message body. The memory
// subsystem only ever deals with text fragments (code, patches, command
// output) — binary/media content belongs to the excluded LLM-provider and
// media-pipeline layers (see SPEC_FULL.md domain stack notes).
type ContentPart struct {
	Text string `json:"text"`
}

// Text returns the effective textual content of the message: Parts
// concatenated when present, otherwise Content.
func (m *Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var out string
	for _, p := range m.Parts {
		out += p.Text
	}
	return out
}

// ByteSize returns the message's approximate serialized byte footprint,
// memoized after first computation. Reducers treat this as the unit of
// account for MaxTotalBytes invariants.
func (m *Message) ByteSize() int {
	if m.cachedSize > 0 {
		return m.cachedSize
	}
	size := sizeutil.ByteLen(m.Content) + sizeutil.ByteLen(string(m.Kind)) + sizeutil.ByteLen(m.ID)
	for _, p := range m.Parts {
		size += sizeutil.ByteLen(p.Text)
	}
	for _, tc := range m.ToolCalls {
		size += tc.byteSize()
	}
	m.cachedSize = size
	return size
}

// HasToolCalls reports whether the message carries any tool invocations.
func (m *Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

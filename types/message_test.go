package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageText(t *testing.T) {
	m := Message{Content: "plain"}
	assert.Equal(t, "plain", m.Text())

	m2 := Message{Parts: []ContentPart{{Text: "foo"}, {Text: "bar"}}}
	assert.Equal(t, "foobar", m2.Text())
}

func TestMessageByteSizeMemoized(t *testing.T) {
	m := Message{Kind: KindHuman, Content: "hello world"}
	size1 := m.ByteSize()
	assert.Greater(t, size1, 0)
	size2 := m.ByteSize()
	assert.Equal(t, size1, size2)
}

func TestMessageHasToolCalls(t *testing.T) {
	m := Message{}
	assert.False(t, m.HasToolCalls())
	m.ToolCalls = []ToolCall{{Name: "read_file"}}
	assert.True(t, m.HasToolCalls())
}

func TestToolCallByteSizeIncludesArguments(t *testing.T) {
	tc := ToolCall{Name: "write_file", Path: "/a/b.go", Content: "package main"}
	msg := Message{ToolCalls: []ToolCall{tc}}
	assert.Greater(t, msg.ByteSize(), len(tc.Content))
}

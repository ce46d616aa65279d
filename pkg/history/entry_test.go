package history

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapDerivesKind(t *testing.T) {
	tests := []struct {
		name    string
		content map[string]any
		want    Kind
	}{
		{
			name:    "user message",
			content: map[string]any{KeyRole: RoleUser, KeyContent: []map[string]any{}},
			want:    KindUserMessage,
		},
		{
			name:    "assistant message",
			content: map[string]any{KeyType: TypeMessage, KeyRole: RoleAssistant},
			want:    KindAssistantMessage,
		},
		{
			name:    "function call",
			content: map[string]any{KeyType: TypeFunctionCall, KeyName: "get_todos"},
			want:    KindToolCall,
		},
		{
			name:    "custom tool call",
			content: map[string]any{KeyType: TypeCustomToolCall, KeyName: "grep"},
			want:    KindToolCall,
		},
		{
			name:    "function call output",
			content: map[string]any{KeyType: TypeFunctionCallOutput, KeyCallID: "c1"},
			want:    KindToolResult,
		},
		{
			name:    "reasoning",
			content: map[string]any{KeyType: TypeReasoning, KeySummary: []any{}},
			want:    KindReasoningNote,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Wrap(tt.content)
			assert.Equal(t, tt.want, e.Kind)
			assert.NotEmpty(t, e.ID)
			assert.False(t, e.Timestamp.IsZero())
			assert.Greater(t, e.Size, 0)
		})
	}
}

func TestNewUserEntrySingleEntryWithInlineParts(t *testing.T) {
	dir := t.TempDir()
	notes := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("remember the milk"), 0o644))

	e := NewUserEntry("what do my notes say?", []Attachment{
		{FilePath: notes},
		{ImageB64: "aGVsbG8="},
	})

	assert.Equal(t, KindUserMessage, e.Kind)
	assert.Equal(t, RoleUser, e.Content[KeyRole])

	parts, ok := e.Content[KeyContent].([]map[string]any)
	require.True(t, ok)
	require.Len(t, parts, 3)

	// files first, then the message, then images
	assert.Equal(t, PartInputText, parts[0][KeyType])
	assert.Contains(t, parts[0][KeyText], "notes.txt")
	assert.Contains(t, parts[0][KeyText], "remember the milk")

	assert.Equal(t, PartInputText, parts[1][KeyType])
	assert.Equal(t, "what do my notes say?", parts[1][KeyText])

	assert.Equal(t, PartInputImage, parts[2][KeyType])
	assert.Equal(t, "data:image/png;base64,aGVsbG8=", parts[2][KeyImageURL])
}

func TestNewUserEntryMissingFile(t *testing.T) {
	e := NewUserEntry("hi", []Attachment{{FilePath: "/does/not/exist.txt"}})
	parts := e.Content[KeyContent].([]map[string]any)
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0][KeyText], "error reading")
}

func TestUnwrapPreservesOrder(t *testing.T) {
	entries := []Entry{
		NewUserEntry("hello", nil),
		NewToolCallEntry("c1", "get_todos", "{}"),
		NewToolResultEntry("c1", `{"status":"success"}`),
		NewAssistantTextEntry("done"),
	}

	items := Unwrap(entries)
	require.Len(t, items, 4)
	assert.Equal(t, RoleUser, items[0][KeyRole])
	assert.Equal(t, TypeFunctionCall, items[1][KeyType])
	assert.Equal(t, TypeFunctionCallOutput, items[2][KeyType])
	assert.Equal(t, TypeMessage, items[3][KeyType])
}

func TestItemText(t *testing.T) {
	e := NewAssistantTextEntry("the answer")
	assert.Equal(t, "the answer", ItemText(e.Content))

	// decoded-from-JSON shape uses []any
	item := map[string]any{
		KeyType: TypeMessage,
		KeyContent: []any{
			map[string]any{KeyType: PartOutputText, KeyText: "a"},
			map[string]any{KeyType: PartOutputText, KeyText: "b"},
		},
	}
	assert.Equal(t, "ab", ItemText(item))

	assert.Equal(t, "", ItemText(map[string]any{KeyType: TypeFunctionCall}))
}

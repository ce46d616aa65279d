package history

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a transcript entry.
type Kind string

const (
	KindUserMessage      Kind = "user-message"
	KindAssistantMessage Kind = "assistant-message"
	KindToolCall         Kind = "tool-call"
	KindToolResult       Kind = "tool-result"
	KindReasoningNote    Kind = "reasoning-note"
)

// Entry is one durable transcript record: a stable id and timestamp
// wrapped around the provider-native content item. Content round-trips
// untouched, so a stored transcript can be fed back as request context.
type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"ts"`
	Kind      Kind           `json:"kind"`
	Size      int            `json:"size"`
	Content   map[string]any `json:"content"`
}

// Wrap envelopes a provider-native content item. The kind is derived from
// the item's shape and the size is the JSON byte length of the content.
func Wrap(content map[string]any) Entry {
	return Entry{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Kind:      deriveKind(content),
		Size:      contentSize(content),
		Content:   content,
	}
}

func deriveKind(content map[string]any) Kind {
	typ, _ := content[KeyType].(string)
	switch typ {
	case TypeFunctionCall, TypeCustomToolCall:
		return KindToolCall
	case TypeFunctionCallOutput:
		return KindToolResult
	case TypeReasoning:
		return KindReasoningNote
	}
	if role, _ := content[KeyRole].(string); role == RoleUser {
		return KindUserMessage
	}
	return KindAssistantMessage
}

func contentSize(content map[string]any) int {
	b, err := json.Marshal(content)
	if err != nil {
		return 0
	}
	return len(b)
}

// Unwrap strips the envelopes, returning the provider-native items in
// order.
func Unwrap(entries []Entry) []map[string]any {
	items := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		items = append(items, e.Content)
	}
	return items
}

// Attachment is extra input accompanying a user message. Exactly one of
// FilePath and ImageB64 is set. Attachments render as inline content parts
// of the single user-message entry, never as separate entries.
type Attachment struct {
	// FilePath points at a local file (or directory) whose contents are
	// inlined as a labeled text part.
	FilePath string
	// ImageB64 is a base64-encoded image rendered as a data-URL image part.
	ImageB64 string
	// MediaType qualifies ImageB64. Defaults to image/png.
	MediaType string
}

// Image is a picture produced by the backend during a run.
type Image struct {
	ItemID    string `json:"item_id,omitempty"`
	B64       string `json:"b64"`
	MediaType string `json:"media_type,omitempty"`
}

// NewUserEntry builds the turn-1 user entry: file attachments first, then
// the message text, then image attachments, all inside one content list.
func NewUserEntry(message string, attachments []Attachment) Entry {
	content := []map[string]any{}

	var fileParts []string
	for _, att := range attachments {
		if att.FilePath == "" {
			continue
		}
		fileParts = append(fileParts, renderFileAttachment(att.FilePath))
	}
	if len(fileParts) > 0 {
		content = append(content, map[string]any{
			KeyType: PartInputText,
			KeyText: "Attached files:\n\n" + strings.Join(fileParts, "\n\n") + "\n\n",
		})
	}

	if strings.TrimSpace(message) != "" {
		content = append(content, map[string]any{
			KeyType: PartInputText,
			KeyText: message,
		})
	}

	for _, att := range attachments {
		if att.ImageB64 == "" {
			continue
		}
		mediaType := att.MediaType
		if mediaType == "" {
			mediaType = "image/png"
		}
		content = append(content, map[string]any{
			KeyType:     PartInputImage,
			KeyImageURL: fmt.Sprintf("data:%s;base64,%s", mediaType, att.ImageB64),
		})
	}

	return Wrap(map[string]any{
		KeyRole:    RoleUser,
		KeyContent: content,
	})
}

const maxDirectoryListing = 50

func renderFileAttachment(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Sprintf("--- File: %s (error reading: %v) ---", path, err)
	}
	if info.IsDir() {
		var files []string
		_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if len(files) >= maxDirectoryListing {
				return filepath.SkipAll
			}
			files = append(files, p)
			return nil
		})
		return fmt.Sprintf("--- Directory: %s ---\nFiles:\n%s\n--- End of directory ---",
			path, strings.Join(files, "\n"))
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Sprintf("--- File: %s (error reading: %v) ---", path, err)
	}
	return fmt.Sprintf("--- File: %s ---\n%s\n--- End of %s ---", path, string(b), path)
}

// NewToolCallEntry records a backend tool request.
func NewToolCallEntry(callID, name, arguments string) Entry {
	return Wrap(map[string]any{
		KeyType:      TypeFunctionCall,
		KeyCallID:    callID,
		KeyName:      name,
		KeyArguments: arguments,
	})
}

// NewToolResultEntry records the serialized outcome of a tool call,
// correlated by call id.
func NewToolResultEntry(callID, output string) Entry {
	return Wrap(map[string]any{
		KeyType:   TypeFunctionCallOutput,
		KeyCallID: callID,
		KeyOutput: output,
	})
}

// NewAssistantTextEntry builds an assistant message item with a single
// text part.
func NewAssistantTextEntry(text string) Entry {
	return Wrap(map[string]any{
		KeyType: TypeMessage,
		KeyRole: RoleAssistant,
		KeyContent: []map[string]any{
			{KeyType: PartOutputText, KeyText: text},
		},
	})
}

// ItemText concatenates the text parts of a message item. Non-message
// items yield "".
func ItemText(item map[string]any) string {
	parts, ok := item[KeyContent].([]any)
	if !ok {
		// Items built locally hold typed slices; items decoded from JSON
		// hold []any.
		typed, ok2 := item[KeyContent].([]map[string]any)
		if !ok2 {
			return ""
		}
		var sb strings.Builder
		for _, p := range typed {
			if s, ok := p[KeyText].(string); ok {
				sb.WriteString(s)
			}
		}
		return sb.String()
	}
	var sb strings.Builder
	for _, p := range parts {
		pm, ok := p.(map[string]any)
		if !ok {
			continue
		}
		if s, ok := pm[KeyText].(string); ok {
			sb.WriteString(s)
		}
	}
	return sb.String()
}

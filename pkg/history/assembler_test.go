package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssemblerSeedAndAppend(t *testing.T) {
	a := NewAssembler()
	assert.Equal(t, 0, a.Len())

	seed := a.Seed("hello", nil)
	assert.Equal(t, KindUserMessage, seed.Kind)
	assert.Equal(t, 1, a.Len())

	a.AppendContent(map[string]any{
		KeyType:      TypeFunctionCall,
		KeyCallID:    "c1",
		KeyName:      "get_todos",
		KeyArguments: "{}",
	})
	a.Append(NewToolResultEntry("c1", `{"status":"success"}`))
	require.Equal(t, 3, a.Len())

	items := a.Items()
	assert.Equal(t, RoleUser, items[0][KeyRole])
	assert.Equal(t, TypeFunctionCall, items[1][KeyType])
	assert.Equal(t, TypeFunctionCallOutput, items[2][KeyType])
}

func TestAssemblerEntriesReturnsDeepCopy(t *testing.T) {
	a := NewAssembler()
	a.Seed("hello", nil)

	snapshot := a.Entries()
	require.Len(t, snapshot, 1)
	snapshot[0].Content[KeyRole] = "tampered"

	fresh := a.Entries()
	assert.Equal(t, RoleUser, fresh[0].Content[KeyRole])
}

func TestAssemblerImages(t *testing.T) {
	a := NewAssembler()
	assert.Empty(t, a.Images())

	a.AddImage(Image{ItemID: "img-1", B64: "aGVsbG8="})
	imgs := a.Images()
	require.Len(t, imgs, 1)
	assert.Equal(t, "img-1", imgs[0].ItemID)
}

func TestAssemblerEmptyEntriesNotNil(t *testing.T) {
	a := NewAssembler()
	assert.NotNil(t, a.Entries())
	assert.Empty(t, a.Entries())
}

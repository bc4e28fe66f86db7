package thread

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(id, parent, role, content string) Message {
	return Message{ID: id, ParentID: parent, Role: role, Content: content}
}

func TestPathRootToLeaf(t *testing.T) {
	conv := NewConversation()
	conv.Append(msg("1", "", "user", "hello"))
	conv.Append(msg("2", "1", "assistant", "hi"))
	conv.Append(msg("3", "2", "user", "how are you"))

	path := conv.Path("3")
	require.Len(t, path, 3)

	// Root first, leaf last, every adjacent pair linked.
	assert.Equal(t, "1", path[0].ID)
	assert.Equal(t, "3", path[2].ID)
	for i := 1; i < len(path); i++ {
		assert.Equal(t, path[i-1].ID, path[i].ParentID)
	}
}

func TestPathIgnoresSiblingBranches(t *testing.T) {
	// Two replies branch off message 1; resolving from one leaf must not
	// pick up the other branch.
	conv := NewConversation()
	conv.Append(msg("1", "", "user", "hello"))
	conv.Append(msg("2a", "1", "assistant", "first answer"))
	conv.Append(msg("2b", "1", "assistant", "regenerated answer"))
	conv.Append(msg("3", "2b", "user", "go on"))

	path := conv.Path("3")
	require.Len(t, path, 3)
	assert.Equal(t, []string{"1", "2b", "3"}, []string{path[0].ID, path[1].ID, path[2].ID})
}

func TestPathDanglingParentTruncates(t *testing.T) {
	conv := NewConversation()
	conv.Append(msg("2", "missing", "user", "orphaned"))
	conv.Append(msg("3", "2", "assistant", "reply"))

	// The chain stops where the lookup fails — no error.
	path := conv.Path("3")
	require.Len(t, path, 2)
	assert.Equal(t, "2", path[0].ID)
}

func TestPathUnknownLeafIsEmpty(t *testing.T) {
	conv := NewConversation()
	conv.Append(msg("1", "", "user", "hello"))
	conv.Append(msg("2", "1", "assistant", "hi"))

	assert.Empty(t, conv.Path("3"))
}

func TestAppendPreservesCreationOrder(t *testing.T) {
	conv := NewConversation()
	// Insertion order deliberately disagrees with tree order.
	conv.Append(msg("b", "a", "assistant", ""))
	conv.Append(msg("a", "", "user", ""))

	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "b", conv.Messages[0].ID)
	assert.Equal(t, "a", conv.Messages[1].ID)

	path := conv.Path("b")
	require.Len(t, path, 2)
	assert.Equal(t, "a", path[0].ID)
}

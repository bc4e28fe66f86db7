package assembler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howard-nolan/chatgateway/internal/backend"
	"github.com/howard-nolan/chatgateway/internal/thread"
)

func chatProfile() backend.Profile {
	return backend.Profiles()["openai-chat"]
}

func msg(id, role, content string) thread.Message {
	return thread.Message{ID: id, Role: role, Content: content}
}

func TestAssembleContinuationMasking(t *testing.T) {
	// Five alternating turns: only the middle user turn is masked; the
	// first and last user turns keep their content.
	path := []thread.Message{
		msg("1", "user", "first question"),
		msg("2", "assistant", "first answer"),
		msg("3", "user", "second question"),
		msg("4", "assistant", "second answer"),
		msg("5", "user", "third question"),
	}

	payload, used, err := New(chatProfile()).Assemble(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, payload.Messages, 5)

	assert.Equal(t, "first question", payload.Messages[0].Content)
	assert.Equal(t, "continue", payload.Messages[2].Content)
	assert.Equal(t, "third question", payload.Messages[4].Content)

	// Assistant turns are never masked.
	assert.Equal(t, "first answer", payload.Messages[1].Content)
	assert.Equal(t, "second answer", payload.Messages[3].Content)

	// The context list mirrors the transformed payload.
	require.Len(t, used, 5)
	assert.Equal(t, "continue", used[2].Content)
	assert.Equal(t, "3", used[2].ID)
}

func TestAssembleUnprotectedLastUser(t *testing.T) {
	// proxy-chat does not protect the triggering turn: every user turn
	// except the oldest is masked.
	path := []thread.Message{
		msg("1", "user", "first question"),
		msg("2", "assistant", "answer"),
		msg("3", "user", "follow-up"),
	}

	payload, _, err := New(backend.Profiles()["proxy-chat"]).Assemble(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, payload.Messages, 3)
	assert.Equal(t, "first question", payload.Messages[0].Content)
	assert.Equal(t, "continue", payload.Messages[2].Content)
}

func TestAssembleSingleSystemCollapse(t *testing.T) {
	path := []thread.Message{
		msg("1", "system", "you are helpful"),
		msg("2", "system", "be brief"),
		msg("3", "system", "answer in english"),
	}

	payload, _, err := New(chatProfile()).Assemble(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, payload.Messages, 3)

	assert.Equal(t, "system", payload.Messages[0].Role)
	assert.Equal(t, "assistant", payload.Messages[1].Role)
	assert.Equal(t, "assistant", payload.Messages[2].Role)
}

func TestAssembleDemotesAllSystemWhenDisabled(t *testing.T) {
	path := []thread.Message{
		msg("1", "system", "you are helpful"),
		msg("2", "user", "hi"),
	}

	payload, _, err := New(backend.Profiles()["davinci-raw"]).Assemble(context.Background(), path)
	require.NoError(t, err)
	assert.NotContains(t, payload.Prompt, "system:")
	assert.Contains(t, payload.Prompt, "assistant:\nyou are helpful")
}

func TestAssembleTextRendering(t *testing.T) {
	path := []thread.Message{
		msg("1", "user", "Hello"),
		msg("2", "assistant", "Hi there."),
	}

	payload, _, err := New(backend.Profiles()["openai-text"]).Assemble(context.Background(), path)
	require.NoError(t, err)

	want := "<|im_start|>user:\nHello<|im_end|>\n" +
		"<|im_start|>assistant:\nHi there.<|im_end|>\n" +
		"<|im_start|>assistant:\n"
	assert.Equal(t, want, payload.Prompt)
	assert.Empty(t, payload.Messages)
}

func TestAssembleEmptyPath(t *testing.T) {
	payload, used, err := New(backend.Profiles()["openai-text"]).Assemble(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, payload.Prompt)
	assert.Empty(t, payload.Messages)
	assert.Empty(t, used)
}

func TestAssembleYieldIsPureFairness(t *testing.T) {
	path := []thread.Message{
		msg("1", "system", "setup"),
		msg("2", "user", "a"),
		msg("3", "assistant", "b"),
		msg("4", "user", "c"),
	}

	plain := New(chatProfile())
	plain.Yield = nil
	got, _, err := plain.Assemble(context.Background(), append([]thread.Message(nil), path...))
	require.NoError(t, err)

	yields := 0
	counting := New(chatProfile())
	counting.Yield = func() { yields++ }
	withYield, _, err := counting.Assemble(context.Background(), append([]thread.Message(nil), path...))
	require.NoError(t, err)

	// One yield per message, identical output either way.
	assert.Equal(t, len(path), yields)
	assert.Equal(t, got, withYield)
}

func TestAssembleCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := New(chatProfile()).Assemble(ctx, []thread.Message{msg("1", "user", "hi")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAssembleDoesNotMutateInput(t *testing.T) {
	path := []thread.Message{
		msg("1", "user", "first"),
		msg("2", "assistant", "mid"),
		msg("3", "user", "middle user"),
		msg("4", "assistant", "mid2"),
		msg("5", "user", "last"),
	}
	original := append([]thread.Message(nil), path...)

	_, _, err := New(chatProfile()).Assemble(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, original, path)
}

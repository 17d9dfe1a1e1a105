package mention

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/moderation-engine/internal/model"
	"github.com/jwalitptl/moderation-engine/internal/repository/memory"
)

func user(id, name string) *model.User {
	return &model.User{ID: uuid.MustParse(id), DisplayName: name}
}

var (
	alice    = user("00000000-0000-0000-0000-00000000000a", "alice")
	aliceB   = user("00000000-0000-0000-0000-00000000000b", "AliceB")
	bob      = user("00000000-0000-0000-0000-0000000000b0", "bob")
	bobTwin  = user("00000000-0000-0000-0000-0000000000a0", "Bob")
	jose     = user("00000000-0000-0000-0000-0000000000c0", "José")
	spaced   = user("00000000-0000-0000-0000-0000000000d0", "Jane Doe")
	emptyOne = user("00000000-0000-0000-0000-0000000000e0", "")
)

func TestResolve_Basic(t *testing.T) {
	idx := NewIndex([]*model.User{alice, bob})
	got := Resolve("hi @alice and @bob!", idx)

	require.Len(t, got, 2)
	assert.Equal(t, model.Mention{UserID: alice.ID, DisplayName: "alice", StartIndex: 3, EndIndex: 9}, got[0])
	assert.Equal(t, model.Mention{UserID: bob.ID, DisplayName: "bob", StartIndex: 14, EndIndex: 18}, got[1])
}

func TestResolve_LongestPrefixWins(t *testing.T) {
	idx := NewIndex([]*model.User{alice, aliceB})

	got := Resolve("@aliceb ping", idx)
	require.Len(t, got, 1)
	assert.Equal(t, aliceB.ID, got[0].UserID)
	assert.Equal(t, 7, got[0].EndIndex)

	got = Resolve("@alicex", idx)
	require.Len(t, got, 1)
	assert.Equal(t, alice.ID, got[0].UserID, "shorter name still matches as a prefix")
	assert.Equal(t, 6, got[0].EndIndex)
}

func TestResolve_TieBreaksOnUserID(t *testing.T) {
	idx := NewIndex([]*model.User{bob, bobTwin})
	got := Resolve("@BOB", idx)

	require.Len(t, got, 1)
	assert.Equal(t, bobTwin.ID, got[0].UserID)
}

func TestResolve_NonMentions(t *testing.T) {
	idx := NewIndex([]*model.User{alice, spaced, emptyOne})

	assert.Empty(t, Resolve("mail alice@alice.com", idx), "@ inside a word is not a mention")
	assert.Empty(t, Resolve("@ alone", idx))
	assert.Empty(t, Resolve("@nobody here", idx))
	assert.Empty(t, Resolve("@Jane Doe", idx), "names with spaces can never match a token")
	assert.Empty(t, Resolve("", idx))
	assert.Empty(t, Resolve("@alice", nil))
}

func TestResolve_RuneOffsets(t *testing.T) {
	idx := NewIndex([]*model.User{jose, alice})
	text := "héllo @josé, @ALICE"
	got := Resolve(text, idx)

	require.Len(t, got, 2)
	runes := []rune(text)
	assert.Equal(t, "@josé", string(runes[got[0].StartIndex:got[0].EndIndex]))
	assert.Equal(t, "@ALICE", string(runes[got[1].StartIndex:got[1].EndIndex]))
}

func TestResolve_SpansAreOrderedAndDisjoint(t *testing.T) {
	idx := NewIndex([]*model.User{alice, aliceB, bob, bobTwin, jose})
	inputs := []string{
		"@alice@bob",
		"@alice @alice @aliceb@bob",
		"(@bob),@josé;@alice_x @@alice",
	}
	for _, text := range inputs {
		got := Resolve(text, idx)
		n := len([]rune(text))
		for i, m := range got {
			assert.GreaterOrEqual(t, m.StartIndex, 0)
			assert.LessOrEqual(t, m.EndIndex, n)
			assert.Less(t, m.StartIndex, m.EndIndex)
			if i > 0 {
				assert.GreaterOrEqual(t, m.StartIndex, got[i-1].EndIndex, "%q overlaps", text)
			}
		}
	}
}

func TestResolve_RepeatedMentionsAreAllReported(t *testing.T) {
	idx := NewIndex([]*model.User{alice})
	got := Resolve("@alice @alice", idx)
	assert.Len(t, got, 2)
}

func TestResolver_UsesDirectory(t *testing.T) {
	dir := memory.NewUserDirectory(*alice, *bob)
	got, err := NewResolver(dir).Resolve(context.Background(), "cc @bob")

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, bob.ID, got[0].UserID)
}

func TestResolve_DecomposedNames(t *testing.T) {
	// "José" spelled with a combining acute accent.
	decomposed := user("00000000-0000-0000-0000-0000000000f0", "Jose\u0301")
	idx := NewIndex([]*model.User{decomposed})

	got := Resolve("hi @Jose\u0301, welcome", idx)
	require.Len(t, got, 1)
	assert.Equal(t, decomposed.ID, got[0].UserID)
	assert.Equal(t, 3, got[0].StartIndex)
	assert.Equal(t, 9, got[0].EndIndex)
}

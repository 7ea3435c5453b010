package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJournalSetGetRoundTrip(t *testing.T) {
	key := NewJournalKey[int]("count")
	j := NewJournal()

	_, ok := GetJournal(j, key)
	assert.False(t, ok)

	ok = SetJournal(j, key, 42)
	assert.True(t, ok)

	v, ok := GetJournal(j, key)
	require := assert.New(t)
	require.True(ok)
	require.Equal(42, v)
}

func TestJournalSetWithoutOverrideIsNoOp(t *testing.T) {
	key := NewJournalKey[string]("name")
	j := NewJournal()

	assert.True(t, SetJournal(j, key, "a"))
	assert.False(t, SetJournal(j, key, "b"))

	v, _ := GetJournal(j, key)
	assert.Equal(t, "a", v)
}

func TestJournalSetWithOverrideReplaces(t *testing.T) {
	key := NewJournalKey[string]("name")
	j := NewJournal()

	assert.True(t, SetJournal(j, key, "a"))
	assert.True(t, SetJournal(j, key, "b", SetOptions{Override: true}))

	v, _ := GetJournal(j, key)
	assert.Equal(t, "b", v)
}

func TestJournalKeysAreIdentityScoped(t *testing.T) {
	keyA := NewJournalKey[int]("shared")
	keyB := NewJournalKey[int]("shared")
	j := NewJournal()

	SetJournal(j, keyA, 1)
	_, ok := GetJournal(j, keyB)
	assert.False(t, ok, "distinct key instances must not collide even with the same name")
}

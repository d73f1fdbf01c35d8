package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"fleetbot/internal/transport"
)

func TestContainsLink(t *testing.T) {
	for _, text := range []string{
		"https://chat.whatsapp.com/ABC123",
		"check HTTP://example.org/x",
		"wa.me? no, whatsapp.com/channel/0029Va",
		"t.me/freebies",
		"discord.gg/abc",
		"tiktok.com/@someone",
	} {
		assert.True(t, ContainsLink(text), text)
	}
	for _, text := range []string{"", "hello world", "meet at 5.30", "email me at a@b"} {
		assert.False(t, ContainsLink(text), text)
	}
}

func TestContainsBadWord(t *testing.T) {
	word, ok := ContainsBadWord("You are a FOOL", []string{"fool"})
	assert.True(t, ok)
	assert.Equal(t, "fool", word)

	_, ok = ContainsBadWord("foolish", []string{"fool"})
	assert.False(t, ok, "whole tokens only")
	_, ok = ContainsBadWord("anything", nil)
	assert.False(t, ok)
}

func TestRecentMessagesEvictsOldest(t *testing.T) {
	r := newRecentMessages(2)
	for _, id := range []string{"a", "b", "c"} {
		r.add("acct", directMsgWithID(id))
	}
	assert.Equal(t, 2, r.count("acct"))
	_, ok := r.get("acct", "a")
	assert.False(t, ok)
	e, ok := r.get("acct", "c")
	assert.True(t, ok)
	assert.Equal(t, "text c", e.text)

	r.forget("acct")
	assert.Zero(t, r.count("acct"))
}

func TestOwners(t *testing.T) {
	o := NewOwners([]string{"+255 711 111111", ""})
	assert.True(t, o.IsOwner(account, "255711111111@s.whatsapp.net"))
	assert.True(t, o.IsOwner(account, account+":3@s.whatsapp.net"), "the account owns itself")
	assert.False(t, o.IsOwner(account, "255700000000@s.whatsapp.net"))
	assert.Equal(t, []string{"255711111111"}, o.Numbers())
}

func directMsgWithID(id string) *transport.Message {
	return &transport.Message{
		Key:  transport.MessageKey{Chat: "1@s.whatsapp.net", Sender: "1@s.whatsapp.net", ID: id},
		Kind: transport.KindText,
		Text: "text " + id,
	}
}

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	waLog "go.mau.fi/whatsmeow/util/log"

	"fleetbot/internal/transport"
)

func newTestContainer(t *testing.T) *Container {
	t.Helper()
	s, err := New(context.Background(), filepath.Join(t.TempDir(), "fleet.db"), waLog.Noop)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewContainer(s)
}

func TestCredentialRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t)

	_, err := c.Credentials.Get(ctx, "255612491554")
	assert.ErrorIs(t, err, ErrNotFound)

	linked := time.Now().Truncate(time.Second)
	require.NoError(t, c.Credentials.Put(ctx, transport.Credentials{
		AccountID: "255612491554",
		JID:       "255612491554:4@s.whatsapp.net",
		PushName:  "Shop",
		LinkedAt:  linked,
	}))
	require.NoError(t, c.Credentials.Put(ctx, transport.Credentials{
		AccountID: "255789661031",
		JID:       "255789661031:2@s.whatsapp.net",
	}))

	got, err := c.Credentials.Get(ctx, "255612491554")
	require.NoError(t, err)
	assert.Equal(t, "255612491554:4@s.whatsapp.net", got.JID)
	assert.Equal(t, "Shop", got.PushName)
	assert.True(t, linked.Equal(got.LinkedAt))

	ids, err := c.Credentials.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"255612491554", "255789661031"}, ids)

	require.NoError(t, c.Credentials.Delete(ctx, "255612491554"))
	require.NoError(t, c.Credentials.Delete(ctx, "255612491554"))
	_, err = c.Credentials.Get(ctx, "255612491554")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCredentialPutRequiresAccount(t *testing.T) {
	c := newTestContainer(t)
	assert.Error(t, c.Credentials.Put(context.Background(), transport.Credentials{JID: "x@s.whatsapp.net"}))
}

func TestSettingsDocument(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t)

	_, err := c.Settings.Get(ctx, "255612491554")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Settings.Put(ctx, "255612491554", []byte(`{"mode":"public"}`)))
	require.NoError(t, c.Settings.Put(ctx, "255612491554", []byte(`{"mode":"private"}`)))

	data, err := c.Settings.Get(ctx, "255612491554")
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"private"}`, string(data))
}

func TestBadWords(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t)

	require.NoError(t, c.BadWords.Add(ctx, "a1", " Spam "))
	require.NoError(t, c.BadWords.Add(ctx, "a1", "spam"))
	require.NoError(t, c.BadWords.Add(ctx, "a1", "scam"))
	require.NoError(t, c.BadWords.Add(ctx, "a2", "other"))
	assert.Error(t, c.BadWords.Add(ctx, "a1", "  "))

	words, err := c.BadWords.List(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"scam", "spam"}, words)

	removed, err := c.BadWords.Remove(ctx, "a1", "SPAM")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = c.BadWords.Remove(ctx, "a1", "spam")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestDeletedMessagesAppendOnly(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t)

	for _, id := range []string{"M1", "M2"} {
		require.NoError(t, c.Deleted.Append(ctx, DeletedMessage{
			AccountID:   "a1",
			MessageID:   id,
			ChatJID:     "120363000000000000@g.us",
			SenderJID:   "255700000000@s.whatsapp.net",
			MessageType: "text",
			Content:     "hello " + id,
		}))
	}

	recent, err := c.Deleted.Recent(ctx, "a1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "M2", recent[0].MessageID)
	assert.Equal(t, "hello M2", recent[0].Content)

	stats, err := c.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.DeletedMessages)
}

package group

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	waLog "go.mau.fi/whatsmeow/util/log"

	"fleetbot/internal/data/store"
	"fleetbot/internal/infra/metrics"
	"fleetbot/internal/service/settings"
	"fleetbot/internal/transport"
	"fleetbot/internal/transport/transporttest"
)

const (
	account = "255612491554"
	groupID = "120363000000000000@g.us"
	alice   = "255700000001@s.whatsapp.net"
	bob     = "255700000002@s.whatsapp.net"
	admin   = "255700000009@s.whatsapp.net"
)

type memSettings struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func (m *memSettings) Get(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return d, nil
}

func (m *memSettings) Put(_ context.Context, id string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[id] = data
	return nil
}

type nopHandler struct{}

func (nopHandler) OnConnectionUpdate(transport.ConnectionUpdate) {}
func (nopHandler) OnCredentialsUpdate(transport.Credentials)     {}
func (nopHandler) OnEvent(interface{})                           {}

func setup(t *testing.T) (*Handler, *settings.Cache, *transporttest.Session) {
	t.Helper()
	cache := settings.NewCache(&memSettings{docs: map[string][]byte{}}, waLog.Noop)
	s, err := transporttest.NewDialer().Dial(context.Background(), account, &transport.Credentials{AccountID: account}, nopHandler{})
	require.NoError(t, err)
	sess := s.(*transporttest.Session)
	sess.Groups[groupID] = &transport.GroupInfo{JID: groupID, Name: "Dev Club"}
	return NewHandler(cache, metrics.New(), waLog.Noop), cache, sess
}

func TestWelcomeOnePerParticipant(t *testing.T) {
	h, _, sess := setup(t)

	h.HandleGroupUpdate(context.Background(), account, sess, &transport.GroupUpdate{
		Group:        groupID,
		Participants: []string{alice, bob},
		Action:       transport.ActionAdd,
	})

	sent := sess.SentMessages()
	require.Len(t, sent, 2)
	assert.Equal(t, groupID, sent[0].Chat)
	assert.Contains(t, sent[0].Text, "@255700000001")
	assert.Contains(t, sent[0].Text, "Dev Club")
	assert.Equal(t, []string{alice}, sent[0].Mentions)
	assert.Equal(t, []string{bob}, sent[1].Mentions)
}

func TestGoodbyeRespectsSetting(t *testing.T) {
	h, cache, sess := setup(t)
	_, err := cache.Set(context.Background(), account, "goodbye", "off")
	require.NoError(t, err)

	h.HandleGroupUpdate(context.Background(), account, sess, &transport.GroupUpdate{
		Group: groupID, Participants: []string{alice}, Action: transport.ActionRemove,
	})
	assert.Empty(t, sess.SentMessages())

	_, err = cache.Set(context.Background(), account, "goodbye", "on")
	require.NoError(t, err)
	h.HandleGroupUpdate(context.Background(), account, sess, &transport.GroupUpdate{
		Group: groupID, Participants: []string{alice}, Action: transport.ActionRemove,
	})
	sent := sess.SentMessages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "Goodbye")
}

func TestPromoteMentionsAuthor(t *testing.T) {
	h, _, sess := setup(t)

	h.HandleGroupUpdate(context.Background(), account, sess, &transport.GroupUpdate{
		Group: groupID, Participants: []string{alice}, Action: transport.ActionPromote, Author: admin,
	})
	h.HandleGroupUpdate(context.Background(), account, sess, &transport.GroupUpdate{
		Group: groupID, Participants: []string{bob}, Action: transport.ActionDemote,
	})

	sent := sess.SentMessages()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0].Text, "promoted")
	assert.Contains(t, sent[0].Text, "@255700000009")
	assert.Equal(t, []string{alice, admin}, sent[0].Mentions)
	assert.Contains(t, sent[1].Text, "demoted")
	assert.Equal(t, []string{bob}, sent[1].Mentions)
}

func TestSendFailureDoesNotBlockOthers(t *testing.T) {
	h, _, sess := setup(t)
	sess.SendErr = transporttest.ErrFake

	assert.NotPanics(t, func() {
		h.HandleGroupUpdate(context.Background(), account, sess, &transport.GroupUpdate{
			Group: groupID, Participants: []string{alice, bob}, Action: transport.ActionAdd,
		})
	})
	assert.Empty(t, sess.SentMessages())
	assert.Equal(t, float64(2), testutil.ToFloat64(h.metrics.GroupNotifications.WithLabelValues("add", "failed")),
		"every participant is attempted")
}

func TestSkipsOwnAccountAndUnknownGroup(t *testing.T) {
	h, _, sess := setup(t)

	h.HandleGroupUpdate(context.Background(), account, sess, &transport.GroupUpdate{
		Group:        "120363999999999999@g.us",
		Participants: []string{account + "@s.whatsapp.net", alice},
		Action:       transport.ActionAdd,
	})

	sent := sess.SentMessages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "this group")
}

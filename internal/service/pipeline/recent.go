package pipeline

import (
	"container/list"
	"sync"
	"time"

	"fleetbot/internal/transport"
)

// recentEntry is what anti-delete needs to describe a message after it is gone.
type recentEntry struct {
	id        string
	chat      string
	sender    string
	kind      transport.MessageKind
	text      string
	timestamp time.Time
}

// accountMessages holds the newest messages of one account.
type accountMessages struct {
	order *list.List               // newest at front
	byID  map[string]*list.Element // message id -> element
}

// recentMessages keeps the last N messages per account so that revoked
// messages can still be described.
type recentMessages struct {
	mu         sync.Mutex
	data       map[string]*accountMessages
	maxPerAcct int
}

func newRecentMessages(maxPerAccount int) *recentMessages {
	if maxPerAccount <= 0 {
		maxPerAccount = 500
	}
	return &recentMessages{
		data:       make(map[string]*accountMessages),
		maxPerAcct: maxPerAccount,
	}
}

// add remembers msg, evicting the oldest entries past the limit.
func (c *recentMessages) add(accountID string, msg *transport.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	am, ok := c.data[accountID]
	if !ok {
		am = &accountMessages{order: list.New(), byID: make(map[string]*list.Element)}
		c.data[accountID] = am
	}
	if _, found := am.byID[msg.Key.ID]; found {
		return
	}

	text := msg.Text
	if text == "" && msg.Media != nil {
		text = msg.Media.Caption
	}
	am.byID[msg.Key.ID] = am.order.PushFront(recentEntry{
		id:        msg.Key.ID,
		chat:      msg.Key.Chat,
		sender:    msg.Key.Sender,
		kind:      msg.Kind,
		text:      text,
		timestamp: msg.Timestamp,
	})

	for am.order.Len() > c.maxPerAcct {
		oldest := am.order.Back()
		delete(am.byID, oldest.Value.(recentEntry).id)
		am.order.Remove(oldest)
	}
}

// get returns the remembered message, if still cached.
func (c *recentMessages) get(accountID, messageID string) (recentEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	am, ok := c.data[accountID]
	if !ok {
		return recentEntry{}, false
	}
	elem, ok := am.byID[messageID]
	if !ok {
		return recentEntry{}, false
	}
	return elem.Value.(recentEntry), true
}

// forget drops everything remembered for accountID.
func (c *recentMessages) forget(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, accountID)
}

// count returns how many messages are cached for accountID.
func (c *recentMessages) count(accountID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if am, ok := c.data[accountID]; ok {
		return am.order.Len()
	}
	return 0
}

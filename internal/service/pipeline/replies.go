package pipeline

import (
	"fmt"

	"fleetbot/internal/utils/jid"
)

// Fixed replies.
const (
	ReplyOwnerOnly = "🚫 This command can only be used by the owner."
	ReplyGroupOnly = "🚫 This command can only be used in groups."
	ReplyFailure   = "🐢 An error has occurred, please try again."
)

// autoReplies is the fallback phrase table, keyed by lower-cased trimmed text.
var autoReplies = map[string]string{
	"hi":        "Hello! 👋 How can I help you today?",
	"mambo":     "Poa sana! 👋 Nikusaidie kuhusu?",
	"hey":       "Hey there! 😊 Use .menu to see all available commands.",
	"vip":       "Hello VIP! 👑 How can I assist you?",
	"mkuu":      "Hey mkuu! 👋 Nikusaidie kuhusu?",
	"boss":      "Yes boss! 👑 How can I help you?",
	"habari":    "Nzuri sana! 👋 Habari yako?",
	"hello":     "Hi there! 😊 Use .menu to see all available commands.",
	"bot":       "Yes, I am a bot! 🤖 How can I assist you?",
	"menu":      "Type .menu to see all commands! 📜",
	"owner":     "Contact the owner using the .owner command 👑",
	"thanks":    "You're welcome! 😊",
	"thank you": "Anytime! Let me know if you need help 🤖",
}

// AutoReply returns the canned answer for text, if any.
func AutoReply(text string) (string, bool) {
	r, ok := autoReplies[normalizePhrase(text)]
	return r, ok
}

func linkWarning(sender string) string {
	return fmt.Sprintf("⚠️ *LINK DETECTED* ⚠️\n\n%s links are not allowed in this group.\nPlease don't send them again.", jid.Mention(sender))
}

func badWordWarning(sender string) string {
	return fmt.Sprintf("⚠️ *WATCH YOUR LANGUAGE* ⚠️\n\n%s that word is not allowed here.", jid.Mention(sender))
}

func deletedNotice(chat, sender, kind, content string) string {
	where := "a private chat"
	if jid.IsGroup(chat) {
		where = "group " + chat
	}
	if content == "" {
		content = "(content not cached)"
	}
	return fmt.Sprintf("🗑️ *DELETED MESSAGE*\n\nFrom: %s\nIn: %s\nType: %s\n\n%s",
		jid.Mention(sender), where, kind, content)
}

func callRejectedNotice() string {
	return "📵 Calls are not accepted on this number. Please send a message instead."
}

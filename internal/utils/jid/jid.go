package jid

import (
	"errors"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// MinNumberLength is the shortest account number accepted for pairing.
const MinNumberLength = 10

// StatusBroadcast is the pseudo-chat carrying status updates.
const StatusBroadcast = "status@broadcast"

// ErrInvalidNumber is returned when a phone number has too few digits.
var ErrInvalidNumber = errors.New("invalid phone number")

// SanitizeNumber strips everything except digits.
func SanitizeNumber(phone string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
}

// NormalizeNumber sanitizes phone and checks its length.
func NormalizeNumber(phone string) (string, error) {
	n := SanitizeNumber(phone)
	if len(n) < MinNumberLength {
		return "", ErrInvalidNumber
	}
	return n, nil
}

// FromPhone creates a user JID from a phone number.
func FromPhone(phone string) types.JID {
	return types.JID{
		User:   SanitizeNumber(phone),
		Server: types.DefaultUserServer,
	}
}

// UserJID returns the string user JID for a phone number.
func UserJID(phone string) string {
	return FromPhone(phone).String()
}

// Number returns the user part of a JID string with any device suffix removed.
func Number(jidStr string) string {
	user := jidStr
	if i := strings.IndexByte(user, '@'); i >= 0 {
		user = user[:i]
	}
	if i := strings.IndexByte(user, ':'); i >= 0 {
		user = user[:i]
	}
	return user
}

// Server returns the server part of a JID string.
func Server(jidStr string) string {
	if i := strings.IndexByte(jidStr, '@'); i >= 0 {
		return jidStr[i+1:]
	}
	return ""
}

// IsGroup returns true if the JID is a group.
func IsGroup(jidStr string) bool {
	return Server(jidStr) == types.GroupServer
}

// IsStatus returns true if the JID is the status broadcast chat.
func IsStatus(jidStr string) bool {
	return jidStr == StatusBroadcast
}

// SameUser compares two JID strings ignoring device suffixes.
func SameUser(a, b string) bool {
	return Number(a) == Number(b) && Server(a) == Server(b)
}

// Mention renders the "@number" token used in mention-templated text.
func Mention(jidStr string) string {
	return "@" + Number(jidStr)
}

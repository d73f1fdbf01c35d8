// Package settings resolves per-account feature toggles.
package settings

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Mode restricts which chats non-owners may use the bot in.
type Mode string

const (
	ModePublic  Mode = "public"
	ModePrivate Mode = "private"
	ModeGroups  Mode = "groups"
	ModeInbox   Mode = "inbox"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModePublic, ModePrivate, ModeGroups, ModeInbox:
		return true
	}
	return false
}

// AntiDelete is the scope of the anti-delete audit forwarding.
type AntiDelete string

const (
	AntiDeleteOff   AntiDelete = "off"
	AntiDeleteChat  AntiDelete = "chat"
	AntiDeleteGroup AntiDelete = "group"
	AntiDeleteAll   AntiDelete = "all"
)

// Valid reports whether a is a known scope.
func (a AntiDelete) Valid() bool {
	switch a {
	case AntiDeleteOff, AntiDeleteChat, AntiDeleteGroup, AntiDeleteAll:
		return true
	}
	return false
}

// Covers reports whether the scope forwards deletions from a chat of the given kind.
func (a AntiDelete) Covers(isGroup bool) bool {
	switch a {
	case AntiDeleteAll:
		return true
	case AntiDeleteChat:
		return !isGroup
	case AntiDeleteGroup:
		return isGroup
	}
	return false
}

// NoPrefix is the stored prefix value meaning "commands need no prefix".
const NoPrefix = ""

// MaxPrefixLength bounds custom prefixes.
const MaxPrefixLength = 3

// Settings is the fully resolved per-account record.
type Settings struct {
	Mode           Mode       `json:"mode"`
	Prefix         string     `json:"prefix"`
	AutoViewStatus bool       `json:"autoViewStatus"`
	AutoLikeStatus bool       `json:"autoLikeStatus"`
	StatusEmoji    string     `json:"statusEmoji"`
	AutoTyping     bool       `json:"autoTyping"`
	AutoRecording  bool       `json:"autoRecording"`
	ReadMessage    bool       `json:"readMessage"`
	AntiCall       bool       `json:"antiCall"`
	AntiLink       bool       `json:"antiLink"`
	AntiLinkKick   bool       `json:"antiLinkKick"`
	AntiBadWord    bool       `json:"antiBadWord"`
	AntiDelete     AntiDelete `json:"antiDelete"`
	Welcome        bool       `json:"welcome"`
	Goodbye        bool       `json:"goodbye"`
	ViewOnceReveal bool       `json:"viewOnceReveal"`
	AutoReply      bool       `json:"autoReply"`
	AutoBio        bool       `json:"autoBio"`
}

// Defaults returns the fixed default set.
func Defaults() Settings {
	return Settings{
		Mode:           ModePublic,
		Prefix:         ".",
		AutoViewStatus: true,
		AutoLikeStatus: true,
		StatusEmoji:    "🐢",
		AutoTyping:     true,
		AutoRecording:  false,
		ReadMessage:    true,
		AntiCall:       false,
		AntiLink:       true,
		AntiLinkKick:   false,
		AntiBadWord:    false,
		AntiDelete:     AntiDeleteOff,
		Welcome:        true,
		Goodbye:        true,
		ViewOnceReveal: false,
		AutoReply:      false,
		AutoBio:        false,
	}
}

// defaultKeys is the key set every persisted record must carry.
var defaultKeys = func() []string {
	data, err := json.Marshal(Defaults())
	if err != nil {
		panic(err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		panic(err)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}()

// Keys returns the sorted list of setting keys.
func Keys() []string {
	return append([]string(nil), defaultKeys...)
}

// merge decodes a stored document over the defaults and reports which default
// keys were missing from it. Values that fail validation fall back to the default.
func merge(stored []byte) (Settings, []string, error) {
	var present map[string]json.RawMessage
	if err := json.Unmarshal(stored, &present); err != nil {
		return Defaults(), nil, fmt.Errorf("decode settings: %w", err)
	}

	s := Defaults()
	if err := json.Unmarshal(stored, &s); err != nil {
		return Defaults(), nil, fmt.Errorf("decode settings: %w", err)
	}

	var missing []string
	for _, k := range defaultKeys {
		if _, ok := present[k]; !ok {
			missing = append(missing, k)
		}
	}
	return s.normalized(), missing, nil
}

// normalized replaces out-of-range values with their defaults.
func (s Settings) normalized() Settings {
	d := Defaults()
	if !s.Mode.Valid() {
		s.Mode = d.Mode
	}
	if !s.AntiDelete.Valid() {
		s.AntiDelete = d.AntiDelete
	}
	if utf8.RuneCountInString(s.Prefix) > MaxPrefixLength {
		s.Prefix = d.Prefix
	}
	if s.StatusEmoji == "" {
		s.StatusEmoji = d.StatusEmoji
	}
	return s
}

// HasPrefix reports whether commands need a prefix.
func (s Settings) HasPrefix() bool {
	return s.Prefix != NoPrefix
}

// Set assigns a single setting by key from its textual form. Booleans accept
// on/off, true/false, enable/disable and 1/0.
func (s *Settings) Set(key, value string) error {
	value = strings.TrimSpace(value)
	switch key {
	case "mode":
		m := Mode(strings.ToLower(value))
		if !m.Valid() {
			return fmt.Errorf("mode must be one of public, private, groups, inbox")
		}
		s.Mode = m
	case "prefix":
		p, err := ParsePrefix(value)
		if err != nil {
			return err
		}
		s.Prefix = p
	case "statusEmoji":
		if value == "" {
			return fmt.Errorf("emoji must not be empty")
		}
		s.StatusEmoji = value
	case "antiDelete":
		a := AntiDelete(strings.ToLower(value))
		if !a.Valid() {
			return fmt.Errorf("antidelete must be one of off, chat, group, all")
		}
		s.AntiDelete = a
	default:
		ptr := s.boolField(key)
		if ptr == nil {
			return fmt.Errorf("unknown setting %q", key)
		}
		b, err := ParseBool(value)
		if err != nil {
			return err
		}
		*ptr = b
	}
	return nil
}

// Bool returns the current value of a boolean setting.
func (s *Settings) Bool(key string) (bool, bool) {
	ptr := s.boolField(key)
	if ptr == nil {
		return false, false
	}
	return *ptr, true
}

func (s *Settings) boolField(key string) *bool {
	switch key {
	case "autoViewStatus":
		return &s.AutoViewStatus
	case "autoLikeStatus":
		return &s.AutoLikeStatus
	case "autoTyping":
		return &s.AutoTyping
	case "autoRecording":
		return &s.AutoRecording
	case "readMessage":
		return &s.ReadMessage
	case "antiCall":
		return &s.AntiCall
	case "antiLink":
		return &s.AntiLink
	case "antiLinkKick":
		return &s.AntiLinkKick
	case "antiBadWord":
		return &s.AntiBadWord
	case "welcome":
		return &s.Welcome
	case "goodbye":
		return &s.Goodbye
	case "viewOnceReveal":
		return &s.ViewOnceReveal
	case "autoReply":
		return &s.AutoReply
	case "autoBio":
		return &s.AutoBio
	}
	return nil
}

// ParseBool parses the toggle words accepted by chat commands.
func ParseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "true", "enable", "enabled", "1", "yes":
		return true, nil
	case "off", "false", "disable", "disabled", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", v)
}

// ParsePrefix validates a prefix; "none" selects NoPrefix.
func ParsePrefix(v string) (string, error) {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, "none") {
		return NoPrefix, nil
	}
	if v == "" {
		return "", fmt.Errorf("prefix must not be empty, use none to disable it")
	}
	if utf8.RuneCountInString(v) > MaxPrefixLength {
		return "", fmt.Errorf("prefix must be at most %d characters", MaxPrefixLength)
	}
	if strings.ContainsAny(v, " \t\n") {
		return "", fmt.Errorf("prefix must not contain whitespace")
	}
	return v, nil
}

package command

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	waLog "go.mau.fi/whatsmeow/util/log"

	"fleetbot/internal/service/settings"
	"fleetbot/internal/transport"
)

// Dispatch errors.
var (
	ErrOwnerOnly = errors.New("command is owner only")
	ErrGroupOnly = errors.New("command is group only")
	ErrPanic     = errors.New("command handler panicked")
)

// Category groups commands in the menu.
type Category string

const (
	CategoryGeneral  Category = "general"
	CategorySettings Category = "settings"
	CategoryGroup    Category = "group"
	CategoryTools    Category = "tools"
	CategoryOwner    Category = "owner"
)

// Handler runs a command. A non-empty reply is sent back quoting the
// originating message.
type Handler func(ctx context.Context, inv *Invocation) (reply string, err error)

// Command is a static command descriptor.
type Command struct {
	Name        string
	Aliases     []string
	Category    Category
	Description string
	Usage       string
	OwnerOnly   bool
	GroupOnly   bool
	// React is sent as a reaction on the triggering message before the handler runs.
	React   string
	Handler Handler
}

// Invocation is everything a handler gets to work with.
type Invocation struct {
	AccountID string
	Session   transport.Session
	Message   *transport.Message
	Command   *Command
	// Name is the token that matched, either the canonical name or an alias.
	Name     string
	Args     []string
	Settings settings.Settings
	IsOwner  bool
	Log      waLog.Logger
}

// Chat is the chat the command was sent in.
func (inv *Invocation) Chat() string { return inv.Message.Key.Chat }

// Sender is the JID of the user who sent the command.
func (inv *Invocation) Sender() string { return inv.Message.Key.Sender }

// Text joins the arguments back into a single string.
func (inv *Invocation) Text() string { return strings.Join(inv.Args, " ") }

// Reply sends text to the originating chat, quoting the command message.
func (inv *Invocation) Reply(ctx context.Context, text string, mentions ...string) error {
	_, err := inv.Session.Send(ctx, inv.Chat(), transport.Outgoing{
		Text:     text,
		Mentions: mentions,
		ReplyTo:  inv.Message,
	})
	return err
}

// React reacts to the originating message.
func (inv *Invocation) React(ctx context.Context, emoji string) error {
	return inv.Session.React(ctx, inv.Message.Key, emoji)
}

// Registry maps command names and aliases to descriptors.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Command
	order  []*Command
}

// NewRegistry creates a new command registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Command)}
}

// Register adds cmd under its name and every alias. Registering a name that
// already exists replaces the previous descriptor and drops its aliases.
func (r *Registry) Register(cmd *Command) {
	name := strings.ToLower(cmd.Name)
	if name == "" || cmd.Handler == nil {
		panic(fmt.Sprintf("command: invalid descriptor %q", cmd.Name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byName[name]; ok && strings.EqualFold(old.Name, name) {
		r.removeLocked(old)
	}

	r.byName[name] = cmd
	for _, alias := range cmd.Aliases {
		r.byName[strings.ToLower(alias)] = cmd
	}
	r.order = append(r.order, cmd)
}

func (r *Registry) removeLocked(old *Command) {
	for key, c := range r.byName {
		if c == old {
			delete(r.byName, key)
		}
	}
	for i, c := range r.order {
		if c == old {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get retrieves a command by name or alias.
func (r *Registry) Get(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.byName[strings.ToLower(name)]
	return cmd, ok
}

// List returns all commands in registration order.
func (r *Registry) List() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Command(nil), r.order...)
}

// Resolve parses text into a command and its arguments.
//
// With a prefix, text must start with it and the first token after it names
// the command. With settings.NoPrefix the longest registered name (in
// registration order) that text starts with wins, case-insensitively; the
// name has to end at whitespace or at the end of text.
func (r *Registry) Resolve(prefix, text string) (*Command, string, []string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, "", nil, false
	}

	if prefix != settings.NoPrefix {
		if !strings.HasPrefix(text, prefix) {
			return nil, "", nil, false
		}
		parts := strings.Fields(strings.TrimPrefix(text, prefix))
		if len(parts) == 0 {
			return nil, "", nil, false
		}
		name := strings.ToLower(parts[0])
		cmd, ok := r.Get(name)
		if !ok {
			return nil, "", nil, false
		}
		return cmd, name, parts[1:], true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best     *Command
		bestName string
	)
	for _, cmd := range r.order {
		for _, name := range append([]string{cmd.Name}, cmd.Aliases...) {
			name = strings.ToLower(name)
			if len(name) <= len(bestName) || len(text) < len(name) || !strings.EqualFold(text[:len(name)], name) {
				continue
			}
			if rest := text[len(name):]; rest != "" {
				if next, _ := utf8.DecodeRuneInString(rest); !unicode.IsSpace(next) {
					continue
				}
			}
			// a later registration may have claimed this alias
			if r.byName[name] != cmd {
				continue
			}
			best, bestName = cmd, name
		}
	}
	if best == nil {
		return nil, "", nil, false
	}
	return best, bestName, strings.Fields(text[len(bestName):]), true
}

// Dispatch enforces the owner and group checks, then runs the handler.
// Panics are recovered and returned as ErrPanic.
func Dispatch(ctx context.Context, inv *Invocation) (reply string, err error) {
	cmd := inv.Command
	if cmd.OwnerOnly && !inv.IsOwner {
		return "", ErrOwnerOnly
	}
	if cmd.GroupOnly && !inv.Message.IsGroup {
		return "", ErrGroupOnly
	}

	defer func() {
		if p := recover(); p != nil {
			if inv.Log != nil {
				inv.Log.Errorf("[handler] %s panicked: %v\n%s", cmd.Name, p, debug.Stack())
			}
			reply, err = "", fmt.Errorf("%w: %v", ErrPanic, p)
		}
	}()
	return cmd.Handler(ctx, inv)
}

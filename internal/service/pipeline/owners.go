package pipeline

import (
	"sort"

	"fleetbot/internal/utils/jid"
)

// Owners is the fixed set of privileged numbers. Every account is also an
// owner of itself.
type Owners struct {
	numbers map[string]struct{}
}

// NewOwners builds the set from digit-only numbers.
func NewOwners(numbers []string) *Owners {
	o := &Owners{numbers: make(map[string]struct{}, len(numbers))}
	for _, n := range numbers {
		if n = jid.SanitizeNumber(n); n != "" {
			o.numbers[n] = struct{}{}
		}
	}
	return o
}

// IsOwner reports whether sender may administer accountID.
func (o *Owners) IsOwner(accountID, sender string) bool {
	n := jid.Number(sender)
	if n == "" {
		return false
	}
	if n == accountID {
		return true
	}
	_, ok := o.numbers[n]
	return ok
}

// Numbers returns the configured owner numbers, sorted.
func (o *Owners) Numbers() []string {
	out := make([]string, 0, len(o.numbers))
	for n := range o.numbers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

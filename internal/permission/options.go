// Package permission arbitrates the agent's permission requests so the
// operator sees exactly one at a time, in arrival order.
package permission

import (
	"strings"
	"unicode"
)

// OptionKind classifies a permission option.
type OptionKind string

const (
	KindAllowOnce    OptionKind = "allow_once"
	KindAllowAlways  OptionKind = "allow_always"
	KindRejectOnce   OptionKind = "reject_once"
	KindRejectAlways OptionKind = "reject_always"
)

// IsAllow reports whether k grants the permission.
func (k OptionKind) IsAllow() bool {
	return k == KindAllowOnce || k == KindAllowAlways
}

// Option is one selectable answer offered by the agent.
type Option struct {
	ID   string     `json:"option_id"`
	Name string     `json:"name"`
	Kind OptionKind `json:"kind"`
}

var (
	rejectWords = map[string]bool{
		"reject": true, "deny": true, "decline": true, "disallow": true, "refuse": true,
		"no": true, "not": true, "don't": true, "never": true, "cancel": true, "skip": true,
	}
	// Phrases that mean "remember this choice" rather than a refusal.
	alwaysPhrases = strings.NewReplacer(
		"don't ask again", "always",
		"don\u2019t ask again", "always",
		"do not ask again", "always",
	)
)

// InferKind classifies an option by its name. Any reject word makes it a
// reject; "always" (or "don't ask again") only selects the always variant of
// an allow. Everything else is allow_once.
func InferKind(name string) OptionKind {
	lower := alwaysPhrases.Replace(strings.ToLower(name))
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})

	always := false
	for _, w := range words {
		if rejectWords[w] {
			return KindRejectOnce
		}
		if w == "always" {
			always = true
		}
	}
	if always {
		return KindAllowAlways
	}
	return KindAllowOnce
}

// NormalizeOption returns the option as shown to the operator: reject_always
// is folded into reject_once and a missing kind is inferred from the name.
func NormalizeOption(o Option) Option {
	switch o.Kind {
	case KindRejectAlways:
		o.Kind = KindRejectOnce
	case KindAllowOnce, KindAllowAlways, KindRejectOnce:
	default:
		o.Kind = InferKind(o.Name)
	}
	return o
}

// NormalizeOptions applies NormalizeOption to each option, preserving order.
func NormalizeOptions(in []Option) []Option {
	out := make([]Option, len(in))
	for i, o := range in {
		out[i] = NormalizeOption(o)
	}
	return out
}

// AutoApproveChoice picks the first allow option, or the first option when
// none allows. ok is false when there are no options.
func AutoApproveChoice(options []Option) (Option, bool) {
	if len(options) == 0 {
		return Option{}, false
	}
	for _, o := range options {
		if NormalizeOption(o).Kind.IsAllow() {
			return o, true
		}
	}
	return options[0], true
}

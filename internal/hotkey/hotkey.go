package hotkey

import (
	"fmt"
	"strings"
)

// Manager defines the interface for global hotkey management
type Manager interface {
	Register(accel string, callback func(pressed bool)) error
	Unregister(accel string) error
	Close() error
}

// Modifier is a bit set of modifier keys.
type Modifier int

const (
	ModCtrl Modifier = 1 << iota
	ModShift
	ModAlt
	ModSuper
)

// Accel is a parsed accelerator such as "Alt+B".
type Accel struct {
	Mods Modifier
	// Key is "Space", "Enter", an upper-case letter or a digit.
	Key string
}

func (a Accel) String() string {
	var parts []string
	for _, m := range []struct {
		mod  Modifier
		name string
	}{{ModCtrl, "Ctrl"}, {ModShift, "Shift"}, {ModAlt, "Alt"}, {ModSuper, "Super"}} {
		if a.Mods&m.mod != 0 {
			parts = append(parts, m.name)
		}
	}
	return strings.Join(append(parts, a.Key), "+")
}

// ParseAccel parses accelerator strings like "Ctrl+Shift+B". Names are
// case-insensitive; Option is an alias for Alt and Cmd for Super.
func ParseAccel(accel string) (Accel, error) {
	var a Accel
	if strings.TrimSpace(accel) == "" {
		return a, fmt.Errorf("empty accelerator")
	}

	parts := strings.Split(accel, "+")
	for i, raw := range parts {
		part := strings.TrimSpace(raw)
		last := i == len(parts)-1

		if mod, ok := parseModifier(part); ok && !last {
			a.Mods |= mod
			continue
		}
		if !last {
			return Accel{}, fmt.Errorf("accelerator %q: unknown modifier %q", accel, part)
		}

		key, ok := parseKey(part)
		if !ok {
			return Accel{}, fmt.Errorf("accelerator %q: unsupported key %q", accel, part)
		}
		a.Key = key
	}
	return a, nil
}

func parseModifier(s string) (Modifier, bool) {
	switch strings.ToLower(s) {
	case "ctrl", "control":
		return ModCtrl, true
	case "shift":
		return ModShift, true
	case "alt", "option":
		return ModAlt, true
	case "cmd", "command", "super", "meta":
		return ModSuper, true
	}
	return 0, false
}

func parseKey(s string) (string, bool) {
	switch strings.ToLower(s) {
	case "space":
		return "Space", true
	case "enter", "return":
		return "Enter", true
	}
	if len(s) != 1 {
		return "", false
	}
	c := s[0]
	switch {
	case c >= 'a' && c <= 'z':
		return string(c - 32), true
	case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return s, true
	}
	return "", false
}

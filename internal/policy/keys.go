package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pavkata12/client8/internal/domain"
)

// Virtual-key codes used by the default tables.
const (
	VKTab      uint32 = 0x09
	VKShift    uint32 = 0x10
	VKControl  uint32 = 0x11
	VKMenu     uint32 = 0x12 // alt
	VKEscape   uint32 = 0x1B
	VKDelete   uint32 = 0x2E
	VKLWin     uint32 = 0x5B
	VKRWin     uint32 = 0x5C
	VKApps     uint32 = 0x5D
	VKF1       uint32 = 0x70
	VKLShift   uint32 = 0xA0
	VKRShift   uint32 = 0xA1
	VKLControl uint32 = 0xA2
	VKRControl uint32 = 0xA3
	VKLMenu    uint32 = 0xA4
	VKRMenu    uint32 = 0xA5
)

// ModifierFor maps a modifier key (either side) to its mask bit.
func ModifierFor(vk uint32) (domain.ModMask, bool) {
	switch vk {
	case VKMenu, VKLMenu, VKRMenu:
		return domain.ModAlt, true
	case VKControl, VKLControl, VKRControl:
		return domain.ModCtrl, true
	case VKShift, VKLShift, VKRShift:
		return domain.ModShift, true
	case VKLWin, VKRWin:
		return domain.ModMeta, true
	}
	return 0, false
}

// ShouldBlock is the per-event decision: block when a combo of the profile
// matches vk with the held modifiers.
func ShouldBlock(vk uint32, held domain.ModMask, profile domain.LockdownProfile) bool {
	if profile.Blocked == nil {
		return false
	}
	return profile.Blocked.Matches(vk, held)
}

var modifierNames = map[string]domain.ModMask{
	"alt":     domain.ModAlt,
	"ctrl":    domain.ModCtrl,
	"control": domain.ModCtrl,
	"shift":   domain.ModShift,
	"meta":    domain.ModMeta,
	"win":     domain.ModMeta,
}

var keyNames = map[string][]uint32{
	"tab":         {VKTab},
	"esc":         {VKEscape},
	"escape":      {VKEscape},
	"delete":      {VKDelete},
	"del":         {VKDelete},
	"enter":       {0x0D},
	"space":       {0x20},
	"pause":       {0x13},
	"printscreen": {0x2C},
	"scrolllock":  {0x91},
	"menu":        {VKApps},
	"apps":        {VKApps},
	"meta":        {VKLWin, VKRWin},
	"win":         {VKLWin, VKRWin},
	"lwin":        {VKLWin},
	"rwin":        {VKRWin},
}

func init() {
	for c := 'a'; c <= 'z'; c++ {
		keyNames[string(c)] = []uint32{uint32(c - 'a' + 'A')}
	}
	for c := '0'; c <= '9'; c++ {
		keyNames[string(c)] = []uint32{uint32(c)}
	}
	for i := 1; i <= 24; i++ {
		keyNames[fmt.Sprintf("f%d", i)] = []uint32{VKF1 + uint32(i-1)}
	}
}

// ParseCombo parses "ctrl+shift+esc" style text. The last token is the key,
// the others are modifiers. "meta" as the key expands to both Windows keys.
// A raw code may be written as "vk:0x5b".
func ParseCombo(text string) ([]domain.KeyCombo, error) {
	tokens := strings.Split(strings.ToLower(strings.TrimSpace(text)), "+")
	if len(tokens) == 0 || tokens[len(tokens)-1] == "" {
		return nil, fmt.Errorf("empty key combo %q", text)
	}

	var mods domain.ModMask
	for _, tok := range tokens[:len(tokens)-1] {
		m, ok := modifierNames[strings.TrimSpace(tok)]
		if !ok {
			return nil, fmt.Errorf("unknown modifier %q in %q", tok, text)
		}
		mods |= m
	}

	keyTok := strings.TrimSpace(tokens[len(tokens)-1])
	var vks []uint32
	if strings.HasPrefix(keyTok, "vk:") {
		var code uint32
		if _, err := fmt.Sscanf(keyTok, "vk:0x%x", &code); err != nil {
			return nil, fmt.Errorf("bad raw key %q: %w", keyTok, err)
		}
		vks = []uint32{code}
	} else {
		var ok bool
		vks, ok = keyNames[keyTok]
		if !ok {
			return nil, fmt.Errorf("unknown key %q in %q", keyTok, text)
		}
	}

	combos := make([]domain.KeyCombo, 0, len(vks))
	for _, vk := range vks {
		combos = append(combos, domain.KeyCombo{VK: vk, Mods: mods})
	}
	return combos, nil
}

// ParseCombos parses a whole table into a set.
func ParseCombos(texts []string) (domain.KeyComboSet, error) {
	set := domain.NewKeyComboSet()
	for _, t := range texts {
		combos, err := ParseCombo(t)
		if err != nil {
			return nil, err
		}
		for _, c := range combos {
			set.Add(c)
		}
	}
	return set, nil
}

// DescribeSet renders a set in a stable order (for the list command and logs).
func DescribeSet(set domain.KeyComboSet) []string {
	out := make([]string, 0, set.Len())
	for vk, mods := range set {
		for _, m := range mods {
			out = append(out, domain.KeyCombo{VK: vk, Mods: m}.String())
		}
	}
	sort.Strings(out)
	return out
}

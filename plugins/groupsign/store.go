package groupsign

import (
	"errors"
	"fmt"
	"regexp"

	"signbot/internal/core"
)

var (
	ErrBadGroupID     = errors.New("group id must be 5-11 digits, not starting with 0")
	ErrAlreadyPresent = errors.New("group already in list")
	ErrNotPresent     = errors.New("group not in list")
)

var groupIDRe = regexp.MustCompile(`^[1-9][0-9]{4,10}$`)

// Store manages the persisted group list through config read-modify-write,
// so manual edits to other sections of the file always survive.
type Store struct {
	cfgm *core.ConfigManager
}

func NewStore(cfgm *core.ConfigManager) *Store {
	return &Store{cfgm: cfgm}
}

// Groups returns the current group list. It never fails: a missing or
// malformed section yields the defaults.
func (s *Store) Groups() []string {
	return s.snapshot().Sign.Groups
}

func (s *Store) snapshot() Config {
	cfg := s.cfgm.Get()
	if cfg == nil {
		return Config{}.withDefaults()
	}
	pc, ok := cfg.Plugins[pluginName]
	if !ok {
		return Config{}.withDefaults()
	}
	c, err := parseConfig(pc.Config)
	if err != nil {
		return Config{}.withDefaults()
	}
	return c
}

func (s *Store) Add(groupID string) error {
	if !groupIDRe.MatchString(groupID) {
		return ErrBadGroupID
	}
	return s.cfgm.Mutate(func(doc map[string]any) error {
		groups, set, err := signGroupsSlot(doc)
		if err != nil {
			return err
		}
		for _, g := range groups {
			if g == groupID {
				return ErrAlreadyPresent
			}
		}
		set(append(groups, groupID))
		return nil
	})
}

func (s *Store) Remove(groupID string) error {
	if !groupIDRe.MatchString(groupID) {
		return ErrBadGroupID
	}
	return s.cfgm.Mutate(func(doc map[string]any) error {
		groups, set, err := signGroupsSlot(doc)
		if err != nil {
			return err
		}
		out := make([]string, 0, len(groups))
		found := false
		for _, g := range groups {
			if g == groupID {
				found = true
				continue
			}
			out = append(out, g)
		}
		if !found {
			return ErrNotPresent
		}
		set(out)
		return nil
	})
}

// signGroupsSlot walks (creating as needed) plugins.groupsign.config.sign
// and returns the current groups plus a setter writing back into the doc.
func signGroupsSlot(doc map[string]any) (groups []string, set func([]string), err error) {
	sign, err := descend(doc, "plugins", pluginName, "config", "sign")
	if err != nil {
		return nil, nil, err
	}

	raw, _ := sign["groups"].([]any)
	groups = make([]string, 0, len(raw))
	for _, v := range raw {
		gs, ok := v.(string)
		if !ok {
			return nil, nil, fmt.Errorf("sign.groups: non-string entry %v", v)
		}
		groups = append(groups, gs)
	}

	set = func(next []string) {
		out := make([]any, len(next))
		for i, g := range next {
			out[i] = g
		}
		sign["groups"] = out
	}
	return groups, set, nil
}

func descend(doc map[string]any, path ...string) (map[string]any, error) {
	cur := doc
	for _, key := range path {
		v, ok := cur[key]
		if !ok || v == nil {
			next := map[string]any{}
			cur[key] = next
			cur = next
			continue
		}
		next, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("config: %q is not a mapping", key)
		}
		cur = next
	}
	return cur, nil
}

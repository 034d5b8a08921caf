package sports

import (
	"fmt"
	"sort"
)

// Registry manages the available sport profiles
type Registry struct {
	profiles map[string]Profile
}

// NewRegistry creates a registry with every built-in sport
func NewRegistry() *Registry {
	r := &Registry{
		profiles: make(map[string]Profile),
	}

	r.Register(MLB())
	r.Register(NBA())
	r.Register(NFL())
	r.Register(NHL())

	return r
}

// Register adds or replaces a profile
func (r *Registry) Register(profile Profile) {
	r.profiles[profile.SportKey] = profile
}

// Override applies configured profiles on top of the built-ins after validating them
func (r *Registry) Override(profiles map[string]Profile) error {
	for key, p := range profiles {
		if p.SportKey == "" {
			p.SportKey = key
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("sport override %s: %w", key, err)
		}
		r.Register(p)
	}
	return nil
}

// Get retrieves a profile by sport key
func (r *Registry) Get(sportKey string) (Profile, error) {
	p, ok := r.profiles[sportKey]
	if !ok {
		return Profile{}, fmt.Errorf("sport profile not found: %s", sportKey)
	}
	return p, nil
}

// EnabledSports returns enabled profiles ordered by sport key
func (r *Registry) EnabledSports() []Profile {
	var enabled []Profile
	for _, p := range r.profiles {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	sort.Slice(enabled, func(i, j int) bool { return enabled[i].SportKey < enabled[j].SportKey })
	return enabled
}

// AllSportKeys returns all registered sport keys, sorted
func (r *Registry) AllSportKeys() []string {
	keys := make([]string, 0, len(r.profiles))
	for key := range r.profiles {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

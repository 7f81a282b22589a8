package config

import "fmt"

// KeyInfo is one row of `config show` output.
type KeyInfo struct {
	Key   string
	Env   string
	Value string
}

// info renders this key for display.
func (s keySpec) info(cfg Config) KeyInfo {
	return KeyInfo{
		Key:   s.key,
		Env:   s.env,
		Value: fmt.Sprintf("%v", s.get(cfg)),
	}
}

// Entries returns every non-secret key with its effective value. The
// api token is deliberately absent: it never leaves the environment.
func Entries(cfg Config) []KeyInfo {
	infos := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		if s.secret {
			continue
		}
		infos = append(infos, s.info(cfg))
	}
	return infos
}

// Set writes a config key to the file backend.
func Set(key, value string) error {
	return setWith(openBackend(), key, value)
}

func setWith(b ConfigBackend, key, value string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return fmt.Errorf("no such config key: %q", key)
	}
	if s.secret {
		return fmt.Errorf("%q is a secret; set it with the %s environment variable", key, s.env)
	}

	v, err := s.parse(value)
	if err != nil {
		return fmt.Errorf("%s expects an integer: %w", key, err)
	}
	if i, isInt := v.(int); isInt {
		return b.SetInt(key, i)
	}
	return b.SetString(key, value)
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// KeyNames returns the list of settable config key names.
func KeyNames() []string {
	keys := make([]string, 0, len(specs))
	for _, s := range specs {
		if s.secret {
			continue
		}
		keys = append(keys, s.key)
	}
	return keys
}

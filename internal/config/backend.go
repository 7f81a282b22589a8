package config

// ConfigBackend abstracts the persistent key/value store behind `triage
// config set`. The default is a JSON file in the XDG config directory;
// tests substitute an in-memory map.
type ConfigBackend interface {
	String(key string) (val string, ok bool, err error)
	Int(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

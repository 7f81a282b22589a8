package dispatch

import (
	"encoding/json"
	"fmt"
)

// Field length limits shared by the RPC methods.
const (
	maxRequestLen   = 8192
	maxUserLen      = 128
	maxIDLen        = 128
	maxReasoningLen = 2048
)

// ParamError reports a request parameter that failed validation. It maps
// to the invalid-params JSON-RPC code.
type ParamError struct {
	Field  string
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func paramErr(field, reason string) *ParamError {
	return &ParamError{Field: field, Reason: reason}
}

// Params holds one call's decoded parameter object. Values stay raw until
// an accessor types them, so nested objects pass through unscathed.
type Params map[string]json.RawMessage

// parseParams decodes the params member of a request. Absent params mean
// an empty object; anything other than a JSON object is rejected.
func parseParams(raw json.RawMessage) (Params, error) {
	if len(raw) == 0 {
		return Params{}, nil
	}
	var p Params
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, paramErr("params", "must be an object")
	}
	if p == nil {
		p = Params{}
	}
	return p, nil
}

// String returns a required string field, enforcing a maximum length.
func (p Params) String(key string, maxLen int) (string, error) {
	raw, ok := p[key]
	if !ok {
		return "", paramErr(key, "is required")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", paramErr(key, "must be a string")
	}
	if s == "" {
		return "", paramErr(key, "is required")
	}
	if maxLen > 0 && len(s) > maxLen {
		return "", paramErr(key, fmt.Sprintf("exceeds maximum length %d", maxLen))
	}
	return s, nil
}

// OptionalString returns a string field or "" when absent.
func (p Params) OptionalString(key string, maxLen int) (string, error) {
	raw, ok := p[key]
	if !ok {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", paramErr(key, "must be a string")
	}
	if maxLen > 0 && len(s) > maxLen {
		return "", paramErr(key, fmt.Sprintf("exceeds maximum length %d", maxLen))
	}
	return s, nil
}

// OptionalInt returns an integer field bounded to [min, max], or def when
// absent.
func (p Params) OptionalInt(key string, def, min, max int) (int, error) {
	raw, ok := p[key]
	if !ok {
		return def, nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, paramErr(key, "must be an integer")
	}
	if n < min || n > max {
		return 0, paramErr(key, fmt.Sprintf("must be between %d and %d", min, max))
	}
	return n, nil
}

// OptionalBool returns a boolean field or def when absent.
func (p Params) OptionalBool(key string, def bool) (bool, error) {
	raw, ok := p[key]
	if !ok {
		return def, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, paramErr(key, "must be a boolean")
	}
	return b, nil
}

// Bool returns a required boolean field.
func (p Params) Bool(key string) (bool, error) {
	raw, ok := p[key]
	if !ok {
		return false, paramErr(key, "is required")
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, paramErr(key, "must be a boolean")
	}
	return b, nil
}

// Decode unmarshals an object field into dst. It reports whether the field
// was present.
func (p Params) Decode(key string, dst any) (bool, error) {
	raw, ok := p[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, paramErr(key, "is malformed: "+err.Error())
	}
	return true, nil
}

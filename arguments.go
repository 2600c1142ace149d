package flagbridge

import (
	"fmt"
)

// Arguments is the argument bag of a call.
type Arguments map[string]any

// kind is the shape a parameter must have.
type kind int

const (
	kindString kind = iota
	kindText        // string or bytes
	kindMap
)

// param declares one key of an operation's argument schema.
type param struct {
	key      string
	kind     kind
	optional bool

	// aliases are accepted when key is absent
	aliases []string
}

// parseArguments accepts a mapping; an absent payload is an empty mapping.
func parseArguments(raw any) (Arguments, error) {
	switch v := raw.(type) {
	case nil:
		return Arguments{}, nil
	case Arguments:
		return v, nil
	case map[string]any:
		return Arguments(v), nil
	case map[any]any:
		out, ok := stringKeys(v)
		if !ok {
			return nil, errInvalidArguments()
		}
		return Arguments(out), nil
	default:
		return nil, errInvalidArguments()
	}
}

// extract validates args against the schema and returns the normalised values:
// strings as string, text as []byte, maps as map[string]any. Optional maps that
// are absent become empty maps.
func (a Arguments) extract(params []param) (Arguments, error) {
	out := make(Arguments, len(params))

	for _, p := range params {
		value, ok := a.lookup(p)
		if !ok {
			if !p.optional {
				return nil, errMissingArgument(p.key)
			}
			if p.kind == kindMap {
				out[p.key] = map[string]any{}
			}
			continue
		}

		normalised, ok := normalise(value, p.kind)
		if !ok {
			return nil, errInvalidType(p.key)
		}
		out[p.key] = normalised
	}

	return out, nil
}

func (a Arguments) lookup(p param) (any, bool) {
	if v, ok := a[p.key]; ok && v != nil {
		return v, true
	}
	for _, alias := range p.aliases {
		if v, ok := a[alias]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// String returns a string value, or "" when absent.
func (a Arguments) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// Bytes returns a text value as bytes.
func (a Arguments) Bytes(key string) []byte {
	switch v := a[key].(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	}
	return nil
}

// Map returns a mapping value, or nil when absent.
func (a Arguments) Map(key string) map[string]any {
	m, _ := a[key].(map[string]any)
	return m
}

func normalise(value any, k kind) (any, bool) {
	switch k {
	case kindString:
		s, ok := value.(string)
		return s, ok
	case kindText:
		switch v := value.(type) {
		case string:
			return []byte(v), true
		case []byte:
			return v, true
		}
		return nil, false
	case kindMap:
		switch v := value.(type) {
		case map[string]any:
			return v, true
		case Arguments:
			return map[string]any(v), true
		case map[any]any:
			return stringKeys(v)
		}
		return nil, false
	default:
		panic(fmt.Sprintf("flagbridge: unknown argument kind %d", k))
	}
}

func stringKeys(m map[any]any) (map[string]any, bool) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		key, ok := k.(string)
		if !ok {
			return nil, false
		}
		out[key] = v
	}
	return out, true
}

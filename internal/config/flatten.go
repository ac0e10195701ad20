package config

import (
	"sort"
	"strings"
)

// secretKeys lists the known dot-separated keys whose values are masked.
var secretKeys = map[string]bool{
	"llm.api_key":    true,
	"source.api_key": true,
	"telegram.token": true,
}

// secretSuffixes catch secrets under keys added with `config set`.
var secretSuffixes = []string{"api_key", "token", "password", "secret"}

// minRevealLen is the shortest secret whose tail is shown when masked.
const minRevealLen = 9

// IsSecretKey reports whether the dot-separated key holds a secret.
func IsSecretKey(key string) bool {
	if secretKeys[key] {
		return true
	}
	last := key[strings.LastIndex(key, ".")+1:]
	for _, suffix := range secretSuffixes {
		if last == suffix || strings.HasSuffix(last, "_"+suffix) {
			return true
		}
	}
	return false
}

// Flatten converts a nested map into a flat map with dot-separated keys.
// For example, {"sync": {"namespace": "feed"}} becomes {"sync.namespace": "feed"}.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	flatten("", m, out)
	return out
}

func flatten(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok {
			flatten(key, child, out)
			continue
		}
		out[key] = v
	}
}

// Unflatten converts a flat map with dot-separated keys back into a nested
// map. A scalar sitting where a key needs a nested map is replaced.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range flat {
		parts := strings.Split(k, ".")
		current := out
		for _, part := range parts[:len(parts)-1] {
			m, ok := current[part].(map[string]any)
			if !ok {
				m = make(map[string]any)
				current[part] = m
			}
			current = m
		}
		current[parts[len(parts)-1]] = v
	}
	return out
}

// SortedKeys returns the keys of a flat map in lexical order.
func SortedKeys(flat map[string]any) []string {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MaskSecrets returns a copy of the flat map with secret values masked as
// "***" followed by the last four characters. Secrets shorter than
// minRevealLen are masked entirely. Empty and non-string values pass through.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		out[k] = v
		if !IsSecretKey(k) {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			out[k] = mask(s)
		}
	}
	return out
}

func mask(s string) string {
	runes := []rune(s)
	if len(runes) < minRevealLen {
		return "***"
	}
	return "***" + string(runes[len(runes)-4:])
}

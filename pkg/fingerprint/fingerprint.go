// Package fingerprint computes the content digest used to shortcut no-op updates.
package fingerprint

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// DefaultExclusions are never part of a record digest: the digest itself and the
// envelope timestamps.
var DefaultExclusions = map[string]bool{
	"md5":      true,
	"_created": true,
	"_updated": true,
}

// Generate returns the md5 of the canonical JSON of data without DefaultExclusions.
func Generate(data map[string]any) string {
	return GenerateWithExclusions(data, DefaultExclusions)
}

// GenerateWithExclusions hashes data excluding the given top-level or dotted paths.
func GenerateWithExclusions(data map[string]any, excludeFields map[string]bool) string {
	var b strings.Builder
	canonicalize(&b, data, excludeFields, "")
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// GenerateFromJSON hashes a raw JSON object.
func GenerateFromJSON(data json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return "", err
	}
	return Generate(m), nil
}

// Canonical returns the canonical JSON text of data (sorted keys, UTF-8, no HTML escaping).
func Canonical(data map[string]any) string {
	var b strings.Builder
	canonicalize(&b, data, nil, "")
	return b.String()
}

// Verify reports whether data carries the digest of its own content.
func Verify(data map[string]any) bool {
	md5, _ := data["md5"].(string)
	return md5 != "" && md5 == Generate(data)
}

func canonicalize(b *strings.Builder, data any, exclude map[string]bool, path string) {
	switch v := data.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('{')
		first := true
		for _, k := range keys {
			fieldPath := k
			if path != "" {
				fieldPath = path + "." + k
			}
			if excluded(fieldPath, exclude) {
				continue
			}
			if !first {
				b.WriteByte(',')
			}
			first = false
			writeScalar(b, k)
			b.WriteByte(':')
			canonicalize(b, v[k], exclude, fieldPath)
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, e := range v {
			if i > 0 {
				b.WriteByte(',')
			}
			canonicalize(b, e, exclude, path)
		}
		b.WriteByte(']')
	case []string:
		b.WriteByte('[')
		for i, e := range v {
			if i > 0 {
				b.WriteByte(',')
			}
			writeScalar(b, e)
		}
		b.WriteByte(']')
	default:
		writeScalar(b, v)
	}
}

func writeScalar(b *strings.Builder, v any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		b.WriteString("null")
		return
	}
	b.Write(bytes.TrimRight(buf.Bytes(), "\n"))
}

func excluded(fieldPath string, exclude map[string]bool) bool {
	if exclude == nil {
		return false
	}
	if exclude[fieldPath] {
		return true
	}
	for e := range exclude {
		if strings.HasPrefix(fieldPath, e+".") {
			return true
		}
	}
	return false
}

// HasChanged compares two digests.
func HasChanged(oldFingerprint, newFingerprint string) bool {
	return oldFingerprint != newFingerprint
}

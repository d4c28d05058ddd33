package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateIgnoresKeyOrderAndMetadata(t *testing.T) {
	a := map[string]any{
		"pid":  "069774331",
		"type": "bf:Person",
		"identifiedBy": []any{
			map[string]any{"value": "x", "type": "uri", "source": "IDREF"},
		},
	}
	b := map[string]any{
		"type":     "bf:Person",
		"pid":      "069774331",
		"md5":      "stale",
		"_created": "2020-01-01T00:00:00Z",
		"_updated": "2021-01-01T00:00:00Z",
		"identifiedBy": []any{
			map[string]any{"source": "IDREF", "type": "uri", "value": "x"},
		},
	}
	assert.Equal(t, Generate(a), Generate(b))
}

func TestGenerateIsMD5OfCanonicalJSON(t *testing.T) {
	data := map[string]any{"b": "é<", "a": []any{float64(1), true, nil}}
	canonical := Canonical(data)
	assert.Equal(t, `{"a":[1,true,null],"b":"é<"}`, canonical)

	sum := md5.Sum([]byte(canonical))
	assert.Equal(t, hex.EncodeToString(sum[:]), Generate(data))
}

func TestVerify(t *testing.T) {
	data := map[string]any{"pid": "1", "type": "bf:Topic"}
	data["md5"] = Generate(data)
	assert.True(t, Verify(data))

	data["authorized_access_point"] = "changed"
	assert.False(t, Verify(data))
}

func TestGenerateWithNestedExclusions(t *testing.T) {
	a := map[string]any{"pid": "1", "meta": map[string]any{"seen": "today", "k": "v"}}
	b := map[string]any{"pid": "1", "meta": map[string]any{"seen": "yesterday", "k": "v"}}
	ex := map[string]bool{"meta.seen": true}

	assert.Equal(t, GenerateWithExclusions(a, ex), GenerateWithExclusions(b, ex))
	assert.True(t, HasChanged(Generate(a), Generate(b)))
}

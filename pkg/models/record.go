package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Field names shared by every record kind.
const (
	FieldPid                   = "pid"
	FieldType                  = "type"
	FieldMD5                   = "md5"
	FieldDeleted               = "deleted"
	FieldRelationPid           = "relation_pid"
	FieldIdentifiedBy          = "identifiedBy"
	FieldAuthorizedAccessPoint = "authorized_access_point"
	FieldVariantAccessPoint    = "variant_access_point"
	FieldAssociationIdentifier = "association_identifier"
	FieldViafPid               = "viaf_pid"
	FieldSources               = "sources"
	FieldCreated               = "_created"
	FieldUpdated               = "_updated"
	FieldRef                   = "$ref"
)

// Entity types emitted by the transformers.
const (
	TypePerson       = "bf:Person"
	TypeOrganisation = "bf:Organisation"
	TypeTopic        = "bf:Topic"
	TypePlace        = "bf:Place"
)

// Relation types carried in relation_pid.
const (
	RedirectTo   = "redirect_to"
	RedirectFrom = "redirect_from"
)

// DateLayout is the layout of deleted/_created/_updated timestamps.
const DateLayout = time.RFC3339Nano

// RecordState distinguishes live records from redirect stubs and tombstones.
type RecordState int

const (
	StateLive RecordState = iota
	StateRedirect
	StateTombstone
)

func (s RecordState) String() string {
	switch s {
	case StateRedirect:
		return "redirect"
	case StateTombstone:
		return "tombstone"
	}
	return "live"
}

// RelationPid links a record to its predecessor or successor.
type RelationPid struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Document is one persisted JSON blob plus its envelope timestamps. Source records,
// MEF clusters and VIAF records all share this shape.
type Document struct {
	Key     Key
	Data    map[string]any
	Created time.Time
	Updated time.Time
}

// NewDocument builds a document for key, copying data.
func NewDocument(key Key, data map[string]any) *Document {
	return &Document{Key: key, Data: CloneMap(data)}
}

func (d *Document) Pid() string     { return d.String(FieldPid) }
func (d *Document) Type() string    { return d.String(FieldType) }
func (d *Document) MD5() string     { return d.String(FieldMD5) }
func (d *Document) Deleted() string { return d.String(FieldDeleted) }

// String returns a top level string field or "".
func (d *Document) String(field string) string {
	if d == nil || d.Data == nil {
		return ""
	}
	s, _ := d.Data[field].(string)
	return s
}

// IsDeleted reports whether the document carries a deleted timestamp.
func (d *Document) IsDeleted() bool { return d.Deleted() != "" }

// RelationPid returns the relation_pid field when present and well formed.
func (d *Document) RelationPid() *RelationPid {
	if d == nil {
		return nil
	}
	return RelationPidOf(d.Data)
}

// RelationPidOf extracts relation_pid from raw record data.
func RelationPidOf(data map[string]any) *RelationPid {
	raw, ok := data[FieldRelationPid].(map[string]any)
	if !ok {
		return nil
	}
	t, _ := raw["type"].(string)
	v, _ := raw["value"].(string)
	if t == "" || v == "" {
		return nil
	}
	return &RelationPid{Type: t, Value: v}
}

// RedirectTarget returns the successor pid of a redirect stub.
func (d *Document) RedirectTarget() string {
	if rel := d.RelationPid(); rel != nil && rel.Type == RedirectTo {
		return rel.Value
	}
	return ""
}

// State classifies the document.
func (d *Document) State() RecordState {
	if d.RedirectTarget() != "" {
		return StateRedirect
	}
	if d.IsDeleted() {
		return StateTombstone
	}
	return StateLive
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	return &Document{Key: d.Key, Data: CloneMap(d.Data), Created: d.Created, Updated: d.Updated}
}

// View renders the blob with its envelope timestamps.
func (d *Document) View() map[string]any {
	view := CloneMap(d.Data)
	if !d.Created.IsZero() {
		view[FieldCreated] = d.Created.UTC().Format(DateLayout)
	}
	if !d.Updated.IsZero() {
		view[FieldUpdated] = d.Updated.UTC().Format(DateLayout)
	}
	return view
}

func (d *Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.View())
}

// envelope is the on-disk encoding used by the key/value stores.
type envelope struct {
	Data    map[string]any `json:"data"`
	Created time.Time      `json:"created"`
	Updated time.Time      `json:"updated"`
}

// EncodeDocument serialises a document for a key/value store.
func EncodeDocument(d *Document) ([]byte, error) {
	return json.Marshal(envelope{Data: d.Data, Created: d.Created, Updated: d.Updated})
}

// DecodeDocument is the inverse of EncodeDocument.
func DecodeDocument(key Key, raw []byte) (*Document, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &Document{Key: key, Data: env.Data, Created: env.Created, Updated: env.Updated}, nil
}

// Normalize round-trips v through encoding/json so that every value is one of the
// JSON-native Go types (string, float64, bool, nil, []any, map[string]any).
func Normalize(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CloneMap deep-copies JSON-native data.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	}
	return v
}

// StringList reads a list of strings from data[field], skipping non strings.
func StringList(data map[string]any, field string) []string {
	switch t := data[field].(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

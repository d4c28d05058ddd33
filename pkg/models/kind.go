package models

import (
	"fmt"
	"strings"
)

// Kind is an entity kind handled by the MEF.
type Kind string

const (
	KindAgents   Kind = "agents"
	KindConcepts Kind = "concepts"
	KindPlaces   Kind = "places"
)

// Kinds lists every supported entity kind.
var Kinds = []Kind{KindAgents, KindConcepts, KindPlaces}

// ParseKind accepts the plural form used in URLs as well as the singular.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "agents", "agent":
		return KindAgents, nil
	case "concepts", "concept":
		return KindConcepts, nil
	case "places", "place":
		return KindPlaces, nil
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

func (k Kind) String() string { return string(k) }

// Source is an authority source (or one of the two internal pseudo sources).
type Source string

const (
	SourceGND   Source = "gnd"
	SourceIdRef Source = "idref"
	SourceRERO  Source = "rero"
	SourceVIAF  Source = "viaf"
	SourceMEF   Source = "mef"
)

// AuthoritySources are the sources that carry MARC records.
var AuthoritySources = []Source{SourceGND, SourceIdRef, SourceRERO}

// ParseSource returns the source for s or an error for unknown names.
func ParseSource(s string) (Source, error) {
	src := Source(strings.ToLower(strings.TrimSpace(s)))
	switch src {
	case SourceGND, SourceIdRef, SourceRERO, SourceVIAF, SourceMEF:
		return src, nil
	}
	return "", fmt.Errorf("unknown source %q", s)
}

func (s Source) String() string { return string(s) }

// PidField is the field name a VIAF record uses for this source, e.g. gnd_pid.
func (s Source) PidField() string { return string(s) + "_pid" }

// Key addresses one persisted document.
type Key struct {
	Kind   Kind   `json:"kind"`
	Source Source `json:"source"`
	Pid    string `json:"pid"`
}

func NewKey(kind Kind, source Source, pid string) Key {
	return Key{Kind: kind, Source: source, Pid: pid}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Kind, k.Source, k.Pid)
}

// ParseKey parses the "kind/source/pid" form produced by Key.String.
func ParseKey(s string) (Key, error) {
	parts := strings.SplitN(s, "/", 3)
	if len(parts) != 3 || parts[2] == "" {
		return Key{}, fmt.Errorf("invalid key %q", s)
	}
	kind, err := ParseKind(parts[0])
	if err != nil {
		return Key{}, err
	}
	source, err := ParseSource(parts[1])
	if err != nil {
		return Key{}, err
	}
	return NewKey(kind, source, parts[2]), nil
}

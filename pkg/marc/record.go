// Package marc holds the parsed MARC authority record model shared by MARC21 and
// UNIMARC sources, and its MARCXML encoding.
package marc

import (
	"fmt"
	"strings"
)

// Subfield is one coded value of a data field.
type Subfield struct {
	Code  string `xml:"code,attr"`
	Value string `xml:",chardata"`
}

// ControlField is a 00X field.
type ControlField struct {
	Tag   string `xml:"tag,attr"`
	Value string `xml:",chardata"`
}

// DataField is a variable data field with two indicators and ordered subfields.
type DataField struct {
	Tag       string     `xml:"tag,attr"`
	Ind1      string     `xml:"ind1,attr"`
	Ind2      string     `xml:"ind2,attr"`
	Subfields []Subfield `xml:"subfield"`
}

// Record is one authority record.
type Record struct {
	Leader        string         `xml:"leader"`
	ControlFields []ControlField `xml:"controlfield"`
	DataFields    []DataField    `xml:"datafield"`
}

// Validate checks the tag level structure the transformers rely on.
func (r *Record) Validate() error {
	if r == nil {
		return fmt.Errorf("nil record")
	}
	for _, cf := range r.ControlFields {
		if !validTag(cf.Tag) {
			return fmt.Errorf("malformed control field tag %q", cf.Tag)
		}
	}
	for _, df := range r.DataFields {
		if !validTag(df.Tag) {
			return fmt.Errorf("malformed data field tag %q", df.Tag)
		}
		for _, sf := range df.Subfields {
			if len(sf.Code) != 1 {
				return fmt.Errorf("malformed subfield code %q in field %s", sf.Code, df.Tag)
			}
		}
	}
	return nil
}

func validTag(tag string) bool {
	if len(tag) != 3 {
		return false
	}
	for _, c := range tag {
		if !(c >= '0' && c <= '9') && !(c >= 'A' && c <= 'Z') && !(c >= 'a' && c <= 'z') {
			return false
		}
	}
	return true
}

// LeaderAt returns leader[pos] or ' ' when the leader is shorter.
func (r *Record) LeaderAt(pos int) byte {
	if pos < 0 || pos >= len(r.Leader) {
		return ' '
	}
	return r.Leader[pos]
}

// Control returns the value of the first control field with tag.
func (r *Record) Control(tag string) string {
	for _, cf := range r.ControlFields {
		if cf.Tag == tag {
			return strings.TrimSpace(cf.Value)
		}
	}
	return ""
}

// Fields returns the data fields matching any of tags, in record order.
func (r *Record) Fields(tags ...string) []DataField {
	var out []DataField
	for _, df := range r.DataFields {
		for _, t := range tags {
			if df.Tag == t {
				out = append(out, df)
				break
			}
		}
	}
	return out
}

// Field returns the first data field matching any of tags.
func (r *Record) Field(tags ...string) (DataField, bool) {
	for _, df := range r.DataFields {
		for _, t := range tags {
			if df.Tag == t {
				return df, true
			}
		}
	}
	return DataField{}, false
}

// Has reports whether any control or data field with one of tags exists.
func (r *Record) Has(tags ...string) bool {
	for _, t := range tags {
		if r.Control(t) != "" {
			return true
		}
	}
	_, ok := r.Field(tags...)
	return ok
}

// Subfield returns the first value for code.
func (f DataField) Subfield(code string) string {
	for _, sf := range f.Subfields {
		if sf.Code == code {
			return sf.Value
		}
	}
	return ""
}

// Values returns every value for code.
func (f DataField) Values(code string) []string {
	var out []string
	for _, sf := range f.Subfields {
		if sf.Code == code {
			out = append(out, sf.Value)
		}
	}
	return out
}

// Select returns the subfields whose code is in codes, keeping field order.
func (f DataField) Select(codes string) []Subfield {
	var out []Subfield
	for _, sf := range f.Subfields {
		if strings.Contains(codes, sf.Code) {
			out = append(out, sf)
		}
	}
	return out
}

// HasSubfield reports whether code occurs in the field.
func (f DataField) HasSubfield(code string) bool {
	for _, sf := range f.Subfields {
		if sf.Code == code {
			return true
		}
	}
	return false
}

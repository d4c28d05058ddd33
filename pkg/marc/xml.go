package marc

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
)

// Namespace is the MARCXML slim namespace written by Encode.
const Namespace = "http://www.loc.gov/MARC21/slim"

type xmlRecord struct {
	XMLName xml.Name `xml:"record"`
	Record
}

type xmlCollection struct {
	XMLName xml.Name    `xml:"collection"`
	Xmlns   string      `xml:"xmlns,attr"`
	Records []xmlRecord `xml:"record"`
}

// Decode parses a single MARCXML <record> element.
func Decode(data []byte) (*Record, error) {
	var rec xmlRecord
	if err := xml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode marcxml: %w", err)
	}
	return &rec.Record, nil
}

// DecodeAll streams every <record> element found in r, at any depth, to fn. It reads
// bare records, <collection> files and OAI envelopes alike. Returning an error from fn
// stops the scan.
func DecodeAll(r io.Reader, fn func(*Record) error) error {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read marcxml: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "record" || !isMarcRecord(start) {
			continue
		}
		var rec Record
		if err := dec.DecodeElement(&rec, &start); err != nil {
			return fmt.Errorf("decode marcxml record: %w", err)
		}
		if err := fn(&rec); err != nil {
			return err
		}
	}
}

// OAI envelopes also call their items <record>; only MARC ones (or un-namespaced) count.
func isMarcRecord(start xml.StartElement) bool {
	return start.Name.Space == "" || start.Name.Space == Namespace
}

// Encode renders rec as a MARCXML <record>.
func Encode(rec *Record) ([]byte, error) {
	out, err := xml.Marshal(xmlRecord{Record: *rec})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EncodeCollection writes records wrapped in a <collection>.
func EncodeCollection(w io.Writer, recs []*Record) error {
	coll := xmlCollection{Xmlns: Namespace}
	for _, r := range recs {
		coll.Records = append(coll.Records, xmlRecord{Record: *r})
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(coll); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

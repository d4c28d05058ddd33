package oai

import (
	"encoding/xml"
	"strings"

	"github.com/Ramsey-B/mef/pkg/marc"
)

// Header is the OAI record header.
type Header struct {
	Identifier string   `xml:"identifier"`
	Datestamp  string   `xml:"datestamp"`
	Status     string   `xml:"status,attr"`
	SetSpecs   []string `xml:"setSpec"`
}

// Deleted reports status="deleted".
func (h Header) Deleted() bool { return h.Status == "deleted" }

// Pid is the local part of an oai:<repo>:<pid> identifier.
func (h Header) Pid() string {
	id := strings.TrimSpace(h.Identifier)
	if i := strings.LastIndexAny(id, ":/"); i >= 0 {
		return id[i+1:]
	}
	return id
}

// Record is one harvested item. Metadata is nil for deleted headers.
type Record struct {
	Header   Header
	Metadata *marc.Record
}

// Page is one ListRecords response.
type Page struct {
	Records          []Record
	ResumptionToken  string
	CompleteListSize int
}

type envelope struct {
	XMLName     xml.Name     `xml:"OAI-PMH"`
	Error       *oaiError    `xml:"error"`
	ListRecords *listRecords `xml:"ListRecords"`
}

type oaiError struct {
	Code    string `xml:"code,attr"`
	Message string `xml:",chardata"`
}

type listRecords struct {
	Records []oaiRecord      `xml:"record"`
	Token   *resumptionToken `xml:"resumptionToken"`
}

type oaiRecord struct {
	Header   Header    `xml:"header"`
	Metadata *metadata `xml:"metadata"`
}

type metadata struct {
	Record *marc.Record `xml:"record"`
}

type resumptionToken struct {
	Value            string `xml:",chardata"`
	CompleteListSize string `xml:"completeListSize,attr"`
}

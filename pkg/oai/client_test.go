package oai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mefErrors "github.com/Ramsey-B/mef/pkg/errors"
	"github.com/Ramsey-B/mef/pkg/logging"
)

const page1 = `<?xml version="1.0" encoding="UTF-8"?>
<OAI-PMH xmlns="http://www.openarchives.org/OAI/2.0/">
  <ListRecords>
    <record>
      <header><identifier>oai:IdRefOAIServer.fr:069774331</identifier><datestamp>2024-05-01</datestamp><setSpec>a</setSpec></header>
      <metadata>
        <marc:record xmlns:marc="http://www.loc.gov/MARC21/slim">
          <marc:leader>00000nx  a2200000   4500</marc:leader>
          <marc:controlfield tag="001">069774331</marc:controlfield>
          <marc:datafield tag="200" ind1=" " ind2="1"><marc:subfield code="a">Brissé</marc:subfield><marc:subfield code="b">Nicolas</marc:subfield></marc:datafield>
        </marc:record>
      </metadata>
    </record>
    <record>
      <header status="deleted"><identifier>oai:IdRefOAIServer.fr:02655464X</identifier><datestamp>2024-05-02</datestamp></header>
    </record>
    <resumptionToken completeListSize="3" cursor="0"> token-2 </resumptionToken>
  </ListRecords>
</OAI-PMH>`

func TestParse(t *testing.T) {
	page, err := Parse([]byte(page1))
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "token-2", page.ResumptionToken)
	assert.Equal(t, 3, page.CompleteListSize)

	first := page.Records[0]
	assert.False(t, first.Header.Deleted())
	assert.Equal(t, "069774331", first.Header.Pid())
	assert.Equal(t, []string{"a"}, first.Header.SetSpecs)
	require.NotNil(t, first.Metadata)
	assert.Equal(t, "069774331", first.Metadata.Control("001"))
	df, ok := first.Metadata.Field("200")
	require.True(t, ok)
	assert.Equal(t, "Nicolas", df.Subfield("b"))

	deleted := page.Records[1]
	assert.True(t, deleted.Header.Deleted())
	assert.Equal(t, "02655464X", deleted.Header.Pid())
	assert.Nil(t, deleted.Metadata)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		empty bool
		check func(error) bool
	}{
		{name: "no records match", body: `<OAI-PMH><error code="noRecordsMatch">none</error></OAI-PMH>`, empty: true},
		{name: "bad argument", body: `<OAI-PMH><error code="badArgument">set</error></OAI-PMH>`, check: mefErrors.IsMisconfiguration},
		{name: "truncated", body: `<OAI-PMH><ListRecords><record>`, check: mefErrors.IsRemoteTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := Parse([]byte(tt.body))
			if tt.empty {
				require.NoError(t, err)
				assert.Empty(t, page.Records)
				return
			}
			require.Error(t, err)
			assert.True(t, tt.check(err), err.Error())
		})
	}
}

func TestListRecords(t *testing.T) {
	var queries []string
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.RawQuery)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(page1))
	}))
	defer srv.Close()

	c := NewClient(DefaultConfig(), logging.Discard())
	req := Request{
		Source:         "idref",
		BaseURL:        srv.URL + "/oai",
		MetadataPrefix: "marc-xml",
		Set:            "a",
		From:           time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Until:          time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC),
	}

	page, err := c.ListRecords(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, page.Records, 2)
	assert.Equal(t, "from=2024-05-01&metadataPrefix=marc-xml&set=a&until=2024-05-30&verb=ListRecords", queries[0])

	req.ResumptionToken = page.ResumptionToken
	_, err = c.ListRecords(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "resumptionToken=token-2&verb=ListRecords", queries[1])

	status = http.StatusServiceUnavailable
	_, err = c.ListRecords(context.Background(), req)
	assert.True(t, mefErrors.IsRemoteTransient(err))

	status = http.StatusNotFound
	_, err = c.ListRecords(context.Background(), req)
	assert.True(t, mefErrors.IsMisconfiguration(err))
}

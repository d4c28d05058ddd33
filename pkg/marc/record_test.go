package marc

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleXML = `<?xml version="1.0" encoding="UTF-8"?>
<collection xmlns="http://www.loc.gov/MARC21/slim">
  <record>
    <leader>00000nz  a2200000n  4500</leader>
    <controlfield tag="001">12391664X</controlfield>
    <datafield tag="100" ind1="1" ind2=" ">
      <subfield code="a">Brissé, Nicolas</subfield>
      <subfield code="d">1950-</subfield>
    </datafield>
    <datafield tag="400" ind1="1" ind2=" ">
      <subfield code="a">Brisse, N.</subfield>
    </datafield>
  </record>
</collection>`

func TestDecodeAllCollection(t *testing.T) {
	var recs []*Record
	err := DecodeAll(strings.NewReader(sampleXML), func(r *Record) error {
		recs = append(recs, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	rec := recs[0]
	assert.Equal(t, "12391664X", rec.Control("001"))
	assert.Equal(t, byte('n'), rec.LeaderAt(5))
	assert.Equal(t, byte(' '), rec.LeaderAt(99))

	f, ok := rec.Field("100")
	require.True(t, ok)
	assert.Equal(t, "1", f.Ind1)
	assert.Equal(t, "Brissé, Nicolas", f.Subfield("a"))
	assert.Len(t, rec.Fields("100", "400"), 2)
	assert.NoError(t, rec.Validate())
}

func TestDecodeAllSkipsOAIRecordElements(t *testing.T) {
	oai := `<OAI-PMH xmlns="http://www.openarchives.org/OAI/2.0/"><ListRecords>
	<record><header><identifier>oai:dnb:1</identifier></header><metadata>
	<record xmlns="http://www.loc.gov/MARC21/slim" type="Authority"><controlfield tag="001">1</controlfield></record>
	</metadata></record></ListRecords></OAI-PMH>`

	var pids []string
	err := DecodeAll(strings.NewReader(oai), func(r *Record) error {
		pids = append(pids, r.Control("001"))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, pids)
}

func TestEncodeRoundTrip(t *testing.T) {
	rec := NewBuilder("00000nz  a2200000n  4500").
		Control("001", "069774331").
		Field("200", " ", "1", "a", "Brissé", "b", "Nicolas").
		Record()

	var buf bytes.Buffer
	require.NoError(t, EncodeCollection(&buf, []*Record{rec}))

	var got []*Record
	require.NoError(t, DecodeAll(&buf, func(r *Record) error {
		got = append(got, r)
		return nil
	}))
	require.Len(t, got, 1)
	assert.Equal(t, rec.DataFields, got[0].DataFields)
}

func TestValidateRejectsBadTags(t *testing.T) {
	rec := NewBuilder("").Field("1X", " ", " ", "a", "x").Record()
	assert.Error(t, rec.Validate())

	rec = NewBuilder("").Field("100", " ", " ", "ab", "x").Record()
	assert.Error(t, rec.Validate())
}

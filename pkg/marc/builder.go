package marc

// Builder assembles records fluently; used by fixtures and the replay tooling.
type Builder struct {
	rec Record
}

// NewBuilder starts a record with leader.
func NewBuilder(leader string) *Builder {
	return &Builder{rec: Record{Leader: leader}}
}

// Control appends a control field.
func (b *Builder) Control(tag, value string) *Builder {
	b.rec.ControlFields = append(b.rec.ControlFields, ControlField{Tag: tag, Value: value})
	return b
}

// Field appends a data field; codeValues alternates subfield code and value.
func (b *Builder) Field(tag, ind1, ind2 string, codeValues ...string) *Builder {
	df := DataField{Tag: tag, Ind1: ind1, Ind2: ind2}
	for i := 0; i+1 < len(codeValues); i += 2 {
		df.Subfields = append(df.Subfields, Subfield{Code: codeValues[i], Value: codeValues[i+1]})
	}
	b.rec.DataFields = append(b.rec.DataFields, df)
	return b
}

// Record returns a copy of the built record.
func (b *Builder) Record() *Record {
	rec := b.rec
	rec.ControlFields = append([]ControlField(nil), b.rec.ControlFields...)
	rec.DataFields = append([]DataField(nil), b.rec.DataFields...)
	return &rec
}

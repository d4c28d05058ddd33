// Package viaf ingests the VIAF cross reference used to cluster agents.
package viaf

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/jmespath/go-jmespath"

	"github.com/Ramsey-B/mef/pkg/models"
)

// Row is one VIAF cluster: a VIAF id and at most one pid per authority source.
type Row struct {
	Pid     string
	Sources map[models.Source]string
}

// Data renders the row as a VIAF record.
func (r Row) Data() map[string]any {
	data := map[string]any{models.FieldPid: r.Pid}
	for source, pid := range r.Sources {
		data[source.PidField()] = pid
	}
	return data
}

// RowOf reads a stored VIAF record back into a row.
func RowOf(doc *models.Document) Row {
	row := Row{Pid: doc.Pid(), Sources: map[models.Source]string{}}
	if doc.IsDeleted() {
		return row
	}
	for _, source := range models.AuthoritySources {
		if pid := doc.String(source.PidField()); pid != "" {
			row.Sources[source] = pid
		}
	}
	return row
}

// Expressions are the JMESPath expressions locating the VIAF id and the source
// pids in one JSON line of a dump.
type Expressions struct {
	Pid     string
	Sources map[models.Source]string
}

// DefaultExpressions read both the MEF export shape ({"pid", "gnd_pid", ...}) and
// the clustered VIAF shape ({"viafID", "sources": {"DNB": ...}}).
var DefaultExpressions = Expressions{
	Pid: "pid || viaf_pid || viafID",
	Sources: map[models.Source]string{
		models.SourceGND:   "gnd_pid || sources.DNB",
		models.SourceIdRef: "idref_pid || sources.SUDOC",
		models.SourceRERO:  "rero_pid || sources.RERO",
	},
}

// JSONParser reads newline delimited JSON dumps.
type JSONParser struct {
	pid     *jmespath.JMESPath
	sources map[models.Source]*jmespath.JMESPath
}

func NewJSONParser(exprs Expressions) (*JSONParser, error) {
	pid, err := jmespath.Compile(exprs.Pid)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", exprs.Pid, err)
	}
	p := &JSONParser{pid: pid, sources: map[models.Source]*jmespath.JMESPath{}}
	for source, expr := range exprs.Sources {
		compiled, err := jmespath.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid expression %q: %w", expr, err)
		}
		p.sources[source] = compiled
	}
	return p, nil
}

// Parse calls fn for every line carrying a VIAF id. Blank lines are skipped.
func (p *JSONParser) Parse(r io.Reader, fn func(Row) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var data any
		if err := json.Unmarshal([]byte(text), &data); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		row, err := p.row(data)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if row.Pid == "" {
			continue
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (p *JSONParser) row(data any) (Row, error) {
	pid, err := searchString(p.pid, data)
	if err != nil {
		return Row{}, err
	}
	row := Row{Pid: pid, Sources: map[models.Source]string{}}
	for source, expr := range p.sources {
		v, err := searchString(expr, data)
		if err != nil {
			return Row{}, err
		}
		if v != "" {
			row.Sources[source] = v
		}
	}
	return row, nil
}

// searchString evaluates expr and reduces the result to one string; for lists the
// first element wins.
func searchString(expr *jmespath.JMESPath, data any) (string, error) {
	result, err := expr.Search(data)
	if err != nil {
		return "", err
	}
	if list, ok := result.([]any); ok {
		if len(list) == 0 {
			return "", nil
		}
		result = list[0]
	}
	switch v := result.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	}
	return fmt.Sprintf("%v", result), nil
}

// linkSources maps the source codes of the VIAF links file.
var linkSources = map[string]models.Source{
	"DNB":   models.SourceGND,
	"SUDOC": models.SourceIdRef,
	"RERO":  models.SourceRERO,
}

// ParseLinks reads the VIAF "links" export, one "<viaf uri>\t<CODE>|<id>" pair per
// line, grouped by VIAF id. Codes of other agencies are ignored.
func ParseLinks(r io.Reader, fn func(Row) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var cur *Row
	flush := func() error {
		if cur == nil || len(cur.Sources) == 0 {
			cur = nil
			return nil
		}
		row := *cur
		cur = nil
		return fn(row)
	}

	for scanner.Scan() {
		uri, link, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "\t")
		if !ok {
			continue
		}
		viafPid := uri[strings.LastIndex(uri, "/")+1:]
		code, id, ok := strings.Cut(link, "|")
		if viafPid == "" || !ok {
			continue
		}
		if cur != nil && cur.Pid != viafPid {
			if err := flush(); err != nil {
				return err
			}
		}
		if cur == nil {
			cur = &Row{Pid: viafPid, Sources: map[models.Source]string{}}
		}
		source, known := linkSources[strings.ToUpper(code)]
		if !known {
			continue
		}
		id = strings.TrimSpace(id)
		if i := strings.LastIndex(id, "/"); i >= 0 {
			id = id[i+1:]
		}
		if _, seen := cur.Sources[source]; !seen && id != "" {
			cur.Sources[source] = id
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return flush()
}

// Affected lists the (source, pid) pairs of old and new, sorted, and reports which
// of them the new row no longer lists.
func Affected(old, new Row) (keys []SourcePid, removed map[SourcePid]bool) {
	seen := map[SourcePid]bool{}
	removed = map[SourcePid]bool{}
	for source, pid := range old.Sources {
		sp := SourcePid{source, pid}
		seen[sp] = true
		if new.Sources[source] != pid {
			removed[sp] = true
		}
	}
	for source, pid := range new.Sources {
		seen[SourcePid{source, pid}] = true
	}
	for sp := range seen {
		keys = append(keys, sp)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Source != keys[j].Source {
			return keys[i].Source < keys[j].Source
		}
		return keys[i].Pid < keys[j].Pid
	})
	return keys, removed
}

// SourcePid names one source record.
type SourcePid struct {
	Source models.Source
	Pid    string
}

package harvest

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/mef/config"
	"github.com/Ramsey-B/mef/pkg/coordinator"
	mefErrors "github.com/Ramsey-B/mef/pkg/errors"
	"github.com/Ramsey-B/mef/pkg/logging"
	"github.com/Ramsey-B/mef/pkg/marc"
	"github.com/Ramsey-B/mef/pkg/models"
	"github.com/Ramsey-B/mef/pkg/oai"
	"github.com/Ramsey-B/mef/pkg/store"
)

func TestWindows(t *testing.T) {
	day := 24 * time.Hour
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		until time.Time
		span  time.Duration
		want  int
		last  time.Time
	}{
		{name: "exact", until: from.Add(60 * day), span: 30 * day, want: 2, last: from.Add(60 * day)},
		{name: "cut", until: from.Add(45 * day), span: 30 * day, want: 2, last: from.Add(45 * day)},
		{name: "single", until: from.Add(day), span: 30 * day, want: 1, last: from.Add(day)},
		{name: "empty", until: from, span: 30 * day, want: 0},
		{name: "no span", until: from.Add(day), span: 0, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := Windows(from, tt.until, tt.span)
			require.Len(t, ws, tt.want)
			if tt.want == 0 {
				return
			}
			assert.Equal(t, from, ws[0].From)
			assert.Equal(t, tt.last, ws[len(ws)-1].Until)
			for i := 1; i < len(ws); i++ {
				assert.Equal(t, ws[i-1].Until, ws[i].From)
			}
		})
	}
}

type call struct {
	deleted bool
	pid     string
}

type fakeProcessor struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]error
}

func (p *fakeProcessor) Process(_ context.Context, _ models.Source, _ models.Kind, rec *marc.Record) (*coordinator.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pid := rec.Control("001")
	p.calls = append(p.calls, call{pid: pid})
	if err := p.fail[pid]; err != nil {
		return nil, err
	}
	if pid == "" {
		return &coordinator.Result{Action: models.ActionDiscard}, nil
	}
	return &coordinator.Result{Action: models.ActionCreate}, nil
}

func (p *fakeProcessor) Delete(_ context.Context, _ models.Source, _ models.Kind, pid string) (*coordinator.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call{deleted: true, pid: pid})
	return &coordinator.Result{Action: models.ActionDelete}, nil
}

func oaiRecord(pid string) string {
	raw, err := marc.Encode(marc.NewBuilder("00000nx  a2200000   4500").
		Control("001", pid).
		Field("200", " ", "1", "a", "Name "+pid).
		Record())
	if err != nil {
		panic(err)
	}
	return fmt.Sprintf(`<record><header><identifier>oai:test:%s</identifier></header><metadata>%s</metadata></record>`, pid, raw)
}

func oaiPage(token string, records ...string) string {
	tok := ""
	if token != "" {
		tok = "<resumptionToken>" + token + "</resumptionToken>"
	}
	return `<OAI-PMH><ListRecords>` + strings.Join(records, "") + tok + `</ListRecords></OAI-PMH>`
}

type server struct {
	*httptest.Server
	mu       sync.Mutex
	requests []string
	failures int
}

func newServer(t *testing.T, pages map[string]string) *server {
	s := &server{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.URL.RawQuery)
		failing := s.failures > 0
		if failing {
			s.failures--
		}
		s.mu.Unlock()
		if failing {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		key := r.URL.Query().Get("resumptionToken")
		if key == "" {
			key = "from=" + r.URL.Query().Get("from")
		}
		body, ok := pages[key]
		if !ok {
			body = `<OAI-PMH><error code="noRecordsMatch"/></OAI-PMH>`
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(s.Close)
	return s
}

func sources(endpoint string) config.Sources {
	return config.Sources{
		models.SourceIdRef: {
			Endpoint: endpoint,
			Feeds: map[models.Kind]config.Feed{
				models.KindAgents: {MetadataPrefix: "marc-xml"},
			},
		},
	}
}

func newHarvester(srv *server, proc Processor, s store.Store, cfg Config, opts ...Option) *Harvester {
	if cfg.Span == 0 {
		cfg.Span = 10 * 24 * time.Hour
	}
	cfg.RetryBase = time.Millisecond
	return New(oai.NewClient(oai.DefaultConfig(), logging.Discard()), proc, sources(srv.URL), s, logging.Discard(), cfg, opts...)
}

func TestHarvestWindowsAndTokens(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	until := from.Add(20 * 24 * time.Hour)
	deleted := `<record><header status="deleted"><identifier>oai:test:gone</identifier></header></record>`
	srv := newServer(t, map[string]string{
		"from=2024-01-01": oaiPage("t1", oaiRecord("a"), oaiRecord("b")),
		"t1":              oaiPage("", deleted, oaiRecord("")),
		"from=2024-01-11": oaiPage("", oaiRecord("c"), oaiRecord("bad")),
	})
	proc := &fakeProcessor{fail: map[string]error{
		"bad": mefErrors.New(mefErrors.CodeCorruptRedirect, "cycle"),
	}}
	s := store.NewMemory()
	var drains int
	h := newHarvester(srv, proc, s, Config{Retries: 2}, WithDrain(func(context.Context) error {
		drains++
		return nil
	}))

	report, err := h.Harvest(context.Background(), models.SourceIdRef, models.KindAgents, &from, &until)
	require.NoError(t, err)
	require.Len(t, report.Windows, 2)
	assert.Equal(t, 2, drains)

	first := report.Windows[0].Counters
	assert.Equal(t, models.Counters{Received: 4, Created: 2, Deleted: 1, Discarded: 1}, first)
	second := report.Windows[1].Counters
	assert.Equal(t, models.Counters{Received: 2, Created: 1, Errors: 1}, second)
	assert.Equal(t, 6, report.Counters.Received)

	assert.Equal(t, []call{{pid: "a"}, {pid: "b"}, {deleted: true, pid: "gone"}, {pid: ""}, {pid: "c"}, {pid: "bad"}}, proc.calls)
	assert.Contains(t, srv.requests[0], "until=2024-01-10")

	last, err := h.LastRun(context.Background(), models.SourceIdRef, models.KindAgents)
	require.NoError(t, err)
	assert.Equal(t, until, last)
}

func TestHarvestDefaultsToLastRun(t *testing.T) {
	srv := newServer(t, nil)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	h := newHarvester(srv, &fakeProcessor{}, store.NewMemory(), Config{}, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	report, err := h.Harvest(ctx, models.SourceIdRef, models.KindAgents, nil, nil)
	require.NoError(t, err)
	require.Len(t, report.Windows, 1)
	assert.Equal(t, now.Add(-10*24*time.Hour), report.Windows[0].From)

	now = now.Add(24 * time.Hour)
	report, err = h.Harvest(ctx, models.SourceIdRef, models.KindAgents, nil, nil)
	require.NoError(t, err)
	require.Len(t, report.Windows, 1)
	assert.Equal(t, now.Add(-24*time.Hour), report.Windows[0].From)
}

func TestHarvestRetriesAndAborts(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	until := from.Add(5 * 24 * time.Hour)
	ctx := context.Background()

	t.Run("transient failures are retried", func(t *testing.T) {
		srv := newServer(t, map[string]string{"from=2024-01-01": oaiPage("", oaiRecord("a"))})
		srv.failures = 2
		h := newHarvester(srv, &fakeProcessor{}, store.NewMemory(), Config{Retries: 3})
		report, err := h.Harvest(ctx, models.SourceIdRef, models.KindAgents, &from, &until)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Counters.Created)
		assert.Len(t, srv.requests, 3)
	})

	t.Run("exhausted retries abort the window", func(t *testing.T) {
		srv := newServer(t, nil)
		srv.failures = 10
		s := store.NewMemory()
		h := newHarvester(srv, &fakeProcessor{}, s, Config{Retries: 1})
		report, err := h.Harvest(ctx, models.SourceIdRef, models.KindAgents, &from, &until)
		require.Error(t, err)
		assert.True(t, mefErrors.IsRemoteTransient(err))
		require.Len(t, report.Windows, 1)
		assert.True(t, report.Windows[0].Partial)
		last, err := h.LastRun(ctx, models.SourceIdRef, models.KindAgents)
		require.NoError(t, err)
		assert.True(t, last.IsZero())
	})

	t.Run("store errors abort the window", func(t *testing.T) {
		srv := newServer(t, map[string]string{"from=2024-01-01": oaiPage("", oaiRecord("a"), oaiRecord("b"))})
		proc := &fakeProcessor{fail: map[string]error{"a": mefErrors.New(mefErrors.CodeStoreError, "down")}}
		h := newHarvester(srv, proc, store.NewMemory(), Config{})
		report, err := h.Harvest(ctx, models.SourceIdRef, models.KindAgents, &from, &until)
		assert.True(t, mefErrors.IsStoreError(err))
		assert.Equal(t, models.Counters{Received: 1, Errors: 1}, report.Counters)
	})

	t.Run("unknown feed", func(t *testing.T) {
		h := newHarvester(newServer(t, nil), &fakeProcessor{}, store.NewMemory(), Config{})
		_, err := h.Harvest(ctx, models.SourceGND, models.KindAgents, &from, &until)
		assert.True(t, mefErrors.IsMisconfiguration(err))
	})
}

func TestSnapshotAndReplay(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	until := from.Add(5 * 24 * time.Hour)
	srv := newServer(t, map[string]string{"from=2024-01-01": oaiPage("", oaiRecord("a"), oaiRecord("b"))})
	dir := t.TempDir()
	h := newHarvester(srv, &fakeProcessor{}, store.NewMemory(), Config{SnapshotDir: dir})

	report, err := h.Harvest(context.Background(), models.SourceIdRef, models.KindAgents, &from, &until)
	require.NoError(t, err)
	path := report.Windows[0].Snapshot
	require.NotEmpty(t, path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	replayed := &fakeProcessor{}
	h2 := newHarvester(srv, replayed, store.NewMemory(), Config{})
	counters, err := h2.Replay(context.Background(), models.SourceIdRef, models.KindAgents, bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, models.Counters{Received: 2, Created: 2}, counters)
	assert.Equal(t, []call{{pid: "a"}, {pid: "b"}}, replayed.calls)
}

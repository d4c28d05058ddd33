package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mefErrors "github.com/Ramsey-B/mef/pkg/errors"
	"github.com/Ramsey-B/mef/pkg/harvest"
	"github.com/Ramsey-B/mef/pkg/logging"
	"github.com/Ramsey-B/mef/pkg/models"
)

type fakeHarvester struct {
	mu    sync.Mutex
	calls []Job
	err   error
	done  chan struct{}
}

func (f *fakeHarvester) Harvest(_ context.Context, source models.Source, kind models.Kind, from, until *time.Time) (*harvest.Report, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Job{Source: source, Kind: kind, From: from, Until: until})
	f.mu.Unlock()
	if f.done != nil {
		defer func() { f.done <- struct{}{} }()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &harvest.Report{Source: source, Kind: kind}, nil
}

func TestJobValidate(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	until := from.Add(24 * time.Hour)

	tests := []struct {
		name    string
		job     Job
		wantErr bool
	}{
		{"valid", NewJob(models.SourceGND, models.KindAgents, &from, &until), false},
		{"open bounds", NewJob(models.SourceRERO, models.KindConcepts, nil, nil), false},
		{"unknown source", NewJob(models.SourceVIAF, models.KindAgents, nil, nil), true},
		{"unknown kind", NewJob(models.SourceGND, models.Kind("works"), nil, nil), true},
		{"missing id", Job{Source: models.SourceGND, Kind: models.KindAgents}, true},
		{"empty range", NewJob(models.SourceGND, models.KindAgents, &until, &from), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, mefErrors.IsInvalidInput(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLocalQueueOrder(t *testing.T) {
	q := NewLocalQueue(4, logging.Discard())
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, NewJob(models.SourceGND, models.KindAgents, nil, nil)))
	require.NoError(t, q.Publish(ctx, NewJob(models.SourceGND, models.KindConcepts, nil, nil)))
	assert.Equal(t, 2, q.Len())

	err := q.Publish(ctx, Job{Source: models.SourceGND})
	assert.True(t, mefErrors.IsInvalidInput(err))

	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Publish(ctx, NewJob(models.SourceGND, models.KindAgents, nil, nil)), ErrQueueClosed)

	var kinds []models.Kind
	err = q.Consume(ctx, func(_ context.Context, job Job) error {
		kinds = append(kinds, job.Kind)
		return errors.New("logged and dropped")
	})
	require.NoError(t, err)
	assert.Equal(t, []models.Kind{models.KindAgents, models.KindConcepts}, kinds)
}

func TestWorkerHandle(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"success", nil, false},
		{"misconfiguration is acknowledged", mefErrors.New(mefErrors.CodeMisconfiguration, "no feed"), false},
		{"store error is redelivered", mefErrors.New(mefErrors.CodeStoreError, "down"), true},
		{"remote error is redelivered", mefErrors.New(mefErrors.CodeRemoteTransient, "503"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &fakeHarvester{err: tt.err}
			w := NewWorker(NewLocalQueue(1, logging.Discard()), h, logging.Discard())

			from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			err := w.Handle(context.Background(), NewJob(models.SourceIdRef, models.KindPlaces, &from, nil))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			require.Len(t, h.calls, 1)
			assert.Equal(t, models.SourceIdRef, h.calls[0].Source)
			assert.Equal(t, models.KindPlaces, h.calls[0].Kind)
			assert.Equal(t, from, *h.calls[0].From)
			assert.Nil(t, h.calls[0].Until)
		})
	}
}

func TestWorkerRun(t *testing.T) {
	q := NewLocalQueue(4, logging.Discard())
	h := &fakeHarvester{done: make(chan struct{}, 4)}
	w := NewWorker(q, h, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	require.NoError(t, q.Publish(ctx, NewJob(models.SourceGND, models.KindAgents, nil, nil)))
	require.NoError(t, q.Publish(ctx, NewJob(models.SourceRERO, models.KindAgents, nil, nil)))

	for i := 0; i < 2; i++ {
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
			t.Fatal("job not processed")
		}
	}
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.calls, 2)
	assert.Equal(t, models.SourceGND, h.calls[0].Source)
	assert.Equal(t, models.SourceRERO, h.calls[1].Source)
}

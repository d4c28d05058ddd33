package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/mef/config"
	"github.com/Ramsey-B/mef/pkg/logging"
	"github.com/Ramsey-B/mef/pkg/models"
)

func TestFeeds(t *testing.T) {
	sources := config.Sources{
		models.SourceRERO: {Feeds: map[models.Kind]config.Feed{
			models.KindConcepts: {MetadataPrefix: "marcxml"},
			models.KindAgents:   {MetadataPrefix: "marcxml"},
		}},
		models.SourceGND: {Feeds: map[models.Kind]config.Feed{
			models.KindPlaces: {MetadataPrefix: "MARC21-xml"},
		}},
		models.SourceIdRef: {},
	}

	assert.Equal(t, [][]Feed{
		{{models.SourceGND, models.KindPlaces}},
		{{models.SourceRERO, models.KindAgents}, {models.SourceRERO, models.KindConcepts}},
	}, Feeds(sources))
}

func TestRunAll(t *testing.T) {
	t.Run("dispatches every default feed once", func(t *testing.T) {
		var mu sync.Mutex
		seen := map[Feed]int{}
		s := New(config.DefaultSources(), func(_ context.Context, source models.Source, kind models.Kind) error {
			mu.Lock()
			defer mu.Unlock()
			seen[Feed{source, kind}]++
			return nil
		}, Config{Parallelism: 2}, logging.Discard())

		require.NoError(t, s.RunAll(context.Background()))

		want := 0
		for _, feeds := range Feeds(config.DefaultSources()) {
			for _, feed := range feeds {
				assert.Equal(t, 1, seen[feed], "%s %s", feed.Source, feed.Kind)
				want++
			}
		}
		assert.Len(t, seen, want)
	})

	t.Run("failing source does not stop the others", func(t *testing.T) {
		boom := errors.New("boom")
		var calls atomic.Int32
		s := New(config.DefaultSources(), func(_ context.Context, source models.Source, _ models.Kind) error {
			calls.Add(1)
			if source == models.SourceGND {
				return boom
			}
			return nil
		}, Config{Parallelism: 1}, logging.Discard())

		err := s.RunAll(context.Background())
		assert.ErrorIs(t, err, boom)

		total := 0
		for _, feeds := range Feeds(config.DefaultSources()) {
			total += len(feeds)
		}
		assert.Equal(t, int32(total), calls.Load())
	})

	t.Run("kinds of one source run sequentially", func(t *testing.T) {
		var mu sync.Mutex
		active := map[models.Source]int{}
		overlap := false
		s := New(config.DefaultSources(), func(_ context.Context, source models.Source, _ models.Kind) error {
			mu.Lock()
			active[source]++
			if active[source] > 1 {
				overlap = true
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			active[source]--
			mu.Unlock()
			return nil
		}, Config{Parallelism: 3}, logging.Discard())

		require.NoError(t, s.RunAll(context.Background()))
		assert.False(t, overlap)
	})
}

func TestStartStop(t *testing.T) {
	s := New(config.DefaultSources(), func(context.Context, models.Source, models.Kind) error { return nil },
		Config{Schedule: "@every 1h"}, logging.Discard())
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	assert.True(t, s.IsRunning())
	assert.ErrorIs(t, s.Start(ctx), ErrSchedulerAlreadyRunning)
	assert.WithinDuration(t, time.Now().Add(time.Hour), s.Next(), time.Minute)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, s.Stop(stopCtx))
	assert.False(t, s.IsRunning())
	assert.True(t, s.Next().IsZero())
	assert.NoError(t, s.Stop(stopCtx))
}

func TestStartInvalidSchedule(t *testing.T) {
	s := New(config.DefaultSources(), nil, Config{Schedule: "not a schedule"}, logging.Discard())
	assert.Error(t, s.Start(context.Background()))
	assert.False(t, s.IsRunning())
}

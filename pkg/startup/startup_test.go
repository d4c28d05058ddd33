package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/mef/pkg/logging"
)

type journal struct {
	events []string
}

func (j *journal) dep(name string, requires ...string) Func {
	return Func{
		Name:     name,
		Requires: requires,
		OnStart:  func(context.Context) error { j.events = append(j.events, "start "+name); return nil },
		OnStop:   func(context.Context) error { j.events = append(j.events, "stop "+name); return nil },
	}
}

func TestStartOrder(t *testing.T) {
	j := &journal{}
	s := New(logging.Discard(), 1)
	s.AddDependency(j.dep("coordinator", "store", "index"))
	s.AddDependency(j.dep("store"))
	s.AddDependency(j.dep("index", "redis"))
	s.AddDependency(j.dep("redis"))

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"start store", "start redis", "start index", "start coordinator"}, j.events)
	assert.Equal(t, StatusStarted, s.Status("coordinator"))

	j.events = nil
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, []string{"stop coordinator", "stop index", "stop redis", "stop store"}, j.events)
	assert.Equal(t, StatusStopped, s.Status("store"))
}

func TestStartRetries(t *testing.T) {
	tests := []struct {
		name        string
		failures    int
		maxAttempts int
		wantErr     bool
		wantCalls   int
	}{
		{"first attempt", 0, 3, false, 1},
		{"recovers", 2, 3, false, 3},
		{"gives up", 5, 3, true, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			storeStarts := 0
			s := New(logging.Discard(), tt.maxAttempts)
			s.SetBackoff(time.Millisecond)
			s.AddDependency(Func{Name: "store", OnStart: func(context.Context) error { storeStarts++; return nil }})
			s.AddDependency(Func{Name: "kafka", Requires: []string{"store"}, OnStart: func(context.Context) error {
				calls++
				if calls <= tt.failures {
					return errors.New("broker unavailable")
				}
				return nil
			}})

			err := s.Start(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "broker unavailable")
				assert.Equal(t, StatusFailed, s.Status("kafka"))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls)
			assert.Equal(t, 1, storeStarts)
		})
	}
}

func TestStartErrors(t *testing.T) {
	t.Run("unknown dependency", func(t *testing.T) {
		s := New(logging.Discard(), 1)
		s.AddDependency(Func{Name: "store", Requires: []string{"missing"}})
		assert.ErrorContains(t, s.Start(context.Background()), "unknown startup dependency 'missing'")
	})

	t.Run("cycle", func(t *testing.T) {
		s := New(logging.Discard(), 1)
		s.AddDependency(Func{Name: "a", Requires: []string{"b"}})
		s.AddDependency(Func{Name: "b", Requires: []string{"a"}})
		assert.ErrorContains(t, s.Start(context.Background()), "cycle")
	})

	t.Run("stop keeps going", func(t *testing.T) {
		stopped := false
		s := New(logging.Discard(), 1)
		s.AddDependency(Func{Name: "store", OnStop: func(context.Context) error { stopped = true; return nil }})
		s.AddDependency(Func{Name: "kafka", Requires: []string{"store"}, OnStop: func(context.Context) error { return errors.New("close failed") }})
		require.NoError(t, s.Start(context.Background()))
		assert.ErrorContains(t, s.Stop(context.Background()), "close failed")
		assert.True(t, stopped)
	})
}

package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/mef/pkg/cluster"
	"github.com/Ramsey-B/mef/pkg/kafka"
	"github.com/Ramsey-B/mef/pkg/logging"
	"github.com/Ramsey-B/mef/pkg/models"
)

type fakePublisher struct {
	msgs []kafka.Message
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func TestEmitterEmit(t *testing.T) {
	pub := &fakePublisher{}
	e := NewEmitter(pub, "mef-events", logging.Discard())
	e.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }

	c := models.NewDocument(models.NewKey(models.KindAgents, models.SourceMEF, "7"), map[string]any{
		"pid":   "7",
		"rero":  map[string]any{"$ref": "https://mef.example/api/agents/rero/A1"},
		"gnd":   map[string]any{"$ref": "https://mef.example/api/agents/gnd/G1"},
		"other": "x",
	})
	err := e.Emit(context.Background(), []cluster.Change{
		{Type: cluster.ChangeCreated, Kind: models.KindAgents, Pid: "7", Cluster: c},
		{Type: cluster.ChangeMerged, Kind: models.KindAgents, Pid: "3", Into: "7"},
	})
	require.NoError(t, err)
	require.Len(t, pub.msgs, 2)

	assert.Equal(t, "agents:7", pub.msgs[0].Key)
	assert.Equal(t, "mef.created", pub.msgs[0].Headers[kafka.HeaderType])
	assert.Equal(t, SchemaVersion, pub.msgs[0].Headers[kafka.HeaderSchema])

	var created ClusterEvent
	require.NoError(t, json.Unmarshal(pub.msgs[0].Value, &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, []string{"gnd", "rero"}, created.Sources)
	assert.JSONEq(t, `{"pid":"7","other":"x","gnd":{"$ref":"https://mef.example/api/agents/gnd/G1"},"rero":{"$ref":"https://mef.example/api/agents/rero/A1"}}`, string(created.Data))

	var merged ClusterEvent
	require.NoError(t, json.Unmarshal(pub.msgs[1].Value, &merged))
	assert.Equal(t, "mef.merged", merged.EventType)
	assert.Equal(t, "7", merged.Into)
	assert.Empty(t, merged.Data)
}

func TestEmitterErrors(t *testing.T) {
	boom := errors.New("broker down")
	e := NewEmitter(&fakePublisher{err: boom}, "mef-events", logging.Discard())

	assert.NoError(t, e.Emit(context.Background(), nil))
	err := e.Emit(context.Background(), []cluster.Change{{Type: cluster.ChangeDeleted, Kind: models.KindPlaces, Pid: "1"}})
	assert.ErrorIs(t, err, boom)
}

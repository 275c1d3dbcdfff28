package land

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gmliao/landnet/internal/protocol"
	"github.com/gmliao/landnet/internal/transport"
	"github.com/gmliao/landnet/pkg/errors"
)

func TestGetOrCreateLandIsIdempotent(t *testing.T) {
	m := NewManager(transport.NewMemory(), zap.NewNop(), ManagerOptions{})
	id := ID{Type: "test-land", Instance: "a"}
	c1 := m.GetOrCreateLand(id, counterDefinition(), nil)
	c2 := m.GetOrCreateLand(id, counterDefinition(), map[string]interface{}{"count": 42})
	assert.Same(t, c1, c2)
	assert.Equal(t, int64(0), c1.Keeper.CurrentState()["count"])
}

func TestGetLandAndList(t *testing.T) {
	m := NewManager(transport.NewMemory(), zap.NewNop(), ManagerOptions{})
	id := ID{Type: "test-land", Instance: "a"}
	_, err := m.GetLand(id)
	assert.ErrorIs(t, err, errors.ErrLandNotFound)

	m.GetOrCreateLand(id, counterDefinition(), nil)
	c, err := m.GetLand(id)
	require.NoError(t, err)
	assert.Equal(t, id, c.LandID)
	assert.Contains(t, m.ListLands(), id)
}

func TestRemoveLandForceDisconnects(t *testing.T) {
	tr := transport.NewMemory()
	m := NewManager(tr, zap.NewNop(), ManagerOptions{})
	id := ID{Type: "test-land", Instance: DefaultInstance}
	c := m.GetOrCreateLand(id, counterDefinition(), nil)
	tr.SetDelegate(c.Adapter)

	tr.Connect("sess-1", "cli-1", nil)
	data, err := protocol.MustCodec(protocol.EncodingJSON).Encode(&protocol.Join{LandType: "test-land"})
	require.NoError(t, err)
	tr.Deliver(data, "sess-1")
	require.Equal(t, 1, c.Keeper.PlayerCount())

	require.NoError(t, m.RemoveLand(id))
	_, err = m.GetLand(id)
	assert.ErrorIs(t, err, errors.ErrLandNotFound)
	assert.NotContains(t, m.ListLands(), id)
	assert.Equal(t, 0, c.Keeper.PlayerCount())

	// The disconnect notice reaches the session before it is dropped.
	frames := tr.FramesFor("sess-1")
	require.NotEmpty(t, frames)
	last, _, err := protocol.DecodeAny(frames[len(frames)-1])
	require.NoError(t, err)
	ev, ok := last.(*protocol.Event)
	require.True(t, ok)
	assert.Equal(t, "land:removed", ev.Type)
	assert.Equal(t, "internal", ev.Payload["reason"])
}

func TestPanickingRuleTearsDownLand(t *testing.T) {
	def := counterDefinition()
	def.Rules["Explode"] = []EventRule{
		func(_ map[string]interface{}, _ *protocol.Event, _ *Context) error {
			panic("corrupted table")
		},
	}
	tr := transport.NewMemory()
	m := NewManager(tr, zap.NewNop(), ManagerOptions{})
	id := ID{Type: "test-land", Instance: DefaultInstance}
	c := m.GetOrCreateLand(id, def, nil)
	tr.SetDelegate(c.Adapter)

	tr.Connect("sess-1", "cli-1", nil)
	join, err := protocol.MustCodec(protocol.EncodingJSON).Encode(&protocol.Join{LandType: "test-land"})
	require.NoError(t, err)
	tr.Deliver(join, "sess-1")
	require.Equal(t, 1, c.Keeper.PlayerCount())

	// The panic must not unwind into the transport; the land is torn down
	// and every session disconnected with reason "internal".
	ev, err := protocol.MustCodec(protocol.EncodingJSON).Encode(&protocol.Event{Type: "Explode"})
	require.NoError(t, err)
	tr.Deliver(ev, "sess-1")

	require.Eventually(t, func() bool {
		_, err := m.GetLand(id)
		return errors.Is(err, errors.ErrLandNotFound) && c.Keeper.PlayerCount() == 0
	}, time.Second, 5*time.Millisecond)

	frames := tr.FramesFor("sess-1")
	require.NotEmpty(t, frames)
	last, _, err := protocol.DecodeAny(frames[len(frames)-1])
	require.NoError(t, err)
	notice, ok := last.(*protocol.Event)
	require.True(t, ok)
	assert.Equal(t, "land:removed", notice.Type)
	assert.Equal(t, "internal", notice.Payload["reason"])
}

func TestRemoveAbsentLand(t *testing.T) {
	m := NewManager(transport.NewMemory(), zap.NewNop(), ManagerOptions{})
	err := m.RemoveLand(ID{Type: "nope", Instance: "x"})
	assert.ErrorIs(t, err, errors.ErrLandNotFound)
}

func TestGetLandStats(t *testing.T) {
	tr := transport.NewMemory()
	m := NewManager(tr, zap.NewNop(), ManagerOptions{})
	id := ID{Type: "test-land", Instance: DefaultInstance}
	c := m.GetOrCreateLand(id, counterDefinition(), nil)
	tr.SetDelegate(c.Adapter)

	tr.Connect("sess-1", "cli-1", nil)
	data, err := protocol.MustCodec(protocol.EncodingJSON).Encode(&protocol.Join{LandType: "test-land"})
	require.NoError(t, err)
	tr.Deliver(data, "sess-1")

	stats, err := m.GetLandStats(id)
	require.NoError(t, err)
	assert.Equal(t, id, stats.LandID)
	assert.Equal(t, 1, stats.PlayerCount)
	assert.False(t, stats.CreatedAt.IsZero())
}

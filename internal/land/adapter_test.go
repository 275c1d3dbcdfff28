package land

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gmliao/landnet/internal/protocol"
	"github.com/gmliao/landnet/internal/state"
	"github.com/gmliao/landnet/internal/transport"
	"github.com/gmliao/landnet/pkg/json"
)

func counterDefinition() *Definition {
	return &Definition{
		LandType: "test-land",
		InitialState: func() map[string]interface{} {
			return map[string]interface{}{"count": int64(0)}
		},
		Rules: map[string][]EventRule{
			"Increment": {
				func(st map[string]interface{}, _ *protocol.Event, _ *Context) error {
					st["count"] = st["count"].(int64) + 1
					return nil
				},
			},
		},
	}
}

type harness struct {
	tr      *transport.Memory
	keeper  *Keeper
	adapter *Adapter
}

func newHarness(t *testing.T, def *Definition, opts AdapterOptions) *harness {
	t.Helper()
	tr := transport.NewMemory()
	landID := ID{Type: def.LandType, Instance: DefaultInstance}
	keeper := NewKeeper(landID, def, nil, zap.NewNop())
	adapter := NewAdapter(landID, keeper, tr, zap.NewNop(), opts)
	tr.SetDelegate(adapter)
	return &harness{tr: tr, keeper: keeper, adapter: adapter}
}

func (h *harness) connect(t *testing.T, session transport.SessionID, client transport.ClientID) {
	t.Helper()
	h.tr.Connect(session, client, nil)
}

func (h *harness) send(t *testing.T, session transport.SessionID, msg protocol.Message) {
	t.Helper()
	data, err := protocol.MustCodec(protocol.EncodingJSON).Encode(msg)
	require.NoError(t, err)
	h.tr.Deliver(data, session)
}

func decodeFrames(t *testing.T, frames [][]byte) []protocol.Message {
	t.Helper()
	out := make([]protocol.Message, 0, len(frames))
	for _, f := range frames {
		msg, _, err := protocol.DecodeAny(f)
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func TestIncrementScenario(t *testing.T) {
	h := newHarness(t, counterDefinition(), AdapterOptions{})
	h.connect(t, "sess-1", "cli-1")
	h.send(t, "sess-1", &protocol.Join{RequestID: "r1", LandType: "test-land"})

	msgs := decodeFrames(t, h.tr.FramesFor("sess-1"))
	require.Len(t, msgs, 2)

	resp, ok := msgs[0].(*protocol.JoinResponse)
	require.True(t, ok)
	assert.True(t, resp.Success)
	assert.Equal(t, "r1", resp.RequestID)

	first, ok := msgs[1].(*protocol.StateUpdate)
	require.True(t, ok)
	assert.Equal(t, state.UpdateFirstSync, first.Update.Kind)
	assert.Equal(t, int64(0), first.Update.Snapshot["count"])

	h.send(t, "sess-1", &protocol.Event{Type: "Increment", Payload: map[string]interface{}{}})
	assert.Equal(t, int64(1), h.keeper.CurrentState()["count"])

	msgs = decodeFrames(t, h.tr.FramesFor("sess-1"))
	require.Len(t, msgs, 3)
	diff, ok := msgs[2].(*protocol.StateUpdate)
	require.True(t, ok)
	require.Equal(t, state.UpdateDiff, diff.Update.Kind)
	require.Len(t, diff.Update.Patches, 1)
	assert.Equal(t, "/count", diff.Update.Patches[0].Path)
	assert.Equal(t, state.OpSet, diff.Update.Patches[0].Kind)
	assert.Equal(t, int64(1), diff.Update.Patches[0].Value)
}

func TestJoinResponsePrecedesFirstSyncUnderReentrantSync(t *testing.T) {
	h := newHarness(t, counterDefinition(), AdapterOptions{EnableLegacyJoin: true})

	// The hook fires synchronously after every recorded frame and forces a
	// sync cycle, probing the window between join response and first sync.
	h.tr.OnSend = func(_ []byte, _ transport.SendTarget) {
		h.adapter.SyncNow()
	}
	h.connect(t, "sess-1", "cli-1")

	msgs := decodeFrames(t, h.tr.FramesFor("sess-1"))
	require.Len(t, msgs, 2)
	_, ok := msgs[0].(*protocol.JoinResponse)
	assert.True(t, ok)
	upd, ok := msgs[1].(*protocol.StateUpdate)
	require.True(t, ok)
	assert.Equal(t, state.UpdateFirstSync, upd.Update.Kind)
}

func TestRejoinAfterDisconnect(t *testing.T) {
	h := newHarness(t, counterDefinition(), AdapterOptions{})
	h.connect(t, "sess-1", "cli-1")
	h.send(t, "sess-1", &protocol.Join{RequestID: "r1", LandType: "test-land", PlayerID: "player-1"})
	h.send(t, "sess-1", &protocol.Event{Type: "Increment"})
	h.tr.Disconnect("sess-1")
	assert.Equal(t, 0, h.keeper.PlayerCount())

	h.connect(t, "sess-2", "cli-2")
	h.send(t, "sess-2", &protocol.Join{RequestID: "r2", LandType: "test-land", PlayerID: "player-1"})

	msgs := decodeFrames(t, h.tr.FramesFor("sess-2"))
	require.GreaterOrEqual(t, len(msgs), 2)
	resp, ok := msgs[len(msgs)-2].(*protocol.JoinResponse)
	require.True(t, ok)
	assert.True(t, resp.Success)
	first, ok := msgs[len(msgs)-1].(*protocol.StateUpdate)
	require.True(t, ok)
	assert.Equal(t, state.UpdateFirstSync, first.Update.Kind)
	assert.Equal(t, int64(1), first.Update.Snapshot["count"])
}

func TestMismatchedLandJoinFails(t *testing.T) {
	def := counterDefinition()
	def.LandType = "jwt-error-test"
	h := newHarness(t, def, AdapterOptions{})
	h.connect(t, "sess-1", "cli-1")
	h.send(t, "sess-1", &protocol.Join{RequestID: "r1", LandType: "wrong"})

	msgs := decodeFrames(t, h.tr.FramesFor("sess-1"))
	require.Len(t, msgs, 1)
	resp, ok := msgs[0].(*protocol.JoinResponse)
	require.True(t, ok)
	assert.False(t, resp.Success)
	assert.Equal(t, "mismatched-land", resp.Reason)
	assert.False(t, h.adapter.IsJoined("sess-1"))
	assert.Equal(t, 0, h.keeper.PlayerCount())
}

func TestDuplicateJoinRejected(t *testing.T) {
	h := newHarness(t, counterDefinition(), AdapterOptions{})
	h.connect(t, "sess-1", "cli-1")
	h.send(t, "sess-1", &protocol.Join{RequestID: "r1", LandType: "test-land", PlayerID: "p1"})
	h.send(t, "sess-1", &protocol.Join{RequestID: "r2", LandType: "test-land", PlayerID: "p1"})

	msgs := decodeFrames(t, h.tr.FramesFor("sess-1"))
	var responses []*protocol.JoinResponse
	for _, m := range msgs {
		if r, ok := m.(*protocol.JoinResponse); ok {
			responses = append(responses, r)
		}
	}
	require.Len(t, responses, 2)
	assert.True(t, responses[0].Success)
	assert.False(t, responses[1].Success)
	assert.Equal(t, "duplicate-join", responses[1].Reason)
	assert.Equal(t, 1, h.keeper.PlayerCount())
}

func TestOpcode107Bundling(t *testing.T) {
	opts := AdapterOptions{
		Encoding: protocol.EncodingConfig{
			Message:     protocol.MustCodec(protocol.EncodingMsgpack),
			StateUpdate: protocol.MustCodec(protocol.EncodingOpcodeMsgpack),
		},
	}
	h := newHarness(t, counterDefinition(), opts)
	h.connect(t, "sess-1", "cli-1")

	joinData, err := opts.Encoding.Message.Encode(&protocol.Join{RequestID: "r1", LandType: "test-land"})
	require.NoError(t, err)
	h.tr.Deliver(joinData, "sess-1")
	h.tr.Reset()

	// Dirty the state without letting the adapter sync on its own.
	require.NoError(t, h.keeper.HandleClientEvent("sess-1", &protocol.Event{Type: "Increment"}))
	h.adapter.SendEvent(&protocol.Event{
		Type:    "announce",
		Payload: map[string]interface{}{"text": "hi"},
	}, transport.ToClient("cli-1"))
	h.adapter.SyncNow()

	frames := h.tr.FramesFor("sess-1")
	require.Len(t, frames, 2)

	standalone, enc, err := protocol.DecodeAny(frames[0])
	require.NoError(t, err)
	assert.Equal(t, protocol.EncodingMsgpack, enc)
	ev, ok := standalone.(*protocol.Event)
	require.True(t, ok)
	assert.Equal(t, "announce", ev.Type)

	update, enc, err := protocol.DecodeAny(frames[1])
	require.NoError(t, err)
	assert.Equal(t, protocol.EncodingOpcodeMsgpack, enc)
	su, ok := update.(*protocol.StateUpdate)
	require.True(t, ok)
	assert.Equal(t, state.UpdateDiff, su.Update.Kind)
	assert.Empty(t, su.Bundled)
}

func TestBundledBroadcastEventRidesInUpdate(t *testing.T) {
	opts := AdapterOptions{
		Encoding: protocol.EncodingConfig{
			Message:     protocol.MustCodec(protocol.EncodingMsgpack),
			StateUpdate: protocol.MustCodec(protocol.EncodingOpcodeMsgpack),
		},
	}
	def := counterDefinition()
	def.Rules["IncrementLoudly"] = []EventRule{
		func(st map[string]interface{}, _ *protocol.Event, ctx *Context) error {
			st["count"] = st["count"].(int64) + 1
			ctx.Emit("counted", map[string]interface{}{"by": string(ctx.PlayerID)}, transport.Broadcast())
			return nil
		},
	}
	h := newHarness(t, def, opts)
	h.connect(t, "sess-1", "cli-1")
	joinData, err := opts.Encoding.Message.Encode(&protocol.Join{RequestID: "r1", LandType: "test-land", PlayerID: "p1"})
	require.NoError(t, err)
	h.tr.Deliver(joinData, "sess-1")
	h.tr.Reset()

	evData, err := opts.Encoding.Message.Encode(&protocol.Event{Type: "IncrementLoudly"})
	require.NoError(t, err)
	h.tr.Deliver(evData, "sess-1")

	frames := h.tr.FramesFor("sess-1")
	require.Len(t, frames, 1)
	msg, enc, err := protocol.DecodeAny(frames[0])
	require.NoError(t, err)
	assert.Equal(t, protocol.EncodingOpcodeMsgpack, enc)
	su, ok := msg.(*protocol.StateUpdate)
	require.True(t, ok)
	assert.Equal(t, state.UpdateDiff, su.Update.Kind)
	require.Len(t, su.Bundled, 1)
	assert.Equal(t, "counted", su.Bundled[0].Type)
	assert.Equal(t, "p1", su.Bundled[0].Payload["by"])
}

func TestCodecMismatchFallsBackToStandaloneFrame(t *testing.T) {
	opts := AdapterOptions{
		Encoding: protocol.EncodingConfig{
			Message:     protocol.MustCodec(protocol.EncodingJSON),
			StateUpdate: protocol.MustCodec(protocol.EncodingOpcodeMsgpack),
		},
	}
	h := newHarness(t, counterDefinition(), opts)
	h.connect(t, "sess-1", "cli-1")
	h.send(t, "sess-1", &protocol.Join{RequestID: "r1", LandType: "test-land"})
	h.tr.Reset()

	require.NoError(t, h.keeper.HandleClientEvent("sess-1", &protocol.Event{Type: "Increment"}))

	// A relayed event whose body is JSON cannot be embedded in a msgpack
	// opcode frame. It must arrive as its own frame, never dropped.
	raw, err := json.Marshal(map[string]interface{}{"type": "relayed", "payload": map[string]interface{}{"n": 1}})
	require.NoError(t, err)
	h.adapter.SendEvent(&protocol.Event{Type: "relayed", RawBody: raw}, transport.Broadcast())
	h.adapter.SyncNow()

	frames := h.tr.FramesFor("sess-1")
	require.Len(t, frames, 2)

	upd, enc, err := protocol.DecodeAny(frames[0])
	require.NoError(t, err)
	assert.Equal(t, protocol.EncodingOpcodeMsgpack, enc)
	su, ok := upd.(*protocol.StateUpdate)
	require.True(t, ok)
	assert.Empty(t, su.Bundled)

	fallback, enc, err := protocol.DecodeAny(frames[1])
	require.NoError(t, err)
	assert.Equal(t, protocol.EncodingJSON, enc)
	ev, ok := fallback.(*protocol.Event)
	require.True(t, ok)
	assert.Equal(t, "relayed", ev.Type)
	assert.NotEmpty(t, ev.RawBody)
}

func TestEventBeforeJoinIsAdvisory(t *testing.T) {
	h := newHarness(t, counterDefinition(), AdapterOptions{})
	h.connect(t, "sess-1", "cli-1")
	h.send(t, "sess-1", &protocol.Event{Type: "Increment"})

	msgs := decodeFrames(t, h.tr.FramesFor("sess-1"))
	require.Len(t, msgs, 1)
	ev, ok := msgs[0].(*protocol.Event)
	require.True(t, ok)
	assert.Equal(t, "error", ev.Type)
	assert.Equal(t, "not-joined", ev.Payload["reason"])
	assert.Equal(t, int64(0), h.keeper.CurrentState()["count"])
}

func TestUnregisteredEventRejected(t *testing.T) {
	h := newHarness(t, counterDefinition(), AdapterOptions{})
	h.connect(t, "sess-1", "cli-1")
	h.send(t, "sess-1", &protocol.Join{LandType: "test-land"})
	h.tr.Reset()
	h.send(t, "sess-1", &protocol.Event{Type: "Nope"})

	msgs := decodeFrames(t, h.tr.FramesFor("sess-1"))
	require.Len(t, msgs, 1)
	ev, ok := msgs[0].(*protocol.Event)
	require.True(t, ok)
	assert.Equal(t, "unregistered-event", ev.Payload["reason"])
}

func TestJoinTimeoutDisconnects(t *testing.T) {
	def := counterDefinition()
	def.OnJoin = []JoinRule{
		func(_ map[string]interface{}, _ *Context) error {
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	h := newHarness(t, def, AdapterOptions{JoinTimeout: 10 * time.Millisecond})
	h.connect(t, "sess-1", "cli-1")
	h.send(t, "sess-1", &protocol.Join{RequestID: "r1", LandType: "test-land"})

	msgs := decodeFrames(t, h.tr.FramesFor("sess-1"))
	require.Len(t, msgs, 1)
	resp, ok := msgs[0].(*protocol.JoinResponse)
	require.True(t, ok)
	assert.False(t, resp.Success)
	assert.Equal(t, "join-timeout", resp.Reason)
	assert.False(t, h.adapter.IsJoined("sess-1"))

	// The keeper commit may land after the deadline; the session must still
	// be peeled back out.
	assert.Eventually(t, func() bool {
		return h.keeper.PlayerCount() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestRuleErrorRollsBackStateAndEvents(t *testing.T) {
	def := counterDefinition()
	def.Rules["Fail"] = []EventRule{
		func(st map[string]interface{}, _ *protocol.Event, ctx *Context) error {
			st["count"] = int64(99)
			ctx.Emit("never", nil, transport.Broadcast())
			return assert.AnError
		},
	}
	h := newHarness(t, def, AdapterOptions{})
	h.connect(t, "sess-1", "cli-1")
	h.send(t, "sess-1", &protocol.Join{LandType: "test-land"})
	h.tr.Reset()
	h.send(t, "sess-1", &protocol.Event{Type: "Fail"})

	assert.Equal(t, int64(0), h.keeper.CurrentState()["count"])
	msgs := decodeFrames(t, h.tr.FramesFor("sess-1"))
	require.Len(t, msgs, 1)
	ev := msgs[0].(*protocol.Event)
	assert.Equal(t, "error", ev.Type)
	assert.Equal(t, "rule-error", ev.Payload["reason"])
}

func TestPrivateFieldsFilteredPerPlayer(t *testing.T) {
	def := &Definition{
		LandType: "hands",
		InitialState: func() map[string]interface{} {
			return map[string]interface{}{
				"pot": int64(0),
				"hands": map[string]interface{}{
					"p1": []interface{}{"ace"},
					"p2": []interface{}{"king"},
				},
			}
		},
		Schema: state.Schema{"hands": state.Private},
	}
	h := newHarness(t, def, AdapterOptions{})
	h.connect(t, "sess-1", "cli-1")
	h.send(t, "sess-1", &protocol.Join{LandType: "hands", PlayerID: "p1"})

	msgs := decodeFrames(t, h.tr.FramesFor("sess-1"))
	require.Len(t, msgs, 2)
	first := msgs[1].(*protocol.StateUpdate)
	assert.Equal(t, []interface{}{"ace"}, first.Update.Snapshot["hands"])
	assert.Equal(t, int64(0), first.Update.Snapshot["pot"])
}

func TestPingPong(t *testing.T) {
	h := newHarness(t, counterDefinition(), AdapterOptions{})
	h.connect(t, "sess-1", "cli-1")
	h.send(t, "sess-1", &protocol.Ping{Nonce: "n1"})

	msgs := decodeFrames(t, h.tr.FramesFor("sess-1"))
	require.Len(t, msgs, 1)
	pong, ok := msgs[0].(*protocol.Pong)
	require.True(t, ok)
	assert.Equal(t, "n1", pong.Nonce)
}

func TestDisconnectUnknownSessionIsNoop(t *testing.T) {
	h := newHarness(t, counterDefinition(), AdapterOptions{})
	h.adapter.OnDisconnect("ghost", "cli-x")
	assert.Equal(t, 0, h.keeper.PlayerCount())
}

func TestGuestIdentityAssigned(t *testing.T) {
	h := newHarness(t, counterDefinition(), AdapterOptions{EnableLegacyJoin: true})
	h.connect(t, "session-abcdef", "cli-1")

	msgs := decodeFrames(t, h.tr.FramesFor("session-abcdef"))
	require.Len(t, msgs, 2)
	resp := msgs[0].(*protocol.JoinResponse)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, h.keeper.PlayerCount())
}

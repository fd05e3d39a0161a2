package backend

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spacehub/internal/bridge"
	"spacehub/internal/filter"
	"spacehub/internal/hub"
	"spacehub/internal/message"
	"spacehub/internal/model"
	"spacehub/internal/space"
)

type recorder struct {
	mu     sync.Mutex
	frames []message.Server
}

func (r *recorder) Write(data []byte) error {
	var m message.Server
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	r.mu.Lock()
	r.frames = append(r.frames, m)
	r.mu.Unlock()
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.frames))
	for _, m := range r.frames {
		out = append(out, m.Type)
	}
	return out
}

type gateway struct {
	reg   *space.Registry
	conns *hub.Hub
}

func newGateway(t *testing.T, tr bridge.Transport, id string) *gateway {
	t.Helper()
	b := bridge.New(tr, id, zerolog.Nop(), 256)
	conns := hub.New()
	reg := space.NewRegistry(b, conns, zerolog.Nop())
	require.NoError(t, reg.Listen())
	t.Cleanup(reg.Destroy)
	return &gateway{reg: reg, conns: conns}
}

func (g *gateway) connect(id string, userID int64) (*space.Watcher, *recorder) {
	rec := &recorder{}
	conn := &hub.Connection{ID: id, UserID: userID, SpaceUserID: userID, Name: id, World: "w", Writer: rec}
	g.conns.Register(conn)
	return space.NewWatcher(conn), rec
}

func newRelay(t *testing.T) (*Relay, bridge.Transport) {
	t.Helper()
	tr := bridge.NewMemoryTransport()
	r := New(bridge.New(tr, "backend", zerolog.Nop(), 256), zerolog.Nop())
	require.NoError(t, r.Listen())
	return r, tr
}

const lobby = "w.lobby"

func TestLateGatewayConverges(t *testing.T) {
	relay, tr := newRelay(t)
	a := newGateway(t, tr, "gw-a")
	b := newGateway(t, tr, "gw-b")

	wa, _ := a.connect("a1", 1)
	spA, err := a.reg.Watch(lobby, "lobby", wa)
	require.NoError(t, err)
	require.NoError(t, spA.UpdateMetadata(map[string]any{"topic": "intro"}))
	require.NoError(t, spA.AddUser(model.SpaceUser{ID: 1, Name: "alice"}, wa.Conn))
	require.Eventually(t, func() bool { return len(relay.Users(lobby)) == 1 }, time.Second, 5*time.Millisecond)

	wb, recB := b.connect("b1", 2)
	require.NoError(t, wb.Declare(lobby, filter.Spec{Name: "all", Predicate: filter.Everybody{}}))
	spB, err := b.reg.Watch(lobby, "lobby", wb)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return relay.Gateways(lobby) == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return spB.UserCount() == 1 }, time.Second, 5*time.Millisecond)

	got, ok := spB.User(1)
	require.True(t, ok)
	assert.Equal(t, "alice", got.Name)
	assert.Empty(t, got.ConnectionID)
	require.Eventually(t, func() bool { return spB.Metadata()["topic"] == "intro" }, time.Second, 5*time.Millisecond)

	require.NoError(t, spA.UpdateUser(model.SpaceUser{ID: 1, Name: "alicia"}, []string{"name"}))
	require.Eventually(t, func() bool {
		u, ok := spB.User(1)
		return ok && u.Name == "alicia"
	}, time.Second, 5*time.Millisecond)
	// The rebroadcast of the original add may race the snapshot; either
	// way the watcher sees alice once.
	types := recB.types()
	adds := 0
	for _, typ := range types {
		if typ == message.TypeAddSpaceUser {
			adds++
		}
	}
	assert.Equal(t, 1, adds)
	assert.Equal(t, message.TypeUpdateSpaceUser, types[len(types)-1])

	require.NoError(t, spA.RemoveUser(1))
	require.Eventually(t, func() bool { return spB.IsEmpty() }, time.Second, 5*time.Millisecond)
	assert.Empty(t, relay.Users(lobby))
}

func TestOwnChangesAreNotAppliedTwice(t *testing.T) {
	relay, tr := newRelay(t)
	a := newGateway(t, tr, "gw-a")
	w, rec := a.connect("a1", 1)
	require.NoError(t, w.Declare(lobby, filter.Spec{Name: "all", Predicate: filter.Everybody{}}))
	sp, err := a.reg.Watch(lobby, "lobby", w)
	require.NoError(t, err)

	require.NoError(t, sp.AddUser(model.SpaceUser{ID: 1, Name: "alice"}, w.Conn))
	require.Eventually(t, func() bool { return len(relay.Users(lobby)) == 1 }, time.Second, 5*time.Millisecond)
	// Give the echo time to come back before checking it was ignored.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{message.TypeAddSpaceUser}, rec.types())
	assert.Equal(t, 1, sp.UserCount())
}

func TestRelayRejectsInvalidMutations(t *testing.T) {
	relay, _ := newRelay(t)
	relay.Handle(bridge.Message{Type: bridge.TypeJoinSpace, SpaceName: lobby, Origin: "gw-a"})

	alice := model.SpaceUser{ID: 1, Name: "alice"}
	relay.Handle(bridge.Message{Type: bridge.TypeAddUser, SpaceName: lobby, Origin: "gw-a", User: &alice})
	relay.Handle(bridge.Message{Type: bridge.TypeAddUser, SpaceName: lobby, Origin: "gw-b", User: &alice})
	relay.Handle(bridge.Message{Type: bridge.TypeAddUser, SpaceName: lobby, Origin: "gw-a"})

	ghost := model.SpaceUser{ID: 9, Name: "ghost"}
	relay.Handle(bridge.Message{Type: bridge.TypeUpdateUser, SpaceName: lobby, Origin: "gw-a", User: &ghost, UpdateMask: []string{"name"}})
	relay.Handle(bridge.Message{Type: bridge.TypeRemoveUser, SpaceName: lobby, Origin: "gw-a", UserID: 9})
	relay.Handle(bridge.Message{Type: "bogus", SpaceName: lobby, Origin: "gw-a"})
	relay.Handle(bridge.Message{Type: bridge.TypeAddUser, SpaceName: "w.other", Origin: "gw-a", User: &ghost})

	assert.Equal(t, []model.SpaceUser{alice}, relay.Users(lobby))
	assert.Nil(t, relay.Users("w.other"))
}

func TestRelayForgetsSpaceAfterLastGateway(t *testing.T) {
	relay, _ := newRelay(t)
	relay.Handle(bridge.Message{Type: bridge.TypeJoinSpace, SpaceName: lobby, Origin: "gw-a"})
	relay.Handle(bridge.Message{Type: bridge.TypeJoinSpace, SpaceName: lobby, Origin: "gw-b"})
	alice := model.SpaceUser{ID: 1, Name: "alice"}
	relay.Handle(bridge.Message{Type: bridge.TypeAddUser, SpaceName: lobby, Origin: "gw-a", User: &alice})

	relay.Handle(bridge.Message{Type: bridge.TypeLeaveSpace, SpaceName: lobby, Origin: "gw-a"})
	assert.Equal(t, 1, relay.Gateways(lobby))
	assert.Len(t, relay.Users(lobby), 1)

	relay.Handle(bridge.Message{Type: bridge.TypeLeaveSpace, SpaceName: lobby, Origin: "gw-b"})
	assert.Equal(t, 0, relay.Gateways(lobby))
	assert.Nil(t, relay.Users(lobby))

	// Leaving twice is harmless.
	relay.Handle(bridge.Message{Type: bridge.TypeLeaveSpace, SpaceName: lobby, Origin: "gw-b"})
}

func TestPrivateEventCrossesGateways(t *testing.T) {
	_, tr := newRelay(t)
	a := newGateway(t, tr, "gw-a")
	b := newGateway(t, tr, "gw-b")

	wa, recA := a.connect("a1", 1)
	spA, err := a.reg.Watch(lobby, "lobby", wa)
	require.NoError(t, err)
	require.NoError(t, spA.AddUser(model.SpaceUser{ID: 1, Name: "alice"}, wa.Conn))

	wb, _ := b.connect("b1", 2)
	spB, err := b.reg.Watch(lobby, "lobby", wb)
	require.NoError(t, err)
	require.NoError(t, spB.AddUser(model.SpaceUser{ID: 2, Name: "bob"}, wb.Conn))
	require.Eventually(t, func() bool { return spA.UserCount() == 2 && spB.UserCount() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, spB.SendPrivateEvent(2, 1, json.RawMessage(`{"knock":true}`)))
	require.Eventually(t, func() bool {
		types := recA.types()
		return len(types) == 1 && types[0] == message.TypePrivateEvent
	}, time.Second, 5*time.Millisecond)
}

func TestTabsOfOneAccountOnTwoGateways(t *testing.T) {
	relay, tr := newRelay(t)
	a := newGateway(t, tr, "gw-a")
	b := newGateway(t, tr, "gw-b")

	tabA, _ := a.connect("a1", 101)
	spA, err := a.reg.Watch(lobby, "lobby", tabA)
	require.NoError(t, err)
	require.NoError(t, spA.AddUser(model.SpaceUser{ID: 101, AccountID: 1, Name: "alice"}, tabA.Conn))
	require.Eventually(t, func() bool { return len(relay.Users(lobby)) == 1 }, time.Second, 5*time.Millisecond)

	// The second tab joins on another gateway before its snapshot arrives.
	tabB, _ := b.connect("b1", 102)
	spB, err := b.reg.Watch(lobby, "lobby", tabB)
	require.NoError(t, err)
	require.NoError(t, spB.AddUser(model.SpaceUser{ID: 102, AccountID: 1, Name: "alice"}, tabB.Conn))
	require.Eventually(t, func() bool {
		return len(relay.Users(lobby)) == 2 && spA.UserCount() == 2 && spB.UserCount() == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, spB.RemoveUser(102))
	require.Eventually(t, func() bool { return spA.UserCount() == 1 }, time.Second, 5*time.Millisecond)

	kept, ok := spA.User(101)
	require.True(t, ok, "the tab on gateway A is still present")
	assert.Equal(t, tabA.Conn.ID, kept.ConnectionID)
	users := relay.Users(lobby)
	require.Len(t, users, 1)
	assert.Equal(t, int64(101), users[0].ID)
}

package space

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"spacehub/internal/bridge"
	"spacehub/internal/filter"
	"spacehub/internal/hub"
	"spacehub/internal/message"
	"spacehub/internal/model"
)

const testWorld = "world"

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

// take returns the frames received so far and forgets them.
func (r *recorder) take() []message.Server {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.frames
	r.frames = nil
	return out
}

type backendLog struct {
	mu   sync.Mutex
	msgs []bridge.Message
}

func (b *backendLog) add(m bridge.Message) {
	b.mu.Lock()
	b.msgs = append(b.msgs, m)
	b.mu.Unlock()
}

func (b *backendLog) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.msgs))
	for _, m := range b.msgs {
		out = append(out, m.Type)
	}
	return out
}

func (b *backendLog) all() []bridge.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bridge.Message(nil), b.msgs...)
}

type fixture struct {
	t         *testing.T
	transport bridge.Transport
	reg       *Registry
	conns     *hub.Hub
	bridge    *bridge.Bridge
	backend   *backendLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tr := bridge.NewMemoryTransport()
	b := bridge.New(tr, "gw-test", zerolog.Nop(), 256)
	observer := bridge.New(tr, "observer", zerolog.Nop(), 16)
	log := &backendLog{}
	require.NoError(t, observer.Listen(bridge.SubjectToBackend, log.add))

	conns := hub.New()
	reg := NewRegistry(b, conns, zerolog.Nop())
	t.Cleanup(func() {
		reg.Destroy()
		_ = b.Close()
		_ = observer.Close()
	})
	return &fixture{t: t, transport: tr, reg: reg, conns: conns, bridge: b, backend: log}
}

func (f *fixture) connect(id string, userID int64, tags ...string) (*Watcher, *recorder) {
	rec := &recorder{}
	conn := &hub.Connection{ID: id, UserID: userID, SpaceUserID: userID, Name: id, World: testWorld, Tags: tags, Writer: rec}
	f.conns.Register(conn)
	return NewWatcher(conn), rec
}

func (f *fixture) space(local string) *Space {
	sp, err := f.reg.JoinSpace(PrefixedName(testWorld, local), local)
	require.NoError(f.t, err)
	return sp
}

func everybody(name string) filter.Spec { return filter.Spec{Name: name, Predicate: filter.Everybody{}} }

func live(name string) filter.Spec { return filter.Spec{Name: name, Predicate: filter.LiveStreaming{}} }

func named(name, v string) filter.Spec {
	return filter.Spec{Name: name, Predicate: filter.NewContainsName(v)}
}

func user(id int64, name string) model.SpaceUser { return model.SpaceUser{ID: id, Name: name} }

// view replays notifications the way a client keeps them: one set of users
// per filter. It fails the test on a duplicate add, a dangling update or a
// remove of an unseen user.
type view struct {
	t      *testing.T
	byName map[string]map[int64]model.SpaceUser
}

func newView(t *testing.T) *view {
	return &view{t: t, byName: make(map[string]map[int64]model.SpaceUser)}
}

func (v *view) apply(frames []message.Server) {
	v.t.Helper()
	for _, m := range frames {
		set := v.byName[m.FilterName]
		if set == nil {
			set = make(map[int64]model.SpaceUser)
			v.byName[m.FilterName] = set
		}
		switch m.Type {
		case message.TypeAddSpaceUser:
			_, seen := set[m.User.ID]
			require.False(v.t, seen, "duplicate add of %d under %q", m.User.ID, m.FilterName)
			set[m.User.ID] = *m.User
		case message.TypeUpdateSpaceUser:
			_, seen := set[m.User.ID]
			require.True(v.t, seen, "update of unseen %d under %q", m.User.ID, m.FilterName)
			set[m.User.ID] = *m.User
		case message.TypeRemoveSpaceUser:
			_, seen := set[m.UserID]
			require.True(v.t, seen, "remove of unseen %d under %q", m.UserID, m.FilterName)
			delete(set, m.UserID)
		}
	}
}

func (v *view) drop(filterName string) {
	delete(v.byName, filterName)
}

func (v *view) ids(filterName string) []int64 {
	out := make([]int64, 0, len(v.byName[filterName]))
	for id := range v.byName[filterName] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (v *view) String() string {
	return fmt.Sprintf("%v", v.byName)
}

func typesOf(frames []message.Server) []string {
	out := make([]string, 0, len(frames))
	for _, m := range frames {
		out = append(out, m.Type)
	}
	return out
}

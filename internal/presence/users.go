// Package presence holds the per-space user records shared by the gateway
// spaces and the backend relay.
package presence

import (
	"errors"
	"fmt"

	"spacehub/internal/model"
)

var (
	ErrUserExists   = errors.New("user already in space")
	ErrUserNotFound = errors.New("user not found in space")
)

// Record is a stored SpaceUser plus derived and gateway-local data.
type Record struct {
	model.SpaceUser

	// LowercaseName is kept in step with Name on every write.
	LowercaseName string
	// ConnectionID is the id of the local connection owning this user, or
	// empty when the user is connected elsewhere. Resolve it through the
	// connection registry; it never keeps a connection alive.
	ConnectionID string
}

func NewRecord(user model.SpaceUser, connectionID string) Record {
	return Record{
		SpaceUser:     user.Clone(),
		LowercaseName: lowercase(user.Name),
		ConnectionID:  connectionID,
	}
}

func (r Record) clone() Record {
	r.SpaceUser = r.SpaceUser.Clone()
	return r
}

// Change carries the snapshots on both sides of a mutation. Old is the zero
// Record for an add and New is the zero Record for a remove.
type Change struct {
	Old Record
	New Record
}

// Users maps user id to record. It is not safe for concurrent use; the owner
// serializes access.
type Users struct {
	records map[int64]*Record
}

func NewUsers() *Users {
	return &Users{records: make(map[int64]*Record)}
}

func (u *Users) Add(rec Record) (Change, error) {
	if _, exists := u.records[rec.ID]; exists {
		return Change{}, fmt.Errorf("%w: %d", ErrUserExists, rec.ID)
	}
	stored := rec.clone()
	stored.LowercaseName = lowercase(stored.Name)
	u.records[rec.ID] = &stored
	return Change{New: stored.clone()}, nil
}

// Update merges the fields named by mask from partial into the stored
// record identified by partial.ID.
func (u *Users) Update(partial model.SpaceUser, mask []string) (Change, error) {
	stored, ok := u.records[partial.ID]
	if !ok {
		return Change{}, fmt.Errorf("%w: %d", ErrUserNotFound, partial.ID)
	}
	next := stored.clone()
	if err := applyMask(&next.SpaceUser, partial, mask); err != nil {
		return Change{}, err
	}
	if maskHas(mask, "name") {
		next.LowercaseName = lowercase(next.Name)
	}
	old := stored.clone()
	*stored = next
	return Change{Old: old, New: next.clone()}, nil
}

func (u *Users) Remove(id int64) (Change, error) {
	stored, ok := u.records[id]
	if !ok {
		return Change{}, fmt.Errorf("%w: %d", ErrUserNotFound, id)
	}
	delete(u.records, id)
	return Change{Old: *stored}, nil
}

func (u *Users) Get(id int64) (Record, bool) {
	stored, ok := u.records[id]
	if !ok {
		return Record{}, false
	}
	return stored.clone(), true
}

// All returns a snapshot of every record in no particular order.
func (u *Users) All() []Record {
	out := make([]Record, 0, len(u.records))
	for _, rec := range u.records {
		out = append(out, rec.clone())
	}
	return out
}

func (u *Users) Len() int {
	return len(u.records)
}

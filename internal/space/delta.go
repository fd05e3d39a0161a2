package space

import (
	"spacehub/internal/filter"
	"spacehub/internal/message"
	"spacehub/internal/presence"
)

// The functions below run with s.mu held.

func (s *Space) notifyAdd(rec presence.Record) {
	for _, w := range s.watchers {
		filters := w.Filters(s.name)
		if !filter.AnyMatches(filters, rec) {
			continue
		}
		for _, f := range filters {
			if f.Matches(rec) {
				s.emitAdd(w, rec, f.Name)
			}
		}
	}
}

// notifyUpdate compares each filter against both snapshots. A user that
// stops matching is removed and one that starts matching is added, so a
// watcher never keeps an entry its filter no longer selects.
func (s *Space) notifyUpdate(change presence.Change, mask []string) {
	for _, w := range s.watchers {
		filters := w.Filters(s.name)
		if !filter.AnyMatches(filters, change.New) && !filter.AnyMatches(filters, change.Old) {
			continue
		}
		for _, f := range filters {
			was, is := f.Matches(change.Old), f.Matches(change.New)
			switch {
			case was && is:
				s.emitUpdate(w, change.New, mask, f.Name)
			case was:
				s.emitRemove(w, change.New.ID, f.Name)
			case is:
				s.emitAdd(w, change.New, f.Name)
			}
		}
	}
}

func (s *Space) notifyRemove(last presence.Record) {
	for _, w := range s.watchers {
		filters := w.Filters(s.name)
		if !filter.AnyMatches(filters, last) {
			continue
		}
		for _, f := range filters {
			if f.Matches(last) {
				s.emitRemove(w, last.ID, f.Name)
			}
		}
	}
}

// HandleAddFilter installs spec on w for this space and sends an add for
// every present user it matches.
func (s *Space) HandleAddFilter(w *Watcher, spec filter.Spec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSpaceClosed
	}
	if err := w.addFilter(s.name, spec); err != nil {
		return err
	}
	s.logger.Debug().Str("conn", w.ID()).Str("filter", spec.Name).Str("kind", spec.Kind()).Msg("filter added")
	if _, attached := s.watchers[w.ID()]; attached {
		s.delta(w, nil, s.matching(spec), spec.Name)
	}
	return nil
}

// HandleUpdateFilter replaces the filter named spec.Name and sends the
// difference between what the old and the new filter select.
func (s *Space) HandleUpdateFilter(w *Watcher, spec filter.Spec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSpaceClosed
	}
	old, err := w.replaceFilter(s.name, spec)
	if err != nil {
		return err
	}
	s.logger.Debug().Str("conn", w.ID()).Str("filter", spec.Name).Str("kind", spec.Kind()).Msg("filter updated")
	if _, attached := s.watchers[w.ID()]; attached {
		s.delta(w, s.matching(old), s.matching(spec), spec.Name)
	}
	return nil
}

// HandleRemoveFilter stops evaluating the named filter. No removes are
// synthesized: the client discards that filter's view itself, and the
// remaining filters keep governing visibility.
func (s *Space) HandleRemoveFilter(w *Watcher, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := w.removeFilter(s.name, name); err != nil {
		return err
	}
	s.logger.Debug().Str("conn", w.ID()).Str("filter", name).Msg("filter removed")
	return nil
}

func (s *Space) matching(spec filter.Spec) map[int64]presence.Record {
	out := make(map[int64]presence.Record)
	for _, rec := range s.users.All() {
		if spec.Matches(rec) {
			out[rec.ID] = rec
		}
	}
	return out
}

func (s *Space) delta(w *Watcher, before, after map[int64]presence.Record, filterName string) {
	added := 0
	for id, rec := range after {
		if _, ok := before[id]; !ok {
			s.emitAdd(w, rec, filterName)
			added++
		}
	}
	removed := 0
	for id := range before {
		if _, ok := after[id]; !ok {
			s.emitRemove(w, id, filterName)
			removed++
		}
	}
	s.logger.Debug().
		Str("conn", w.ID()).
		Str("filter", filterName).
		Int("added", added).
		Int("removed", removed).
		Msg("filter delta")
}

func (s *Space) emitAdd(w *Watcher, rec presence.Record, filterName string) {
	u := rec.SpaceUser.Clone()
	s.emit(w, message.Server{
		Type:       message.TypeAddSpaceUser,
		SpaceName:  s.localName,
		FilterName: filterName,
		User:       &u,
	})
}

func (s *Space) emitUpdate(w *Watcher, rec presence.Record, mask []string, filterName string) {
	u := rec.SpaceUser.Clone()
	s.emit(w, message.Server{
		Type:       message.TypeUpdateSpaceUser,
		SpaceName:  s.localName,
		FilterName: filterName,
		User:       &u,
		UpdateMask: append([]string(nil), mask...),
	})
}

func (s *Space) emitRemove(w *Watcher, userID int64, filterName string) {
	s.emit(w, message.Server{
		Type:       message.TypeRemoveSpaceUser,
		SpaceName:  s.localName,
		FilterName: filterName,
		UserID:     userID,
	})
}

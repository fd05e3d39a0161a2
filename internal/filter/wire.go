package filter

import "fmt"

type ContainsNameWire struct {
	Value string `json:"value"`
}

type Empty struct{}

// Wire is the JSON form of a Spec as clients send it.
type Wire struct {
	FilterName    string            `json:"filterName"`
	ContainsName  *ContainsNameWire `json:"containsName,omitempty"`
	Everybody     *Empty            `json:"everybody,omitempty"`
	LiveStreaming *Empty            `json:"liveStreaming,omitempty"`
}

func Decode(w Wire) (Spec, error) {
	var (
		pred Predicate
		set  int
	)
	if w.ContainsName != nil {
		pred = NewContainsName(w.ContainsName.Value)
		set++
	}
	if w.Everybody != nil {
		pred = Everybody{}
		set++
	}
	if w.LiveStreaming != nil {
		pred = LiveStreaming{}
		set++
	}
	if set != 1 {
		return Spec{}, fmt.Errorf("%w: filter %q sets %d", ErrUnknownVariant, w.FilterName, set)
	}
	if w.FilterName == "" {
		return Spec{}, ErrMissingName
	}
	return Spec{Name: w.FilterName, Predicate: pred}, nil
}

func Encode(s Spec) Wire {
	w := Wire{FilterName: s.Name}
	switch p := s.Predicate.(type) {
	case ContainsName:
		w.ContainsName = &ContainsNameWire{Value: p.Value()}
	case Everybody:
		w.Everybody = &Empty{}
	case LiveStreaming:
		w.LiveStreaming = &Empty{}
	default:
		panic(fmt.Sprintf("filter %q: unhandled predicate %T", s.Name, s.Predicate))
	}
	return w
}

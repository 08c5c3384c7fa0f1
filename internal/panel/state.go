package panel

import "fmt"

// NoPanel is the current panel index before any panel has been opened.
const NoPanel = -1

// State is the per-session panel state. It is a value: every transition
// returns a new State and leaves the receiver untouched. The visited set is
// never written in place, so copies may share it.
type State struct {
	// CurrentPanelIndex is the panel most recently expanded, or NoPanel.
	CurrentPanelIndex int
	// FirstState is true until the user first toggles any panel. It
	// suppresses error decoration on panels nobody has looked at yet.
	FirstState bool
	// Submitting is true while a save is in flight.
	Submitting bool

	visited []bool
}

// NewState returns the initial state for n panels.
func NewState(n int) State {
	if n < 0 {
		panic(fmt.Sprintf("panel: negative panel count %d", n))
	}
	return State{
		CurrentPanelIndex: NoPanel,
		FirstState:        true,
		visited:           make([]bool, n),
	}
}

// Len returns the number of panels.
func (s State) Len() int {
	return len(s.visited)
}

// InRange reports whether i addresses a panel.
func (s State) InRange(i int) bool {
	return i >= 0 && i < len(s.visited)
}

func (s State) mustContain(i int) {
	if !s.InRange(i) {
		panic(fmt.Sprintf("panel: index %d out of range [0,%d)", i, len(s.visited)))
	}
}

// TogglePanel records that panel i was expanded (collapsed == false) or
// collapsed. Expanding marks i visited and makes it current. Collapsing
// never changes the current panel. Either way the session has left its
// first state. It panics if i is out of range.
func (s State) TogglePanel(i int, collapsed bool) State {
	s.mustContain(i)
	next := s.clone()
	next.FirstState = false
	if !collapsed {
		next.visited[i] = true
		next.CurrentPanelIndex = i
	}
	return next
}

// MarkVisited returns a state in which every listed panel counts as visited.
// The current panel does not change. It panics if any index is out of range.
func (s State) MarkVisited(indexes ...int) State {
	next := s.clone()
	for _, i := range indexes {
		s.mustContain(i)
		next.visited[i] = true
	}
	if len(indexes) > 0 {
		next.FirstState = false
	}
	return next
}

// WithSubmitting returns a state with the submitting flag set to b.
func (s State) WithSubmitting(b bool) State {
	s.Submitting = b
	return s
}

// IsVisited reports whether panel i has ever been expanded.
func (s State) IsVisited(i int) bool {
	return s.InRange(i) && s.visited[i]
}

// Visited returns the visited panel indexes in ascending order.
func (s State) Visited() []int {
	out := []int{}
	for i, v := range s.visited {
		if v {
			out = append(out, i)
		}
	}
	return out
}

func (s State) clone() State {
	next := s
	next.visited = make([]bool, len(s.visited))
	copy(next.visited, s.visited)
	return next
}

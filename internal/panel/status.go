// Package panel tracks which designer panel is active, which panels the user
// has opened, and derives each panel's display status from that state.
package panel

// Status is the lifecycle status shown on a panel header.
type Status string

const (
	// StatusNone shows no decoration. Used before interaction and for panels
	// the user has not opened yet.
	StatusNone Status = "NONE"
	// StatusTodo flags a visited panel that still needs correction.
	StatusTodo Status = "TODO"
	// StatusInProgress marks the current panel.
	StatusInProgress Status = "INPROGRESS"
	// StatusComplete marks a visited, valid panel.
	StatusComplete Status = "COMPLETE"
)

// ComputeStatus returns the display status of panel i. The rules are checked
// in order; the first that matches wins.
func ComputeStatus(i int, s State, localValid bool) Status {
	s.mustContain(i)
	visited := s.visited[i]

	switch {
	case s.FirstState && !visited && i != s.CurrentPanelIndex:
		return StatusNone
	case i == s.CurrentPanelIndex:
		return StatusInProgress
	case visited && localValid:
		return StatusComplete
	case visited:
		return StatusTodo
	default:
		return StatusNone
	}
}

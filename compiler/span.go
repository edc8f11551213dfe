package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Source locations
// ---------------------------------------------------------------------------

// Position is a source location. Lines and columns are 0-based, as the
// Luau parser reports them.
type Position struct {
	Line   uint32
	Column uint32
}

func (p Position) String() string {
	return fmt.Sprintf("(%d,%d)", p.Line, p.Column)
}

// Before reports whether p comes strictly before q.
func (p Position) Before(q Position) bool {
	return p.Line < q.Line || (p.Line == q.Line && p.Column < q.Column)
}

// Span is a half-open range of source.
type Span struct {
	Start Position
	End   Position
}

func (s Span) String() string {
	return s.Start.String() + ".." + s.End.String()
}

// Contains reports whether p lies within s. A zero-width span contains its
// own start.
func (s Span) Contains(p Position) bool {
	if s.Start == s.End {
		return p == s.Start
	}
	return !p.Before(s.Start) && p.Before(s.End)
}

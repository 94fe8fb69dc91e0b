package paper

import "fmt"

// Note is a free-text annotation attached to a node index.
type Note struct {
	Index int
	Text  string
}

// QuestionPaper is the built document: the flat node arena, a cursor
// (prevIndex) that intent resolution reads and moves, lastIndex (the
// index of the last top-level section — the document's last child,
// not necessarily the final arena entry, since a section's own
// questions follow it in the arena), and the marked/skipped/notes
// registers. Ported from original_source's QuestionPaper.
type QuestionPaper struct {
	nodes          []Node
	prevIndex      int
	lastIndex      int
	totalQuestions int

	marked  []int
	skipped []int
	notes   []Note
}

// NewQuestionPaper wraps a completed arena. lastIndex is resolved from
// the document node's LastChild — the index of the most recently
// appended section — falling back to 0 (the document itself) for an
// empty paper.
func NewQuestionPaper(nodes []Node, totalQuestions int) *QuestionPaper {
	last := 0
	if len(nodes) > 0 && nodes[0].LastChild != noIndex {
		last = nodes[0].LastChild
	}
	return &QuestionPaper{
		nodes:          nodes,
		prevIndex:      0,
		lastIndex:      last,
		totalQuestions: totalQuestions,
	}
}

func (p *QuestionPaper) Len() int            { return len(p.nodes) }
func (p *QuestionPaper) PrevIndex() int      { return p.prevIndex }
func (p *QuestionPaper) LastIndex() int      { return p.lastIndex }
func (p *QuestionPaper) TotalQuestions() int { return p.totalQuestions }
func (p *QuestionPaper) NumMarked() int      { return len(p.marked) }
func (p *QuestionPaper) NumSkipped() int     { return len(p.skipped) }

// Notes returns a copy of the accumulated notes, in insertion order.
func (p *QuestionPaper) Notes() []Note {
	out := make([]Note, len(p.notes))
	copy(out, p.notes)
	return out
}

// Nth returns the node at index i, if it exists.
func (p *QuestionPaper) Nth(i int) (Node, bool) {
	if i < 0 || i >= len(p.nodes) {
		return Node{}, false
	}
	return p.nodes[i], true
}

// resolve derives (origin, skip, direction) from ref and searches the
// arena for the skip-th node matching pred, per §4.7 of SPEC_FULL.md.
//
// Start and End search inclusive of origin, matching the literal
// original — Start(0) returning the very first match is property 7's
// "(k+1)-th matching node from index 0" with k=0.
//
// Current is the one deliberate deviation from the literal source: the
// original's Find iterator always includes its starting index, but that
// makes Current(0) return the cursor's own node again instead of "the
// next match after it" (see SPEC_FULL.md §4.7's edge cases, and the S3/S4
// worked scenarios in spec.md §8). So Current excludes the origin and
// reduces its skip magnitude by one to compensate — documented in
// DESIGN.md as the resolution of that inconsistency.
func (p *QuestionPaper) resolve(pred Predicate, ref Reference) (Node, error) {
	abs := absInt(ref.K)
	forward := ref.isForward()

	var origin, skip int
	exclude := false

	switch ref.Kind {
	case RefStart:
		origin, skip = 0, abs
	case RefEnd:
		origin, skip = p.lastIndex, abs
	case RefCurrent:
		origin = p.prevIndex
		skip = abs - 1
		if skip < 0 {
			skip = 0
		}
		exclude = true
	}

	start := origin
	if exclude {
		if forward {
			start++
		} else {
			start--
		}
	}

	var n Node
	var err error
	if forward {
		n, err = p.findNext(start, skip, pred)
	} else {
		n, err = p.findBack(start, skip, pred)
	}
	if err != nil {
		return Node{}, err
	}

	p.prevIndex = n.Index
	return n, nil
}

// findNext walks forward from start (inclusive), accepting the (skip+1)-th
// node matching pred.
func (p *QuestionPaper) findNext(start, skip int, pred Predicate) (Node, error) {
	for next := start; next < len(p.nodes); next++ {
		n := p.nodes[next]
		if pred.Matches(n) {
			if skip > 0 {
				skip--
				continue
			}
			return n, nil
		}
	}
	return Node{}, fmt.Errorf("could not find a next node")
}

// findBack walks backward from start (inclusive), never visiting index 0
// (the document node can never match a question/section predicate
// anyway, but this mirrors the original's explicit next > 0 bound).
func (p *QuestionPaper) findBack(start, skip int, pred Predicate) (Node, error) {
	for next := start; next > 0; next-- {
		n := p.nodes[next]
		if pred.Matches(n) {
			if skip > 0 {
				skip--
				continue
			}
			return n, nil
		}
	}
	return Node{}, fmt.Errorf("could not resolve a previous node")
}

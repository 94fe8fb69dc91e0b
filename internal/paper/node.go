// Package paper implements the document tree arena, the modal builder
// that fills it from a tag stream, and the cursor-based intent resolver
// that navigates it. Ported from original_source's question_paper module.
package paper

// NodeKind discriminates the four shapes a Node can hold.
type NodeKind int

const (
	KindDocument NodeKind = iota
	KindSection
	KindQuestion
	KindInstruction
)

// SectionData is the summary recorded when a section closes: counts are
// a snapshot taken at close time, not live — live marks/skips are
// tracked only in the owning QuestionPaper's registers (see paper.go);
// nothing updates these counters after the section closes.
type SectionData struct {
	SectionName  string
	NumQuestions int
	NumAttempted int
	NumSkipped   int
	NumMarked    int
	NumRemaining int
}

// QuestionData is one question's content and position. PageNumber
// defaults to 1 (a question before any page_N tag closes belongs to
// page 1). QuestionNumber reproduces the original builder's
// pre-increment quirk — see section_builder.go.
type QuestionData struct {
	Question       string
	QuestionNumber int
	PageNumber     int
	Marked         bool
}

// NodeData holds whichever of the four node shapes is relevant to Kind.
type NodeData struct {
	Kind        NodeKind
	Section     SectionData
	Question    QuestionData
	Instruction string
}

// noIndex marks an absent arena link — Go's answer to the original's
// Option<usize> parent/prev/next/first_child/last_child fields.
const noIndex = -1

// Node is one entry in the flat, append-only arena. Indices are never
// reused or removed; they stay valid for the paper's whole lifetime.
type Node struct {
	Data       NodeData
	Index      int
	Parent     int
	Prev       int
	Next       int
	FirstChild int
	LastChild  int
}

func newNode(data NodeData, index int) Node {
	return Node{
		Data:       data,
		Index:      index,
		Parent:     noIndex,
		Prev:       noIndex,
		Next:       noIndex,
		FirstChild: noIndex,
		LastChild:  noIndex,
	}
}

// IsQuestion reports whether this node holds question data.
func (n Node) IsQuestion() bool { return n.Data.Kind == KindQuestion }

// IsSection reports whether this node holds section data.
func (n Node) IsSection() bool { return n.Data.Kind == KindSection }

package paper

import (
	"github.com/qpaper/qpe/internal/tagrules"
	"github.com/qpaper/qpe/internal/xmltoken"
)

type builderMode int

const (
	builderModeNone builderMode = iota
	builderModeRoot
	builderModeSection
)

// Builder is the modal document-tree builder: it consumes a tag stream
// and grows the flat node arena, delegating a section's body to a
// sectionBuilder and inserting the finished section (and its questions)
// as a contiguous block once the section's closing tag arrives. Ported
// from original_source's PaperBuilder.
type Builder struct {
	classifier *tagrules.Classifier

	mode  builderMode
	nodes []Node

	instructions   []string
	totalQuestions int
	errors         []string

	sb *sectionBuilder
}

// NewBuilder creates a Builder using only the built-in tag vocabulary.
func NewBuilder() *Builder {
	return NewBuilderWithClassifier(tagrules.Default())
}

// NewBuilderWithClassifier creates a Builder using c for tag
// classification — used when an operator has extended recognition via
// tagrules.yaml.
func NewBuilderWithClassifier(c *tagrules.Classifier) *Builder {
	return &Builder{
		classifier: c,
		sb:         newSectionBuilder(c),
	}
}

// ProcessTag feeds one parsed tag through the builder's state machine.
// Document tags are handled unconditionally, ahead of mode dispatch;
// everything else first updates the Root/Section mode, then is
// dispatched according to that mode.
func (b *Builder) ProcessTag(tag xmltoken.Tag) {
	class := b.classifier.Classify(tag.Name)

	if class == tagrules.ClassXML {
		b.processDocument(tag)
		return
	}

	b.updateMode(class)
	b.processInMode(tag, class)
}

func (b *Builder) processDocument(tag xmltoken.Tag) {
	if tag.Kind == xmltoken.StartTag && tag.SelfClosing {
		b.errors = append(b.errors, "document node cannot be self closing")
		return
	}
	if tag.Kind == xmltoken.StartTag {
		b.append(NodeData{Kind: KindDocument}, noIndex, noIndex)
	}
}

func (b *Builder) updateMode(class tagrules.NodeClass) {
	switch class {
	case tagrules.ClassRoot:
		b.mode = builderModeRoot
	case tagrules.ClassSection:
		b.mode = builderModeSection
	}
}

func (b *Builder) processInMode(tag xmltoken.Tag, class tagrules.NodeClass) {
	switch b.mode {
	case builderModeRoot:
		if class == tagrules.ClassInstructions && tag.Kind == xmltoken.EndTag {
			b.instructions = append(b.instructions, tag.Value)
		}
	case builderModeSection:
		if class == tagrules.ClassSection && tag.Kind == xmltoken.EndTag {
			b.insertSection()
		} else {
			b.sb.processTag(tag)
		}
	}
}

// insertSection closes the current sectionBuilder and appends its
// section node (parented to the document at index 0) followed by its
// questions, chained to each other via prev/next, parented to the
// section. The section builder is cleared for the next section.
func (b *Builder) insertSection() {
	sec := b.sb.end()

	parent := b.append(NodeData{Kind: KindSection, Section: sec.data}, 0, noIndex)

	prev := noIndex
	for _, q := range sec.questions {
		prev = b.append(NodeData{Kind: KindQuestion, Question: q}, parent, prev)
	}

	b.totalQuestions += len(sec.questions)
	b.sb.clear()
}

// append inserts a new node at the end of the arena, linking it under
// parent (if any) and after prev (if any). Mirrors original_source's
// append: a parent's first_child is set only the first time it gains a
// child, but last_child is overwritten on every append.
func (b *Builder) append(data NodeData, parent, prev int) int {
	index := len(b.nodes)
	n := newNode(data, index)
	n.Parent = parent
	n.Prev = prev
	b.nodes = append(b.nodes, n)

	if parent != noIndex {
		p := &b.nodes[parent]
		if p.FirstChild == noIndex {
			p.FirstChild = index
		}
		p.LastChild = index
	}
	if prev != noIndex {
		b.nodes[prev].Next = index
	}
	return index
}

// End finishes the build, returning the assembled QuestionPaper, the
// collected root-mode instructions text (paper state per spec.md §3
// deliberately excludes instructions — they are build-time metadata, not
// part of the navigable paper, so callers that want them take this
// return value directly), and any structural errors recorded along the
// way.
func (b *Builder) End() (*QuestionPaper, []string, []string) {
	qp := NewQuestionPaper(b.nodes, b.totalQuestions)
	return qp, b.instructions, b.errors
}

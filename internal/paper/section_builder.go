package paper

import (
	"github.com/qpaper/qpe/internal/tagrules"
	"github.com/qpaper/qpe/internal/xmltoken"
)

type sectionMode int

const (
	sectionModeNone sectionMode = iota
	sectionModeQuestion
	sectionModeMeta
)

// section is what a sectionBuilder hands back on end(): the closed
// section's summary plus its ordered questions, ready for the enclosing
// builder to append into the arena.
type section struct {
	data      SectionData
	questions []QuestionData
}

// sectionBuilder accumulates one section's body: its name, its pages, and
// its questions, numbered as they close. Ported from original_source's
// SectionBuilder exactly, including the current_question pre-increment
// (see node.go's QuestionData doc comment and SPEC_FULL.md §9, open question 1).
type sectionBuilder struct {
	classifier *tagrules.Classifier

	numQuestions    int
	currentQuestion int
	mode            sectionMode
	currentPage     int
	lastPageName    string
	haveLastPage    bool
	questions       []QuestionData
	sectionName     string
}

func newSectionBuilder(c *tagrules.Classifier) *sectionBuilder {
	return &sectionBuilder{
		classifier:      c,
		currentQuestion: 1,
		currentPage:     1,
	}
}

// clear resets accumulated state after insertion, leaving currentQuestion
// and currentPage running across sections within the same paper — the
// original never resets them either.
func (b *sectionBuilder) clear() {
	b.mode = sectionModeNone
	b.numQuestions = 0
	b.questions = nil
}

func (b *sectionBuilder) processQuestion(tag xmltoken.Tag) {
	if tag.Kind != xmltoken.EndTag {
		return
	}
	if b.classifier.Classify(tag.Name) != tagrules.ClassQuestion {
		return
	}

	b.currentQuestion++
	b.numQuestions++

	b.questions = append(b.questions, QuestionData{
		Question:       tag.Value,
		PageNumber:     b.currentPage,
		QuestionNumber: b.currentQuestion,
	})
}

func (b *sectionBuilder) getSectionData() SectionData {
	return SectionData{
		SectionName:  b.sectionName,
		NumQuestions: b.numQuestions,
	}
}

// processTag feeds one tag through the section's own small state machine:
// item open switches into question mode, page-end-tags with a new tag
// name advance the page counter, section-number end tags set the section
// name, and while in question mode every tag is also forwarded to
// processQuestion.
func (b *sectionBuilder) processTag(tag xmltoken.Tag) {
	class := b.classifier.Classify(tag.Name)

	if class == tagrules.ClassItem && tag.Kind == xmltoken.StartTag {
		b.mode = sectionModeQuestion
	}

	if class == tagrules.ClassPage && tag.Kind == xmltoken.EndTag {
		if !b.haveLastPage || b.lastPageName != tag.Name {
			b.currentPage++
			b.lastPageName = tag.Name
			b.haveLastPage = true
		}
	}

	if class == tagrules.ClassSectionName && tag.Kind == xmltoken.EndTag {
		b.sectionName = tag.Value
	}

	if b.mode == sectionModeQuestion {
		b.processQuestion(tag)
	}
}

func (b *sectionBuilder) end() section {
	s := section{data: b.getSectionData(), questions: b.questions}
	b.questions = nil
	return s
}

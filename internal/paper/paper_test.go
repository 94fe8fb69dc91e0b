package paper

import (
	"testing"

	"github.com/qpaper/qpe/internal/tagrules"
	"github.com/qpaper/qpe/internal/xmltoken"
)

// buildTwoSectionPaper feeds a small synthetic tag stream — two sections
// of two questions each — directly through a Builder, bypassing the
// tokenizer entirely. Arena layout ends up:
//
//	0 document
//	1 section "1"   (questions 2,3)
//	2   question 1
//	3   question 2
//	4 section "2"   (questions 4,5)
//	5   question 1
//	6   question 2
func buildTwoSectionPaper(t *testing.T) (*QuestionPaper, []string, []string) {
	t.Helper()

	b := NewBuilder()
	tags := []xmltoken.Tag{
		{Kind: xmltoken.StartTag, Name: "xml"},
		{Kind: xmltoken.StartTag, Name: "root"},
		{Kind: xmltoken.EndTag, Name: "instructions", Value: "Attempt all questions"},
		{Kind: xmltoken.StartTag, Name: "SECTION_1"},
		{Kind: xmltoken.EndTag, Name: "section_number", Value: "1"},
		{Kind: xmltoken.StartTag, Name: "item"},
		{Kind: xmltoken.EndTag, Name: "question", Value: "2+2?"},
		{Kind: xmltoken.EndTag, Name: "item"},
		{Kind: xmltoken.StartTag, Name: "item"},
		{Kind: xmltoken.EndTag, Name: "question", Value: "3+3?"},
		{Kind: xmltoken.EndTag, Name: "item"},
		{Kind: xmltoken.EndTag, Name: "SECTION_1"},
		{Kind: xmltoken.StartTag, Name: "SECTION_2"},
		{Kind: xmltoken.EndTag, Name: "section_number", Value: "2"},
		{Kind: xmltoken.StartTag, Name: "item"},
		{Kind: xmltoken.EndTag, Name: "question", Value: "5+5?"},
		{Kind: xmltoken.EndTag, Name: "item"},
		{Kind: xmltoken.StartTag, Name: "item"},
		{Kind: xmltoken.EndTag, Name: "question", Value: "6+6?"},
		{Kind: xmltoken.EndTag, Name: "item"},
		{Kind: xmltoken.EndTag, Name: "SECTION_2"},
	}
	for _, tag := range tags {
		b.ProcessTag(tag)
	}
	qp, instructions, errs := b.End()
	return qp, instructions, errs
}

func TestBuilderAssemblesArena(t *testing.T) {
	qp, instructions, errs := buildTwoSectionPaper(t)

	if len(errs) != 0 {
		t.Fatalf("unexpected build errors: %v", errs)
	}
	if len(instructions) != 1 || instructions[0] != "Attempt all questions" {
		t.Fatalf("instructions = %v, want [\"Attempt all questions\"]", instructions)
	}
	if qp.Len() != 7 {
		t.Fatalf("Len() = %d, want 7", qp.Len())
	}
	if qp.TotalQuestions() != 4 {
		t.Fatalf("TotalQuestions() = %d, want 4", qp.TotalQuestions())
	}

	doc, _ := qp.Nth(0)
	if doc.Data.Kind != KindDocument || doc.FirstChild != 1 || doc.LastChild != 4 {
		t.Fatalf("document node = %+v, want FirstChild=1 LastChild=4", doc)
	}
	if qp.LastIndex() != 4 {
		t.Fatalf("LastIndex() = %d, want 4 (second section)", qp.LastIndex())
	}

	sec1, _ := qp.Nth(1)
	if !sec1.IsSection() || sec1.Data.Section.SectionName != "1" || sec1.Data.Section.NumQuestions != 2 {
		t.Fatalf("section 1 = %+v", sec1)
	}
	if sec1.FirstChild != 2 || sec1.LastChild != 3 {
		t.Fatalf("section 1 children = [%d,%d], want [2,3]", sec1.FirstChild, sec1.LastChild)
	}

	q1, _ := qp.Nth(2)
	q2, _ := qp.Nth(3)
	if !q1.IsQuestion() || q1.Data.Question.Question != "2+2?" || q1.Next != 3 {
		t.Fatalf("question 1 = %+v", q1)
	}
	if !q2.IsQuestion() || q2.Data.Question.Question != "3+3?" || q2.Prev != 2 {
		t.Fatalf("question 2 = %+v", q2)
	}

	sec2, _ := qp.Nth(4)
	if sec2.Data.Section.SectionName != "2" || sec2.FirstChild != 5 || sec2.LastChild != 6 {
		t.Fatalf("section 2 = %+v", sec2)
	}
}

func TestBuilderQuestionNumberPreIncrementQuirk(t *testing.T) {
	qp, _, _ := buildTwoSectionPaper(t)

	q1, _ := qp.Nth(2)
	q2, _ := qp.Nth(3)
	if q1.Data.Question.QuestionNumber != 2 {
		t.Fatalf("first question number = %d, want 2 (ported pre-increment quirk)", q1.Data.Question.QuestionNumber)
	}
	if q2.Data.Question.QuestionNumber != 3 {
		t.Fatalf("second question number = %d, want 3", q2.Data.Question.QuestionNumber)
	}
}

func TestBuilderDocumentSelfClosingIsAnError(t *testing.T) {
	b := NewBuilder()
	b.ProcessTag(xmltoken.Tag{Kind: xmltoken.StartTag, Name: "xml", SelfClosing: true})
	_, _, errs := b.End()
	if len(errs) != 1 {
		t.Fatalf("errs = %v, want one error", errs)
	}
}

func TestResolveStartIsInclusiveOfOrigin(t *testing.T) {
	qp, _, _ := buildTwoSectionPaper(t)

	n, err := qp.resolve(QuestionPredicate, StartRef(0))
	if err != nil || n.Index != 2 {
		t.Fatalf("Start(0) = %+v, err=%v, want index 2", n, err)
	}

	n, err = qp.resolve(QuestionPredicate, StartRef(1))
	if err != nil || n.Index != 3 {
		t.Fatalf("Start(1) = %+v, err=%v, want index 3", n, err)
	}
}

func TestResolveCurrentExcludesOriginAndReducesSkip(t *testing.T) {
	qp, _, _ := buildTwoSectionPaper(t)

	// Move the cursor onto the first question (index 2).
	if _, err := qp.resolve(QuestionPredicate, StartRef(0)); err != nil {
		t.Fatalf("priming Start(0): %v", err)
	}

	// Current(0) and Current(1) both land on the very next question —
	// skip is floored at max(|K|-1, 0) so K=0 and K=1 agree. See
	// resolve's doc comment on the Current deviation.
	n, err := qp.resolve(QuestionPredicate, CurrentRef(0))
	if err != nil || n.Index != 3 {
		t.Fatalf("Current(0) = %+v, err=%v, want index 3", n, err)
	}

	qp.prevIndex = 2 // reset cursor to re-run from the same origin
	n, err = qp.resolve(QuestionPredicate, CurrentRef(1))
	if err != nil || n.Index != 3 {
		t.Fatalf("Current(1) = %+v, err=%v, want index 3", n, err)
	}

	qp.prevIndex = 2
	n, err = qp.resolve(QuestionPredicate, CurrentRef(2))
	if err != nil || n.Index != 5 {
		t.Fatalf("Current(2) = %+v, err=%v, want index 5 (second-next question)", n, err)
	}
}

func TestResolveEndAnchorsOnLastSection(t *testing.T) {
	qp, _, _ := buildTwoSectionPaper(t)

	n, err := qp.resolve(SectionPredicate, EndRef(0))
	if err != nil || n.Index != 4 {
		t.Fatalf("End(0) section = %+v, err=%v, want index 4 (last section)", n, err)
	}

	n, err = qp.resolve(QuestionPredicate, EndRef(-1))
	if err != nil || n.Index != 2 {
		t.Fatalf("End(-1) question = %+v, err=%v, want index 2 (search back from last section)", n, err)
	}
}

func TestResolveNoMatchReturnsErrorAndLeavesCursor(t *testing.T) {
	qp, _, _ := buildTwoSectionPaper(t)
	qp.prevIndex = 2

	_, err := qp.resolve(QuestionPredicate, StartRef(99))
	if err == nil {
		t.Fatal("expected an error for an out-of-range skip")
	}
	if qp.PrevIndex() != 2 {
		t.Fatalf("PrevIndex() = %d, want unchanged 2 after a failed read", qp.PrevIndex())
	}
}

func TestResolveIntentReadAdvancesCursor(t *testing.T) {
	qp, _, _ := buildTwoSectionPaper(t)

	result := qp.ResolveIntent(Intent{Kind: IntentRead, Read: Read{Kind: ReadQuestion, Ref: StartRef(1)}})
	if result.Kind != ResultRead || result.Read.Err != nil || result.Read.Node.Index != 3 {
		t.Fatalf("ResolveIntent(read) = %+v", result)
	}
	if qp.PrevIndex() != 3 {
		t.Fatalf("PrevIndex() = %d, want 3", qp.PrevIndex())
	}
}

func TestResolveWriteMarkAndMetaSummary(t *testing.T) {
	qp, _, _ := buildTwoSectionPaper(t)

	result := qp.ResolveIntent(Intent{
		Kind:  IntentWrite,
		Write: Write{Kind: WriteMark, Reads: []Read{{Kind: ReadQuestion, Ref: StartRef(0)}}},
	})
	if result.Kind != ResultWrite || result.Write.Err != nil {
		t.Fatalf("mark write = %+v", result)
	}
	if qp.NumMarked() != 1 {
		t.Fatalf("NumMarked() = %d, want 1", qp.NumMarked())
	}

	meta := qp.ResolveIntent(Intent{Kind: IntentMeta, Meta: MetaMarked})
	if meta.Meta != "1 question(s) marked for review" {
		t.Fatalf("meta = %q", meta.Meta)
	}
}

func TestResolveWriteSkipForcesCursor(t *testing.T) {
	qp, _, _ := buildTwoSectionPaper(t)

	result := qp.ResolveIntent(Intent{
		Kind:  IntentWrite,
		Write: Write{Kind: WriteSkip, Reads: []Read{{Kind: ReadQuestion, Ref: StartRef(1)}}},
	})
	if result.Write.Err != nil {
		t.Fatalf("skip write = %+v", result)
	}
	if qp.PrevIndex() != 3 {
		t.Fatalf("PrevIndex() = %d, want 3 (forced by skip)", qp.PrevIndex())
	}
	if qp.NumSkipped() != 1 {
		t.Fatalf("NumSkipped() = %d, want 1", qp.NumSkipped())
	}
}

// TestResolveWriteLastOperandWins exercises the documented "last operand
// wins" surprise: a batch with a successful first operand and a failing
// second operand reports the batch as failed, but the first operand's
// side effect (the mark) is not rolled back.
func TestResolveWriteLastOperandWins(t *testing.T) {
	qp, _, _ := buildTwoSectionPaper(t)

	result := qp.ResolveIntent(Intent{
		Kind: IntentWrite,
		Write: Write{
			Kind: WriteMark,
			Reads: []Read{
				{Kind: ReadQuestion, Ref: StartRef(0)},
				{Kind: ReadQuestion, Ref: StartRef(99)},
			},
		},
	})
	if result.Write.Err == nil {
		t.Fatal("expected the batch's overall result to be the last (failing) operand")
	}
	if qp.NumMarked() != 1 {
		t.Fatalf("NumMarked() = %d, want 1 (first operand's mark preserved despite batch error)", qp.NumMarked())
	}
}

func TestResolveWriteNoOperandsIsAnError(t *testing.T) {
	qp, _, _ := buildTwoSectionPaper(t)

	result := qp.ResolveIntent(Intent{Kind: IntentWrite, Write: Write{Kind: WriteMark}})
	if result.Write.Err == nil {
		t.Fatal("expected an error for a write intent with no operands")
	}
}

func TestAndPredicateRequiresBoth(t *testing.T) {
	always := predicateFunc(func(Node) bool { return true })
	never := predicateFunc(func(Node) bool { return false })

	if !And(always, always).Matches(Node{}) {
		t.Fatal("And(true, true) should match")
	}
	if And(always, never).Matches(Node{}) {
		t.Fatal("And(true, false) should not match")
	}
}

func TestClassifierRecognizesSectionGlob(t *testing.T) {
	c := tagrules.Default()
	if c.Classify("SECTION_1") != tagrules.ClassSection {
		t.Fatalf("SECTION_1 classified as %v, want ClassSection", c.Classify("SECTION_1"))
	}
	if c.Classify("page_3") != tagrules.ClassPage {
		t.Fatalf("page_3 classified as %v, want ClassPage", c.Classify("page_3"))
	}
	if c.Classify("unknown_tag") != tagrules.ClassUnrecognized {
		t.Fatalf("unknown_tag classified as %v, want ClassUnrecognized", c.Classify("unknown_tag"))
	}
}

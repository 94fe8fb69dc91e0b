package xmltoken

import (
	"testing"

	"github.com/qpaper/qpe/internal/charbuf"
)

// tokenize runs the full tokenizer over xml in one shot and returns every
// tag it emitted plus any parse errors recorded along the way.
func tokenize(t *testing.T, xml string) ([]Tag, []string) {
	t.Helper()

	tagCh := make(chan Tag, 64)
	sink := NewSink(tagCh)
	buf := charbuf.NewCharBuffer()
	tok := NewTokenizer(buf, sink)

	buf.PushBack([]byte(xml))
	tok.Feed()
	tok.End()

	var tags []Tag
	for tag := range tagCh {
		tags = append(tags, tag)
	}
	return tags, sink.Errors()
}

func TestTokenizerStartAndEndTag(t *testing.T) {
	tags, errs := tokenize(t, "<root></root>")
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(tags) != 2 {
		t.Fatalf("got %d tags, want 2: %+v", len(tags), tags)
	}
	if tags[0].Kind != StartTag || tags[0].Name != "root" {
		t.Fatalf("tags[0] = %+v", tags[0])
	}
	if tags[1].Kind != EndTag || tags[1].Name != "root" {
		t.Fatalf("tags[1] = %+v", tags[1])
	}
}

func TestTokenizerSelfClosingTag(t *testing.T) {
	tags, errs := tokenize(t, "<item/>")
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(tags) != 1 {
		t.Fatalf("got %d tags, want 1: %+v", len(tags), tags)
	}
	if tags[0].Kind != StartTag || tags[0].Name != "item" || !tags[0].SelfClosing {
		t.Fatalf("tags[0] = %+v, want self-closing start tag \"item\"", tags[0])
	}
}

func TestTokenizerAttributes(t *testing.T) {
	tags, errs := tokenize(t, `<tag a="1" b="two">`)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(tags) != 1 {
		t.Fatalf("got %d tags, want 1: %+v", len(tags), tags)
	}
	tag := tags[0]
	if tag.Name != "tag" || tag.Kind != StartTag {
		t.Fatalf("tag = %+v", tag)
	}
	if v, ok := tag.Attr("a"); !ok || v != "1" {
		t.Fatalf("attribute a = (%q, %v), want (\"1\", true)", v, ok)
	}
	if v, ok := tag.Attr("b"); !ok || v != "two" {
		t.Fatalf("attribute b = (%q, %v), want (\"two\", true)", v, ok)
	}
	if _, ok := tag.Attr("missing"); ok {
		t.Fatal("Attr(\"missing\") should report false")
	}
}

func TestTokenizerPassageAttachesToTheTagThatCloses(t *testing.T) {
	tags, errs := tokenize(t, "<q>hello there</q>")
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(tags) != 2 {
		t.Fatalf("got %d tags, want 2: %+v", len(tags), tags)
	}
	if tags[0].HasValue {
		t.Fatalf("opening tag should carry no passage: %+v", tags[0])
	}
	if !tags[1].HasValue || tags[1].Value != "hello there" {
		t.Fatalf("closing tag = %+v, want Value \"hello there\"", tags[1])
	}
}

func TestTokenizerProcessingInstructionIsATag(t *testing.T) {
	tags, errs := tokenize(t, `<?xml?>`)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(tags) != 1 {
		t.Fatalf("tags = %+v, want one tag", tags)
	}
}

func TestTokenizerBadAttributeValueCharIsRecoverable(t *testing.T) {
	tags, errs := tokenize(t, "<tag a=5><ok></ok>")
	if len(errs) == 0 {
		t.Fatal("expected a parse error for an unquoted attribute value")
	}
	// Tokenizing continues after the bad character: the well-formed tags
	// that follow are still emitted.
	found := false
	for _, tag := range tags {
		if tag.Name == "ok" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected tokenizing to recover and still emit <ok>, got %+v", tags)
	}
}

func TestTokenizerFeedCanBeCalledIncrementally(t *testing.T) {
	tagCh := make(chan Tag, 64)
	sink := NewSink(tagCh)
	buf := charbuf.NewCharBuffer()
	tok := NewTokenizer(buf, sink)

	buf.PushBack([]byte("<root>"))
	tok.Feed() // emits the start tag, then suspends for lack of more input

	buf.PushBack([]byte("</root>"))
	tok.Feed()
	tok.End()

	var tags []Tag
	for tag := range tagCh {
		tags = append(tags, tag)
	}
	if len(tags) != 2 || tags[0].Name != "root" || tags[1].Name != "root" {
		t.Fatalf("tags = %+v, want two \"root\" tags", tags)
	}
}

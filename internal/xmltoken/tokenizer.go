package xmltoken

import (
	"fmt"
	"strings"

	"github.com/qpaper/qpe/internal/charbuf"
)

// state is the tokenizer's current parsing state. Ported one-for-one from
// original_source/src/parser/tokenizer/states.rs.
type state int

const (
	stateDocument state = iota
	stateTagOpen
	stateProcessingInstruction
	stateStartClosingTag
	stateTagName
	stateBeforeAttributeName
	stateStartAttributeValue
	stateAttributeValue
	statePassage
)

// stepResult mirrors the original's ProcessResult: either keep stepping,
// or suspend because the buffer ran dry.
type stepResult int

const (
	resultContinue stepResult = iota
	resultSuspend
)

// Tokenizer is the XML state machine. It never waits for input: step returns
// resultSuspend as soon as the buffer is exhausted, so the caller (the
// pipeline's tokenizer goroutine) can push more bytes and resume.
type Tokenizer struct {
	state state
	line  uint64

	buf *charbuf.CharBuffer
	sink *Sink

	tagName        strings.Builder
	tagAttrs       []Attribute
	tagSelfClosing bool
	tagKind        TagKind

	attrName  strings.Builder
	attrValue strings.Builder

	passage strings.Builder

	lastStartTag string
}

// NewTokenizer creates a tokenizer reading from buf and emitting through sink.
func NewTokenizer(buf *charbuf.CharBuffer, sink *Sink) *Tokenizer {
	return &Tokenizer{
		state: stateDocument,
		line:  1,
		buf:   buf,
		sink:  sink,
	}
}

// Feed drains as much of the buffer as is currently available, stepping
// the state machine until it suspends (buffer empty) or the caller
// should push more input.
func (t *Tokenizer) Feed() {
	for {
		switch t.step() {
		case resultContinue:
			continue
		case resultSuspend:
			return
		}
	}
}

// End signals there is no more input; the sink closes its channel.
func (t *Tokenizer) End() {
	t.sink.End()
}

func (t *Tokenizer) discardTag() {
	t.tagName.Reset()
	t.tagAttrs = nil
	t.tagSelfClosing = false
}

func (t *Tokenizer) createTag(kind TagKind, name []byte) {
	t.discardTag()
	t.tagName.Write(name)
	t.tagKind = kind
}

func (t *Tokenizer) emitAttributeName(name []byte) {
	t.attrName.Reset()
	t.attrName.Write(name)
}

func (t *Tokenizer) emitAttributeValue(value []byte) {
	t.attrValue.Write(value)
}

func (t *Tokenizer) finishAttribute() {
	if t.attrName.Len() == 0 {
		return
	}
	t.tagAttrs = append(t.tagAttrs, Attribute{
		Name:  t.attrName.String(),
		Value: t.attrValue.String(),
	})
	t.attrName.Reset()
	t.attrValue.Reset()
}

func (t *Tokenizer) emitPassage(p []byte) {
	t.passage.Write(p)
}

func (t *Tokenizer) emitTagName(name []byte) {
	t.tagName.Reset()
	t.tagName.Write(name)
}

func (t *Tokenizer) setSelfClosing() {
	t.tagSelfClosing = true
}

func (t *Tokenizer) badCharError(c byte) {
	msg := fmt.Sprintf("bad character %q in state %d on line %d", c, t.state, t.line)
	t.sink.processToken(errorToken(msg, t.line))
}

// emitTag finalizes the tag currently being built and sends it to the
// sink, attaching any passage text accumulated since the last tag.
func (t *Tokenizer) emitTag() {
	t.finishAttribute()

	name := t.tagName.String()
	t.tagName.Reset()

	kind := t.tagKind
	switch kind {
	case StartTag:
		t.lastStartTag = name
	case EndTag:
		if len(t.tagAttrs) != 0 {
			t.sink.processToken(errorToken("attributes on an end tag", t.line))
		}
		if t.tagSelfClosing {
			t.sink.processToken(errorToken("self-closing end tag", t.line))
		}
	}

	value := t.passage.String()
	hasValue := value != ""
	t.passage.Reset()

	tag := Tag{
		Kind:        kind,
		Name:        name,
		Attributes:  t.tagAttrs,
		SelfClosing: t.tagSelfClosing,
		Value:       value,
		HasValue:    hasValue,
		Line:        t.line,
	}
	t.tagAttrs = nil
	t.tagSelfClosing = false

	t.sink.processToken(tagToken(tag))
}

// pop drains the buffer against set, counting newlines in whatever comes
// back so Line tracking matches the original's get_preprocessed_char.
func (t *Tokenizer) pop(set charbuf.SmallCharSet) (charbuf.SetResult, bool) {
	r, ok := t.buf.PopFromSet(set)
	if !ok {
		return r, false
	}
	if r.IsMember {
		if r.Member == '\n' {
			t.line++
		}
	} else {
		for _, b := range r.NonMember {
			if b == '\n' {
				t.line++
			}
		}
	}
	return r, true
}

// step runs one iteration of the state machine, exactly mirroring
// original_source/src/parser/tokenizer/mod.rs's Tokenizer::step.
func (t *Tokenizer) step() stepResult {
	switch t.state {

	case stateDocument:
		set := charbuf.NewSmallCharSet('<', ' ', '\n', '\t', '>', 0, '?')
		for {
			r, ok := t.pop(set)
			if !ok {
				return resultSuspend
			}
			switch {
			case r.IsMember && r.Member == '<':
				t.state = stateTagOpen
				return resultContinue
			case r.IsMember && (r.Member == ' ' || r.Member == '\n' || r.Member == '\t'):
				// insignificant whitespace between tags; keep looping
			case r.IsMember && r.Member == '>':
				t.emitTag()
			case r.IsMember && r.Member == 0:
				return resultSuspend
			case r.IsMember && r.Member == '?':
				t.state = stateProcessingInstruction
				return resultContinue
			case !r.IsMember:
				t.emitPassage(r.NonMember)
				t.state = statePassage
				return resultContinue
			}
		}

	case stateTagOpen:
		set := charbuf.NewSmallCharSet('?', '/', '>', ' ')
		for {
			r, ok := t.pop(set)
			if !ok {
				return resultSuspend
			}
			switch {
			case r.IsMember && r.Member == '/':
				t.state = stateStartClosingTag
				return resultContinue
			case r.IsMember && r.Member == '>':
				t.emitTag()
				t.state = stateDocument
				return resultContinue
			case r.IsMember && r.Member == ' ':
				t.state = stateBeforeAttributeName
				return resultContinue
			case r.IsMember && r.Member == '?':
				t.state = stateProcessingInstruction
				return resultContinue
			case !r.IsMember:
				t.createTag(StartTag, r.NonMember)
				// no transition — loop continues testing the same set
			}
		}

	case stateProcessingInstruction:
		set := charbuf.NewSmallCharSet('>', ' ')
		for {
			r, ok := t.pop(set)
			if !ok {
				return resultSuspend
			}
			switch {
			case r.IsMember && r.Member == '>':
				t.emitTag()
				t.state = stateDocument
				return resultContinue
			case r.IsMember && r.Member == ' ':
				t.state = stateBeforeAttributeName
				return resultContinue
			case !r.IsMember:
				t.emitTagName(r.NonMember)
				t.state = stateTagName
				return resultContinue
			}
		}

	case stateStartClosingTag:
		set := charbuf.NewSmallCharSet('>')
		for {
			r, ok := t.pop(set)
			if !ok {
				return resultSuspend
			}
			switch {
			case r.IsMember && r.Member == '>':
				t.setSelfClosing()
				t.emitTag()
				t.state = stateDocument
				return resultContinue
			case !r.IsMember:
				t.createTag(EndTag, r.NonMember)
				t.state = stateDocument
				return resultContinue
			}
		}

	case stateTagName:
		set := charbuf.NewSmallCharSet('/', ' ', '>', '\n', '\t')
		for {
			r, ok := t.pop(set)
			if !ok {
				return resultSuspend
			}
			switch {
			case r.IsMember && r.Member == '/':
				t.tagSelfClosing = true
				// no transition
			case r.IsMember && r.Member == '>':
				t.emitTag()
				t.state = stateDocument
				return resultContinue
			case r.IsMember && (r.Member == ' ' || r.Member == '\n' || r.Member == '\t'):
				t.state = stateBeforeAttributeName
				return resultContinue
			default:
				return resultSuspend
			}
		}

	case stateBeforeAttributeName:
		set := charbuf.NewSmallCharSet('=', '/', '>', '?', ' ')
		for {
			r, ok := t.pop(set)
			if !ok {
				return resultSuspend
			}
			switch {
			case r.IsMember && r.Member == '=':
				t.state = stateStartAttributeValue
				return resultContinue
			case r.IsMember && r.Member == '/':
				t.state = stateStartClosingTag
				return resultContinue
			case r.IsMember && r.Member == '>':
				t.emitTag()
				t.state = stateDocument
				return resultContinue
			case r.IsMember && r.Member == '?':
				t.state = stateProcessingInstruction
				return resultContinue
			case r.IsMember && r.Member == ' ':
				// skip
			case !r.IsMember:
				t.emitAttributeName(r.NonMember)
			}
		}

	case stateStartAttributeValue:
		c, ok := t.buf.Next()
		if !ok {
			return resultSuspend
		}
		if c == '\n' {
			t.line++
		}
		if c == '"' || c == '\'' {
			t.state = stateAttributeValue
			return resultContinue
		}
		t.badCharError(c)
		t.state = stateDocument
		return resultContinue

	case stateAttributeValue:
		set := charbuf.NewSmallCharSet('"', '\'', ' ')
		for {
			r, ok := t.pop(set)
			if !ok {
				return resultSuspend
			}
			switch {
			case r.IsMember && (r.Member == '"' || r.Member == '\''):
				t.finishAttribute()
				t.state = stateBeforeAttributeName
				return resultContinue
			case r.IsMember && r.Member == ' ':
				t.state = stateBeforeAttributeName
				return resultContinue
			case !r.IsMember:
				t.emitAttributeValue(r.NonMember)
			}
		}

	case statePassage:
		set := charbuf.NewSmallCharSet('<')
		r, ok := t.pop(set)
		if !ok {
			return resultSuspend
		}
		if r.IsMember && r.Member == '<' {
			t.state = stateTagOpen
			return resultContinue
		}
		t.emitPassage(r.NonMember)
		return resultContinue
	}

	return resultSuspend
}

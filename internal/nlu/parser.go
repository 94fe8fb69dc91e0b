package nlu

import (
	"encoding/json"
	"fmt"

	"github.com/qpaper/qpe/internal/paper"
	"github.com/qpaper/qpe/internal/qpeerr"
)

// luResponse mirrors the LUIS-shaped JSON schema from spec.md §6:
// {"top_intent": "...", "Entities": [{"entity": "...", "CHILD": [{"value": ...}]}]}
type luResponse struct {
	TopIntent string       `json:"top_intent"`
	Entities  []luEntity   `json:"Entities"`
}

type luEntity struct {
	Entity string      `json:"entity"`
	Child  []luChild   `json:"CHILD"`
}

type luChild struct {
	Value json.RawMessage `json:"value"`
}

// entityClass classifies an entity string per spec.md §6.
type entityClass int

const (
	entityOther entityClass = iota
	entitySection
	entityQuestion
)

func classifyEntity(e string) entityClass {
	switch e {
	case "section_number", "section_ordinal", "typeofnav_section":
		return entitySection
	case "question_number", "typeofnav_question":
		return entityQuestion
	default:
		return entityOther
	}
}

// isReadTopIntent reports whether top_intent resolves to a read, per
// spec.md §6: Navigation and boolean_position_check are reads; the
// boolean_position_check entity shape was never fully specified in
// original_source, so it is resolved identically to Navigation here
// (see DESIGN.md open question 3).
func isReadTopIntent(topIntent string) bool {
	return topIntent == "Navigation" || topIntent == "boolean_position_check"
}

// Parser decodes a raw NLU JSON response into a paper.Intent.
type Parser struct{}

// NewParser constructs a Parser. Stateless — kept as a type for
// symmetry with the teacher's stage types and to leave room for future
// parsing-mode state without changing callers.
func NewParser() *Parser { return &Parser{} }

// Parse decodes raw into a paper.Intent. Ported from original_source's
// IntentParser/LuResponse, completing the entity-to-Reference mapping
// that original_source left stubbed (its parse() always returned a
// fixed Read(Question, Start(1))) — see DESIGN.md for the completed
// design.
func (p *Parser) Parse(raw []byte) (paper.Intent, error) {
	var lu luResponse
	if err := json.Unmarshal(raw, &lu); err != nil {
		return paper.Intent{}, qpeerr.ParsingError()
	}

	for _, e := range lu.Entities {
		if len(e.Child) > 1 {
			return paper.Intent{}, qpeerr.ParsingError()
		}
	}

	if isReadTopIntent(lu.TopIntent) {
		return p.parseRead(lu)
	}
	return p.parseWriteOrMeta(lu)
}

// parseRead builds a single navigation Read from the first section/
// question entity found, defaulting to Read(Question, Start(0)) when
// no navigational entity is present.
func (p *Parser) parseRead(lu luResponse) (paper.Intent, error) {
	seen := 0
	for _, e := range lu.Entities {
		class := classifyEntity(e.Entity)
		if class == entityOther {
			continue
		}
		if len(e.Child) == 0 {
			continue
		}

		ref, err := parseReference(e.Child[0].Value, seen)
		if err != nil {
			return paper.Intent{}, err
		}
		seen++

		kind := paper.ReadQuestion
		if class == entitySection {
			kind = paper.ReadSection
		}

		return paper.Intent{Kind: paper.IntentRead, Read: paper.Read{Kind: kind, Ref: ref}}, nil
	}

	return paper.Intent{Kind: paper.IntentRead, Read: paper.Read{Kind: paper.ReadQuestion, Ref: paper.StartRef(0)}}, nil
}

// parseWriteOrMeta builds a Write batch or a Meta request. The "marked"/
// "skipped" entities select a Meta summary; otherwise the result
// is a Write — a Skip when a "skip" entity comes before any "mark"
// entity, else a Mark (also when neither appears, whatever the
// top_intent) — whose operands are every section/question entity in
// the response.
//
// spec.md §6's entity vocabulary has no "note" entity, so this parser
// never produces a WriteNote intent — notes are reachable only through
// paper.Intent built directly by a caller other than the NLU path (see
// DESIGN.md).
func (p *Parser) parseWriteOrMeta(lu luResponse) (paper.Intent, error) {
	for _, e := range lu.Entities {
		switch e.Entity {
		case "marked":
			return paper.Intent{Kind: paper.IntentMeta, Meta: paper.MetaMarked}, nil
		case "skipped":
			return paper.Intent{Kind: paper.IntentMeta, Meta: paper.MetaSkipped}, nil
		}
	}

	writeKind := paper.WriteMark
	for _, e := range lu.Entities {
		if e.Entity == "skip" {
			writeKind = paper.WriteSkip
			break
		}
		if e.Entity == "mark" {
			writeKind = paper.WriteMark
			break
		}
	}

	var reads []paper.Read
	seen := 0
	for _, e := range lu.Entities {
		class := classifyEntity(e.Entity)
		if class == entityOther || len(e.Child) == 0 {
			continue
		}

		ref, err := parseReference(e.Child[0].Value, seen)
		if err != nil {
			return paper.Intent{}, err
		}
		seen++

		kind := paper.ReadQuestion
		if class == entitySection {
			kind = paper.ReadSection
		}
		reads = append(reads, paper.Read{Kind: kind, Ref: ref})
	}

	if len(reads) == 0 {
		reads = []paper.Read{{Kind: paper.ReadQuestion, Ref: paper.CurrentRef(0)}}
	}

	return paper.Intent{Kind: paper.IntentWrite, Write: paper.Write{Kind: writeKind, Reads: reads}}, nil
}

// parseReference decodes one CHILD[0].value into a paper.Reference.
// value is either a bare JSON number/string (an integer offset, origin
// implicit Start — or Current if this is not the first navigational
// entity in the response, matching original_source's EntityChild::
// get_reference(prev)) or an object {offset, relativeTo}.
func parseReference(raw json.RawMessage, seen int) (paper.Reference, error) {
	var obj struct {
		Offset     int    `json:"offset"`
		RelativeTo string `json:"relativeTo"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.RelativeTo != "" {
		switch obj.RelativeTo {
		case "start":
			return paper.StartRef(obj.Offset), nil
		case "current":
			return paper.CurrentRef(obj.Offset), nil
		case "end":
			return paper.EndRef(obj.Offset), nil
		default:
			return paper.Reference{}, qpeerr.ParsingError()
		}
	}

	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err2 := json.Unmarshal(raw, &s); err2 != nil {
			return paper.Reference{}, qpeerr.ParsingError()
		}
		if _, err3 := fmt.Sscanf(s, "%d", &n); err3 != nil {
			return paper.Reference{}, qpeerr.ParsingError()
		}
	}

	if seen > 0 {
		return paper.CurrentRef(n), nil
	}
	return paper.StartRef(n), nil
}

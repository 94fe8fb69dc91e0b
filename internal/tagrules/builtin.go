package tagrules

// builtinRules returns the fixed tag vocabulary, ported from
// original_source's Tag::is_* regex classifiers (interface.rs). Order
// matters only in that a more specific rule must precede a more general
// one that would otherwise also match — none of the vocabulary's names
// overlap, so ordering is not load-bearing here the way it is for the
// teacher's guardrail rules.
func builtinRules() []Rule {
	return []Rule{
		{Name: "xml_declaration", Class: ClassXML, Match: Match{Equals: "xml"}, Builtin: true},
		{Name: "root_element", Class: ClassRoot, Match: Match{Equals: "root"}, Builtin: true},
		{Name: "instructions_block", Class: ClassInstructions, Match: Match{Equals: "instructions"}, Builtin: true},
		{Name: "meta_data_block", Class: ClassMeta, Match: Match{Equals: "meta_data"}, Builtin: true},
		{Name: "section_block", Class: ClassSection, Match: Match{Glob: "SECTION_*"}, Builtin: true},
		{Name: "section_number_field", Class: ClassSectionName, Match: Match{Equals: "section_number"}, Builtin: true},
		{Name: "question_number_field", Class: ClassQuestionNum, Match: Match{Equals: "question_number"}, Builtin: true},
		{Name: "page_marker", Class: ClassPage, Match: Match{Regex: `^page_\d$`}, Builtin: true},
		{Name: "item_block", Class: ClassItem, Match: Match{Equals: "item"}, Builtin: true},
		{Name: "question_field", Class: ClassQuestion, Match: Match{Equals: "question"}, Builtin: true},
	}
}

// defaultBuiltinToggles enables every built-in rule by default. An
// operator can disable one in tagrules.yaml the same way the teacher
// toggles built-in guardrail rules, e.g. to stop treating "question" as
// the question-text tag if a paper vendor renames it.
func defaultBuiltinToggles() map[string]bool {
	toggles := make(map[string]bool)
	for _, r := range builtinRules() {
		toggles[r.Name] = true
	}
	return toggles
}

package charbuf

// SetResult is the outcome of a PopFromSet call: either a single byte that
// was a member of the tested set, or a run of bytes that were not.
type SetResult struct {
	IsMember  bool
	Member    byte
	NonMember []byte
}

// CharBuffer is a chunk-appendable FIFO of bytes. PushBack accepts new
// chunks as they arrive from an upload; the tokenizer drains from the
// front via Next and PopFromSet. Ported from the original's XmlContent,
// operating on bytes instead of runes — safe here because every member of
// every SmallCharSet ever tested is plain ASCII (< 64), so a multi-byte
// UTF-8 rune is never mistaken for a member and is always returned intact
// as part of a NonMember run.
type CharBuffer struct {
	data   []byte
	offset int
}

// NewCharBuffer returns an empty buffer.
func NewCharBuffer() *CharBuffer {
	return &CharBuffer{}
}

// PushBack appends a chunk of newly received bytes.
func (b *CharBuffer) PushBack(chunk []byte) {
	b.data = append(b.data, chunk...)
}

// IsEmpty reports whether there is nothing left to read.
func (b *CharBuffer) IsEmpty() bool {
	return b.offset >= len(b.data)
}

// Next pops a single byte off the front of the buffer.
func (b *CharBuffer) Next() (byte, bool) {
	if b.IsEmpty() {
		return 0, false
	}
	c := b.data[b.offset]
	b.offset++
	b.compact()
	return c, true
}

// PopFromSet drains either the next byte, if it's a member of set, or the
// longest run of leading bytes that are not members. Returns false if the
// buffer is currently empty (the tokenizer interprets that as a need to
// suspend until more input arrives).
func (b *CharBuffer) PopFromSet(set SmallCharSet) (SetResult, bool) {
	if b.IsEmpty() {
		return SetResult{}, false
	}

	rest := b.data[b.offset:]
	if set.Contains(rest[0]) {
		b.offset++
		b.compact()
		return SetResult{IsMember: true, Member: rest[0]}, true
	}

	n := set.NonMemberPrefixLen(rest)
	run := make([]byte, n)
	copy(run, rest[:n])
	b.offset += n
	b.compact()
	return SetResult{NonMember: run}, true
}

// compact reclaims the consumed prefix once it grows large relative to
// the remaining data, so a long-running upload doesn't retain every byte
// it has ever seen.
func (b *CharBuffer) compact() {
	if b.offset > 4096 && b.offset*2 > len(b.data) {
		remaining := len(b.data) - b.offset
		copy(b.data, b.data[b.offset:])
		b.data = b.data[:remaining]
		b.offset = 0
	}
}

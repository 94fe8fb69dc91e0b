package charbuf

import "testing"

func TestSmallCharSetContains(t *testing.T) {
	set := NewSmallCharSet('<', '>', ' ')

	if !set.Contains('<') || !set.Contains('>') || !set.Contains(' ') {
		t.Fatal("expected all pushed bytes to be members")
	}
	if set.Contains('a') {
		t.Fatal("'a' should not be a member")
	}
	if set.Contains(200) {
		t.Fatal("bytes >= 64 are never members")
	}
}

func TestSmallCharSetIgnoresBytesAbove63(t *testing.T) {
	set := NewSmallCharSet(200, '<')
	if set.Contains(200) {
		t.Fatal("byte 200 should have been silently dropped")
	}
	if !set.Contains('<') {
		t.Fatal("'<' should still be a member")
	}
}

func TestNonMemberPrefixLen(t *testing.T) {
	set := NewSmallCharSet('<')

	if n := set.NonMemberPrefixLen([]byte("<abc")); n != 0 {
		t.Fatalf("prefix len = %d, want 0 (data[0] is a member)", n)
	}
	if n := set.NonMemberPrefixLen([]byte("abc<def")); n != 3 {
		t.Fatalf("prefix len = %d, want 3", n)
	}
	if n := set.NonMemberPrefixLen([]byte("abcdef")); n != 6 {
		t.Fatalf("prefix len = %d, want 6 (no member anywhere)", n)
	}
}

func TestCharBufferNextDrainsInOrder(t *testing.T) {
	b := NewCharBuffer()
	if !b.IsEmpty() {
		t.Fatal("a new buffer should be empty")
	}

	b.PushBack([]byte("ab"))
	b.PushBack([]byte("cd"))

	for _, want := range []byte("abcd") {
		got, ok := b.Next()
		if !ok || got != want {
			t.Fatalf("Next() = (%q, %v), want (%q, true)", got, ok, want)
		}
	}

	if !b.IsEmpty() {
		t.Fatal("buffer should be empty after draining every pushed byte")
	}
	if _, ok := b.Next(); ok {
		t.Fatal("Next() on an empty buffer should report false")
	}
}

func TestCharBufferPopFromSetSuspendsWhenEmpty(t *testing.T) {
	b := NewCharBuffer()
	set := NewSmallCharSet('<')

	if _, ok := b.PopFromSet(set); ok {
		t.Fatal("PopFromSet on an empty buffer should report false (suspend)")
	}
}

func TestCharBufferPopFromSetMemberAndRun(t *testing.T) {
	b := NewCharBuffer()
	set := NewSmallCharSet('<', '>')

	b.PushBack([]byte("<text>"))

	r, ok := b.PopFromSet(set)
	if !ok || !r.IsMember || r.Member != '<' {
		t.Fatalf("first PopFromSet = %+v, ok=%v, want member '<'", r, ok)
	}

	r, ok = b.PopFromSet(set)
	if !ok || r.IsMember || string(r.NonMember) != "text" {
		t.Fatalf("second PopFromSet = %+v, ok=%v, want non-member run \"text\"", r, ok)
	}

	r, ok = b.PopFromSet(set)
	if !ok || !r.IsMember || r.Member != '>' {
		t.Fatalf("third PopFromSet = %+v, ok=%v, want member '>'", r, ok)
	}
}

func TestCharBufferPopFromSetRunToEndOfBuffer(t *testing.T) {
	b := NewCharBuffer()
	set := NewSmallCharSet('<')

	b.PushBack([]byte("plain text"))

	r, ok := b.PopFromSet(set)
	if !ok || r.IsMember || string(r.NonMember) != "plain text" {
		t.Fatalf("PopFromSet = %+v, ok=%v, want the whole buffer as a non-member run", r, ok)
	}
}

func TestCharBufferAcrossMultipleChunks(t *testing.T) {
	b := NewCharBuffer()
	set := NewSmallCharSet('<', '>')

	b.PushBack([]byte("<a"))
	b.PushBack([]byte("b>"))

	r, _ := b.PopFromSet(set)
	if !r.IsMember || r.Member != '<' {
		t.Fatalf("expected leading '<' across chunk boundary, got %+v", r)
	}
	r, _ = b.PopFromSet(set)
	if r.IsMember || string(r.NonMember) != "ab" {
		t.Fatalf("expected \"ab\" spanning both chunks, got %+v", r)
	}
	r, _ = b.PopFromSet(set)
	if !r.IsMember || r.Member != '>' {
		t.Fatalf("expected trailing '>', got %+v", r)
	}
}

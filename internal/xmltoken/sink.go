package xmltoken

import "sync"

// Sink is the tokenizer's token consumer: it forwards tag tokens through
// a channel to whatever goroutine is building the document tree, while
// recording parse errors locally for later inspection. Ported from
// original_source's parser::sink::Sink, which held a mpsc Sender<Tag> —
// here the channel plays the same role between two goroutines.
type Sink struct {
	tags chan<- Tag

	mu     sync.Mutex
	errors []string
}

// NewSink returns a Sink that forwards tags onto ch. The caller owns ch
// and is responsible for creating it; Sink closes it only in End,
// called once tokenizing is done.
func NewSink(ch chan<- Tag) *Sink {
	return &Sink{tags: ch}
}

// processToken handles one token from the tokenizer: a tag is forwarded
// down the channel, a parse error is recorded.
func (s *Sink) processToken(tok Token) {
	if tok.Tag != nil {
		s.tags <- *tok.Tag
		return
	}
	s.parseError(tok.Err)
}

// parseError records a non-fatal tokenizer error. Tokenizing continues.
func (s *Sink) parseError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, msg)
}

// Errors returns the parse errors accumulated so far.
func (s *Sink) Errors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.errors))
	copy(out, s.errors)
	return out
}

// End signals that no more tags will be produced and closes the channel.
func (s *Sink) End() {
	close(s.tags)
}

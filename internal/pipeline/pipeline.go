// Package pipeline wires the tokenizer and the document builder together:
// one goroutine feeds bytes into the tokenizer and drains tags onto a
// channel, another goroutine consumes that channel and builds the
// document tree. Grounded on the teacher's proxy request-handling
// goroutines and on original_source's two-thread tokenizer/builder split
// (a std::sync::mpsc channel there, a Go channel here).
package pipeline

import (
	"io"

	"github.com/qpaper/qpe/internal/charbuf"
	"github.com/qpaper/qpe/internal/paper"
	"github.com/qpaper/qpe/internal/tagrules"
	"github.com/qpaper/qpe/internal/xmltoken"
)

// chunkSize bounds how much is read from the source per iteration, so a
// very large upload doesn't have to be buffered in memory all at once
// before tokenizing starts.
const chunkSize = 64 * 1024

// Result is what Run returns once both goroutines have finished.
type Result struct {
	Paper        *paper.QuestionPaper
	Instructions []string
	ParseErrors  []string
	BuildErrors  []string
	BytesRead    int64
}

// Run reads r to completion, tokenizes it, and builds a QuestionPaper
// using the default tag classifier. See RunWithClassifier to supply the
// engine's hot-reloadable tagrules.Classifier instead.
func Run(r io.Reader) (Result, error) {
	return RunWithClassifier(r, tagrules.Default())
}

// RunWithClassifier is Run with an explicit tagrules.Classifier, so a
// running engine can classify tags per its own tagrules.yaml instead of
// the built-in rules.
//
// The tokenizer and the builder run on separate goroutines connected by
// a buffered channel of xmltoken.Tag; ownership of each Tag moves with
// the send, so neither side needs further synchronization on it.
func RunWithClassifier(r io.Reader, classifier *tagrules.Classifier) (Result, error) {
	tagCh := make(chan xmltoken.Tag, 256)
	sink := xmltoken.NewSink(tagCh)
	buf := charbuf.NewCharBuffer()
	tok := xmltoken.NewTokenizer(buf, sink)

	builderDone := make(chan struct {
		p            *paper.QuestionPaper
		instructions []string
		errs         []string
	}, 1)

	go func() {
		b := paper.NewBuilderWithClassifier(classifier)
		for tag := range tagCh {
			b.ProcessTag(tag)
		}
		p, instructions, errs := b.End()
		builderDone <- struct {
			p            *paper.QuestionPaper
			instructions []string
			errs         []string
		}{p, instructions, errs}
	}()

	var total int64
	readBuf := make([]byte, chunkSize)
	var readErr error
	for {
		n, err := r.Read(readBuf)
		if n > 0 {
			total += int64(n)
			chunk := make([]byte, n)
			copy(chunk, readBuf[:n])
			buf.PushBack(chunk)
			tok.Feed()
		}
		if err != nil {
			if err != io.EOF {
				readErr = err
			}
			break
		}
	}
	tok.End()

	built := <-builderDone

	if readErr != nil {
		return Result{}, readErr
	}

	return Result{
		Paper:        built.p,
		Instructions: built.instructions,
		ParseErrors:  sink.Errors(),
		BuildErrors:  built.errs,
		BytesRead:    total,
	}, nil
}

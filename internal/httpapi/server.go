// Package httpapi implements the engine's HTTP surface: uploading a
// question-paper XML file and resolving natural-language utterances
// against it. Grounded on the teacher's internal/proxy.Proxy — same
// shape (an Options struct of injected dependencies, a top-level
// ServeHTTP-style handler, audit logging + dashboard broadcast after
// every request) retargeted from tool-call guardrailing to intent
// resolution.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qpaper/qpe/internal/audit"
	"github.com/qpaper/qpe/internal/nlu"
	"github.com/qpaper/qpe/internal/paper"
	"github.com/qpaper/qpe/internal/pipeline"
	"github.com/qpaper/qpe/internal/qpeerr"
	"github.com/qpaper/qpe/internal/requester"
	"github.com/qpaper/qpe/internal/tagrules"
)

const maxUploadBytes = 32 * 1024 * 1024

// Options holds the dependencies injected into the Server at creation.
type Options struct {
	AuditLog   *audit.Log
	Registry   *requester.Registry
	BlockList  *requester.BlockList
	NLUClient  *nlu.Client
	Parser     *nlu.Parser
	Classifier *tagrules.Classifier

	// OnAuditEvent is called after each audit entry is logged, letting
	// the dashboard broadcast it to WebSocket clients in real time.
	// Optional — nil means no broadcast.
	OnAuditEvent func(audit.Entry)
}

// Server is the HTTP handler for /upload and /{text}. A single
// *paper.QuestionPaper lives behind mu — nil until the first successful
// upload.
type Server struct {
	auditLog   *audit.Log
	registry   *requester.Registry
	blockList  *requester.BlockList
	nluClient  *nlu.Client
	parser     *nlu.Parser
	classifier *tagrules.Classifier
	onAudit    func(audit.Entry)

	mu    sync.RWMutex
	doc   *paper.QuestionPaper
}

// New creates a Server with the given dependencies.
func New(opts Options) *Server {
	classifier := opts.Classifier
	if classifier == nil {
		classifier = tagrules.Default()
	}
	return &Server{
		auditLog:   opts.AuditLog,
		registry:   opts.Registry,
		blockList:  opts.BlockList,
		nluClient:  opts.NLUClient,
		parser:     opts.Parser,
		classifier: classifier,
		onAudit:    opts.OnAuditEvent,
	}
}

func (s *Server) broadcast(e audit.Entry) {
	if s.onAudit != nil {
		s.onAudit(e)
	}
}

// requesterID identifies the caller by the X-Requester-Id header if
// present, otherwise by remote address (see the surrounding-components
// table in SPEC_FULL.md's System Overview).
func requesterID(r *http.Request) string {
	if id := r.Header.Get("X-Requester-Id"); id != "" {
		return id
	}
	return r.RemoteAddr
}

// HandleUpload drives the tokenizer/builder pipeline over the request
// body and stores the resulting paper as the shared document.
// POST /upload
func (s *Server) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	requestID := uuid.NewString()
	w.Header().Set("X-Request-Id", requestID)

	body := http.MaxBytesReader(w, r.Body, maxUploadBytes)
	defer r.Body.Close()

	var reader io.Reader = body

	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			s.writeError(w, qpeerr.InvalidInput(err.Error()))
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			s.writeError(w, qpeerr.InvalidInput("missing \"file\" form field"))
			return
		}
		defer file.Close()
		reader = file
	}

	result, err := pipeline.RunWithClassifier(reader, s.classifier)
	if err != nil {
		s.writeError(w, qpeerr.InternalError(err.Error()))
		return
	}

	s.mu.Lock()
	s.doc = result.Paper
	s.mu.Unlock()

	s.auditLog.LogLifecycle("upload", fmt.Sprintf("request=%s uploaded %d bytes", requestID, result.BytesRead))

	writeJSON(w, http.StatusOK, map[string]any{
		"bytes_uploaded": result.BytesRead,
		"instructions":   result.Instructions,
		"parse_errors":   result.ParseErrors,
		"build_errors":   result.BuildErrors,
	})
}

// HandleUtterance resolves one natural-language utterance against the
// shared paper. GET /{text}
func (s *Server) HandleUtterance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	id := requesterID(r)
	text := strings.TrimPrefix(r.URL.Path, "/")

	requestID := uuid.NewString()
	w.Header().Set("X-Request-Id", requestID)

	if s.blockList.IsBlocked(id) {
		slog.Warn("rejected utterance from blocked requester", "requester", id, "request_id", requestID)
		http.Error(w, `{"error": "requester blocked"}`, http.StatusForbidden)
		return
	}

	s.mu.RLock()
	doc := s.doc
	s.mu.RUnlock()

	if doc == nil {
		s.logAndWriteError(w, id, text, qpeerr.InternalError("no paper uploaded"), start)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	raw, err := s.nluClient.Resolve(ctx, text)
	if err != nil {
		s.logAndWriteError(w, id, text, err, start)
		return
	}

	intent, err := s.parser.Parse(raw)
	if err != nil {
		s.logAndWriteError(w, id, text, err, start)
		return
	}

	s.mu.Lock()
	result := doc.ResolveIntent(intent)
	s.mu.Unlock()

	latencyUs := time.Since(start).Microseconds()
	decision, message, nodeIndex := summarizeResult(result)

	s.registry.Touch(id, decision)
	s.auditLog.LogIntent(id, intentKindLabel(intent.Kind), operationLabel(intent), intent, nodeIndex, decision, message, latencyUs)
	s.broadcast(audit.Entry{Requester: id, Type: intentKindLabel(intent.Kind), Operation: operationLabel(intent), Decision: decision, Message: message, NodeIndex: nodeIndex})

	writeJSON(w, http.StatusOK, toJSON(result))
}

func (s *Server) logAndWriteError(w http.ResponseWriter, id, text string, err error, start time.Time) {
	latencyUs := time.Since(start).Microseconds()
	s.auditLog.LogIntent(id, "error", "utterance", text, -1, "error", err.Error(), latencyUs)
	s.broadcast(audit.Entry{Requester: id, Type: "error", Operation: "utterance", Decision: "error", Message: err.Error(), NodeIndex: -1})
	s.writeError(w, err)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	qe, ok := err.(*qpeerr.Error)
	if !ok {
		qe = qpeerr.InternalError(err.Error())
	}
	writeJSON(w, qe.HTTPStatus(), qe.Body())
}

func intentKindLabel(k paper.IntentKind) string {
	switch k {
	case paper.IntentRead:
		return "read"
	case paper.IntentWrite:
		return "write"
	case paper.IntentMeta:
		return "meta"
	default:
		return "unknown"
	}
}

func operationLabel(intent paper.Intent) string {
	switch intent.Kind {
	case paper.IntentRead:
		if intent.Read.Kind == paper.ReadSection {
			return "section"
		}
		return "question"
	case paper.IntentWrite:
		switch intent.Write.Kind {
		case paper.WriteMark:
			return "mark"
		case paper.WriteSkip:
			return "skip"
		case paper.WriteNote:
			return "note"
		}
	case paper.IntentMeta:
		if intent.Meta == paper.MetaMarked {
			return "marked_count"
		}
		return "skipped_count"
	}
	return ""
}

func summarizeResult(r paper.IntentResult) (decision, message string, nodeIndex int) {
	switch r.Kind {
	case paper.ResultRead:
		if r.Read.Err != nil {
			return "error", r.Read.Err.Error(), -1
		}
		return "ok", "", r.Read.Node.Index
	case paper.ResultWrite:
		if r.Write.Err != nil {
			return "error", r.Write.Err.Error(), -1
		}
		return "ok", r.Write.Message, -1
	case paper.ResultMeta:
		return "ok", r.Meta, -1
	}
	return "error", "unresolved intent", -1
}

func toJSON(r paper.IntentResult) map[string]any {
	switch r.Kind {
	case paper.ResultRead:
		if r.Read.Err != nil {
			return map[string]any{"kind": "read", "error": r.Read.Err.Error()}
		}
		return map[string]any{"kind": "read", "node_index": r.Read.Node.Index, "node": r.Read.Node.Data}
	case paper.ResultWrite:
		if r.Write.Err != nil {
			return map[string]any{"kind": "write", "error": r.Write.Err.Error()}
		}
		return map[string]any{"kind": "write", "message": r.Write.Message}
	case paper.ResultMeta:
		return map[string]any{"kind": "meta", "message": r.Meta}
	default:
		return map[string]any{"kind": "unknown"}
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}

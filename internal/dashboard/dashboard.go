// Package dashboard serves the qpe web UI and REST API.
//
// The dashboard is mounted on /dashboard and /api/ on the same port as
// the engine's HTTP API. It provides:
//
//   - Web UI:     GET /dashboard          — Single-page HTML dashboard
//   - WebSocket:  GET /dashboard/ws       — Live feed of resolved intents
//   - REST API:   GET /api/status         — Engine status
//                 GET /api/requesters     — Requester list with counters
//                 GET /api/audit          — Recent audit entries
//                 POST /api/block         — Block a requester
//                 POST /api/unblock       — Unblock a requester
//
// The web UI is a minimal embedded HTML page (no build step, no framework).
package dashboard

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/qpaper/qpe/internal/audit"
	"github.com/qpaper/qpe/internal/requester"
)

// Options holds the dependencies injected into the dashboard.
type Options struct {
	AuditLog  *audit.Log
	Registry  *requester.Registry
	BlockList *requester.BlockList
}

// Dashboard serves the web UI and REST API.
type Dashboard struct {
	auditLog  *audit.Log
	registry  *requester.Registry
	blockList *requester.BlockList
	wsHub     *wsHub
}

// New creates a new Dashboard with the given dependencies.
func New(opts Options) *Dashboard {
	d := &Dashboard{
		auditLog:  opts.AuditLog,
		registry:  opts.Registry,
		blockList: opts.BlockList,
		wsHub:     newWSHub(),
	}

	go d.wsHub.run()

	return d
}

// ServeHTTP handles requests to /dashboard and /dashboard/.
func (d *Dashboard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(dashboardHTML))
}

// WebSocketHandler returns an http.Handler for the /dashboard/ws endpoint.
// Clients connect here to receive a real-time feed of resolved intents.
func (d *Dashboard) WebSocketHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.handleWebSocket(w, r)
	})
}

// APIHandler returns an http.Handler for the /api/ REST endpoints.
func (d *Dashboard) APIHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", d.handleAPIStatus)
	mux.HandleFunc("/api/requesters", d.handleAPIRequesters)
	mux.HandleFunc("/api/audit", d.handleAPIAudit)
	mux.HandleFunc("/api/block", d.handleAPIBlock)
	mux.HandleFunc("/api/unblock", d.handleAPIUnblock)

	return mux
}

// BroadcastEvent sends a resolved-intent audit event to all connected
// WebSocket clients whose requester filter admits it (see wsConn). Non-blocking —
// if no clients are connected, the event is dropped.
func (d *Dashboard) BroadcastEvent(e audit.Entry) {
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("failed to marshal broadcast event", "error", err)
		return
	}
	d.wsHub.broadcast(data, e.Requester)
}

// --- REST API Handlers ---

// handleAPIStatus returns engine status information.
// GET /api/status
func (d *Dashboard) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	status := map[string]any{
		"status":      "running",
		"requesters":  len(d.registry.List()),
	}

	writeJSON(w, http.StatusOK, status)
}

// handleAPIRequesters returns the list of all tracked requesters with
// their utterance counters.
// GET /api/requesters
func (d *Dashboard) handleAPIRequesters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	requesters := d.registry.List()
	writeJSON(w, http.StatusOK, requesters)
}

// handleAPIAudit returns recent audit entries.
// GET /api/audit?limit=50&requester=r1&decision=error
func (d *Dashboard) handleAPIAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	params := audit.QueryParams{
		Requester: r.URL.Query().Get("requester"),
		Decision:  r.URL.Query().Get("decision"),
		Limit:     limit,
	}

	entries, err := d.auditLog.Query(params)
	if err != nil {
		slog.Error("audit query failed", "error", err)
		http.Error(w, "audit query failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

// handleAPIBlock blocks a requester via the REST API.
// POST /api/block  { "requester": "r1", "reason": "spamming" }
func (d *Dashboard) handleAPIBlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Requester string `json:"requester"`
		Reason    string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	if req.Requester == "" {
		http.Error(w, "requester field required", http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		req.Reason = "blocked via dashboard API"
	}

	if err := d.blockList.Block(req.Requester, req.Reason, "dashboard"); err != nil {
		slog.Error("block via API failed", "requester", req.Requester, "error", err)
		http.Error(w, "block failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "blocked", "requester": req.Requester})
}

// handleAPIUnblock unblocks a requester via the REST API.
// POST /api/unblock  { "requester": "r1" }
func (d *Dashboard) handleAPIUnblock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Requester string `json:"requester"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	if req.Requester == "" {
		http.Error(w, "requester field required", http.StatusBadRequest)
		return
	}

	if err := d.blockList.Unblock(req.Requester); err != nil {
		slog.Error("unblock via API failed", "requester", req.Requester, "error", err)
		http.Error(w, "unblock failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "unblocked", "requester": req.Requester})
}

// --- Helpers ---

// writeJSON sends a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}

// dashboardHTML is the embedded HTML for the qpe dashboard. Minimal
// single-page UI showing requester counters, the block-list, and a
// live feed of resolved intents. Refreshes via periodic fetch + WebSocket.
const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>qpe Dashboard</title>
<style>
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
         background: #0f1117; color: #e1e4e8; padding: 24px; }
  h1 { font-size: 24px; margin-bottom: 8px; }
  .subtitle { color: #8b949e; margin-bottom: 24px; }
  .grid { display: grid; grid-template-columns: 1fr 1fr; gap: 16px; margin-bottom: 24px; }
  .card { background: #161b22; border: 1px solid #30363d; border-radius: 8px; padding: 16px; }
  .card h2 { font-size: 14px; color: #8b949e; text-transform: uppercase; margin-bottom: 12px; }
  table { width: 100%; border-collapse: collapse; font-size: 13px; }
  th { text-align: left; color: #8b949e; padding: 6px 8px; border-bottom: 1px solid #30363d; }
  td { padding: 6px 8px; border-bottom: 1px solid #21262d; }
  .decision-error { color: #f85149; font-weight: bold; }
  .decision-ok { color: #3fb950; }
  .decision-info { color: #58a6ff; }
  #live-feed { max-height: 300px; overflow-y: auto; font-family: monospace; font-size: 12px; }
  .feed-entry { padding: 4px 0; border-bottom: 1px solid #21262d; }
  .btn { background: #21262d; border: 1px solid #30363d; color: #e1e4e8;
         padding: 4px 12px; border-radius: 4px; cursor: pointer; font-size: 12px; }
  .btn:hover { background: #30363d; }
  .btn-danger { border-color: #f85149; color: #f85149; }
  .btn-success { border-color: #3fb950; color: #3fb950; }
</style>
</head>
<body>
<h1>qpe Dashboard</h1>
<p class="subtitle">Interactive question-paper engine</p>

<div class="grid">
  <div class="card">
    <h2>Requesters</h2>
    <table>
      <thead><tr><th>ID</th><th>Utterances</th><th>Last Decision</th><th>Action</th></tr></thead>
      <tbody id="requesters-tbody"><tr><td colspan="4">Loading...</td></tr></tbody>
    </table>
  </div>
  <div class="card">
    <h2>Status</h2>
    <table>
      <tbody id="status-tbody"><tr><td>Loading...</td></tr></tbody>
    </table>
  </div>
</div>

<div class="card">
  <h2>Live Intent Feed</h2>
  <div id="live-feed"><div class="feed-entry">Connecting...</div></div>
</div>

<script>
function esc(s) {
  if (s == null) return '';
  return String(s).replace(/&/g,'&amp;').replace(/</g,'&lt;').replace(/>/g,'&gt;').replace(/"/g,'&quot;').replace(/'/g,'&#39;');
}
async function refresh() {
  try {
    const [reqRes, statusRes, auditRes] = await Promise.all([
      fetch('/api/requesters'), fetch('/api/status'), fetch('/api/audit?limit=20')
    ]);
    renderRequesters(await reqRes.json());
    renderStatus(await statusRes.json());
    renderAudit(await auditRes.json());
  } catch(e) { console.error('refresh failed:', e); }
}

function renderRequesters(requesters) {
  const tbody = document.getElementById('requesters-tbody');
  if (!requesters || requesters.length === 0) { tbody.innerHTML = '<tr><td colspan="4">No requesters yet</td></tr>'; return; }
  tbody.innerHTML = requesters.map(r => {
    const id = esc(r.id);
    return '<tr><td>' + id + '</td><td>' + (r.utterance_count||0) +
      '</td><td>' + esc(r.last_decision) + '</td><td>' +
      '<button class="btn btn-danger" onclick="blockRequester(\'' + id + '\')">Block</button> ' +
      '<button class="btn btn-success" onclick="unblockRequester(\'' + id + '\')">Unblock</button></td></tr>';
  }).join('');
}

function renderStatus(status) {
  const tbody = document.getElementById('status-tbody');
  if (!status) { return; }
  tbody.innerHTML = Object.keys(status).map(k =>
    '<tr><td>' + esc(k) + '</td><td>' + esc(status[k]) + '</td></tr>'
  ).join('');
}

function renderAudit(entries) {
  const feed = document.getElementById('live-feed');
  if (!entries || entries.length === 0) { feed.innerHTML = '<div class="feed-entry">No entries yet</div>'; return; }
  feed.innerHTML = entries.map(formatEntry).join('');
}

function formatEntry(e) {
  const cls = e.decision === 'error' ? 'decision-error' : e.decision === 'ok' ? 'decision-ok' : 'decision-info';
  return '<div class="feed-entry">[' + esc(e.ts) + '] requester=' + esc(e.requester||'-') +
    ' op=' + esc(e.operation||e.type||'-') + ' <span class="' + cls + '">' + esc(e.decision) + '</span>' +
    (e.message ? ' — ' + esc(e.message) : '') + '</div>';
}

async function blockRequester(id) {
  await fetch('/api/block', { method: 'POST', headers: {'Content-Type':'application/json'},
    body: JSON.stringify({requester: id, reason: 'blocked via dashboard'}) });
  refresh();
}

async function unblockRequester(id) {
  await fetch('/api/unblock', { method: 'POST', headers: {'Content-Type':'application/json'},
    body: JSON.stringify({requester: id}) });
  refresh();
}

function connectWS() {
  const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
  const ws = new WebSocket(proto + '//' + location.host + '/dashboard/ws');
  ws.onmessage = function(e) {
    try {
      const entry = JSON.parse(e.data);
      const feed = document.getElementById('live-feed');
      const div = document.createElement('div');
      div.className = 'feed-entry';
      div.innerHTML = formatEntry(entry).replace(/^<div class="feed-entry">|<\/div>$/g, '');
      feed.insertBefore(div, feed.firstChild);
      while (feed.children.length > 100) feed.removeChild(feed.lastChild);
    } catch(err) { console.error('ws parse error:', err); }
  };
  ws.onclose = function() { setTimeout(connectWS, 3000); };
  ws.onerror = function() { ws.close(); };
}

refresh();
setInterval(refresh, 5000);
connectWS();
</script>
</body>
</html>`

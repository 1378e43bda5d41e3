// Package testutil provides an in-memory fake of the upstream Bitable API
// for integration tests and the local fixture server. It speaks the same
// wire shapes the real service does: token grants, paged record listings,
// field schemas, and media downloads.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Upstream API paths, shared with the real client.
const (
	TokenPath   = "/open-apis/auth/v3/tenant_access_token/internal"
	recordsPath = "/open-apis/bitable/v1/apps/"
	mediaPath   = "/open-apis/drive/v1/medias/"
)

// FakeUpstream is an in-memory Bitable table plus its media library. All
// methods are safe for concurrent use.
type FakeUpstream struct {
	mu      sync.Mutex
	order   []string
	records map[string]map[string]any
	fields  []map[string]any
	media   map[string][]byte

	authCalls   int
	recordCalls int
	mediaCalls  int

	failAuth    bool
	recordsCode int
	tokenSeq    int
}

// NewFakeUpstream creates an empty table with the default product schema.
func NewFakeUpstream() *FakeUpstream {
	return &FakeUpstream{
		records: make(map[string]map[string]any),
		media:   make(map[string][]byte),
		fields: []map[string]any{
			{"field_id": "fld001", "field_name": "产品名称", "type": 1, "is_primary": true},
			{"field_id": "fld002", "field_name": "正常售价", "type": 2},
			{"field_id": "fld003", "field_name": "优惠售价", "type": 2},
			{"field_id": "fld004", "field_name": "采集时间", "type": 5},
			{"field_id": "fld005", "field_name": "正面图片", "type": 17},
			{"field_id": "fld006", "field_name": "背面图片", "type": 17},
		},
	}
}

// PutRecord inserts or replaces a row. Rows list in insertion order.
func (f *FakeUpstream) PutRecord(id string, fields map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.records[id]; !exists {
		f.order = append(f.order, id)
	}

	f.records[id] = fields
}

// RemoveRecord drops a row.
func (f *FakeUpstream) RemoveRecord(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.records[id]; !exists {
		return
	}

	delete(f.records, id)

	for i, existing := range f.order {
		if existing == id {
			f.order = append(f.order[:i], f.order[i+1:]...)

			break
		}
	}
}

// PutMedia stores downloadable bytes behind a file token.
func (f *FakeUpstream) PutMedia(token string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.media[token] = data
}

// FailAuth makes subsequent token grants return an upstream error.
func (f *FakeUpstream) FailAuth(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failAuth = fail
}

// FailRecords makes record listings return the given upstream error code;
// zero restores normal service.
func (f *FakeUpstream) FailRecords(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.recordsCode = code
}

// AuthCalls reports how many token grants were served.
func (f *FakeUpstream) AuthCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.authCalls
}

// RecordCalls reports how many record pages were served.
func (f *FakeUpstream) RecordCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.recordCalls
}

// MediaCalls reports how many media downloads were served.
func (f *FakeUpstream) MediaCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.mediaCalls
}

// Handler returns the routed fake API.
func (f *FakeUpstream) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+TokenPath, f.handleToken)
	mux.HandleFunc("GET "+recordsPath, f.handleBitable)
	mux.HandleFunc("GET "+mediaPath, f.handleMedia)

	return mux
}

func (f *FakeUpstream) handleToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AppID     string `json:"app_id"`
		AppSecret string `json:"app_secret"`
	}

	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.authCalls++
	f.tokenSeq++
	fail := f.failAuth || body.AppID == "" || body.AppSecret == ""
	seq := f.tokenSeq
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	if fail {
		fmt.Fprint(w, `{"code":99991663,"msg":"app_id or app_secret invalid"}`)

		return
	}

	fmt.Fprintf(w, `{"code":0,"msg":"ok","tenant_access_token":"t-fixture-%d","expire":7200}`, seq)
}

// handleBitable serves both the fields and records endpoints; the path
// suffix picks which.
func (f *FakeUpstream) handleBitable(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch {
	case strings.HasSuffix(r.URL.Path, "/fields"):
		f.serveFields(w)
	case strings.HasSuffix(r.URL.Path, "/records"):
		f.serveRecords(w, r)
	default:
		fmt.Fprint(w, `{"code":1254005,"msg":"no such resource"}`)
	}
}

func (f *FakeUpstream) serveFields(w http.ResponseWriter) {
	f.mu.Lock()
	fields := f.fields
	f.mu.Unlock()

	writeJSON(w, map[string]any{
		"code": 0,
		"msg":  "ok",
		"data": map[string]any{"items": fields},
	})
}

func (f *FakeUpstream) serveRecords(w http.ResponseWriter, r *http.Request) {
	pageSize := 500
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			pageSize = n
		}
	}

	start := 0
	if raw := r.URL.Query().Get("page_token"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			start = n
		}
	}

	f.mu.Lock()
	f.recordCalls++

	if f.recordsCode != 0 {
		code := f.recordsCode
		f.mu.Unlock()
		fmt.Fprintf(w, `{"code":%d,"msg":"forced failure"}`, code)

		return
	}

	ids := make([]string, len(f.order))
	copy(ids, f.order)

	items := make([]map[string]any, 0, pageSize)

	end := start + pageSize
	if end > len(ids) {
		end = len(ids)
	}

	for _, id := range ids[start:end] {
		items = append(items, map[string]any{
			"record_id": id,
			"fields":    f.records[id],
		})
	}

	total := len(ids)
	f.mu.Unlock()

	hasMore := end < total

	data := map[string]any{
		"items":    items,
		"has_more": hasMore,
		"total":    total,
	}
	if hasMore {
		data["page_token"] = strconv.Itoa(end)
	}

	writeJSON(w, map[string]any{"code": 0, "msg": "ok", "data": data})
}

func (f *FakeUpstream) handleMedia(w http.ResponseWriter, r *http.Request) {
	// Path shape: /open-apis/drive/v1/medias/{token}/download
	token := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, mediaPath), "/download")

	f.mu.Lock()
	f.mediaCalls++
	data, ok := f.media[token]
	f.mu.Unlock()

	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"code":230005,"msg":"file not found"}`)

		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

// RecordIDs returns the current row ids in listing order.
func (f *FakeUpstream) RecordIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]string, len(f.order))
	copy(ids, f.order)

	return ids
}

// MediaTokens returns the stored file tokens, sorted.
func (f *FakeUpstream) MediaTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	tokens := make([]string, 0, len(f.media))
	for token := range f.media {
		tokens = append(tokens, token)
	}

	sort.Strings(tokens)

	return tokens
}

func writeJSON(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}

package bridge

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"
)

// slackCall is one request received by the fake Slack API.
type slackCall struct {
	Method string // API method or path, e.g. "chat.postMessage"
	Form   url.Values
	Body   string
}

// fakeSlack is a minimal Slack Web API. Tests seed channels, files, users and
// history, then inspect the recorded calls.
type fakeSlack struct {
	srv *httptest.Server

	mu           sync.Mutex
	calls        []slackCall
	channels     map[string]string         // channel ID → name
	files        map[string]map[string]any // file ID → files.info "file" object
	history      map[string][]map[string]any
	users        map[string]map[string]any
	archiveErr   string
	permalinkErr string
	download     string
}

func newFakeSlack(t *testing.T) *fakeSlack {
	t.Helper()
	f := &fakeSlack{
		channels: make(map[string]string),
		files:    make(map[string]map[string]any),
		history:  make(map[string][]map[string]any),
		users:    make(map[string]map[string]any),
		download: "%PDF-1.4 test document",
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeSlack) serve(w http.ResponseWriter, r *http.Request) {
	method := strings.TrimPrefix(r.URL.Path, "/")

	if strings.HasPrefix(method, "download/") {
		f.record(slackCall{Method: method})
		_, _ = io.WriteString(w, f.download)
		return
	}

	var body string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
	} else {
		_ = r.ParseForm()
	}
	f.record(slackCall{Method: method, Form: r.Form, Body: body})

	f.mu.Lock()
	defer f.mu.Unlock()

	resp := map[string]any{"ok": true}
	switch method {
	case "auth.test":
		resp["user_id"] = "UBOT"
		resp["team"] = "Acme"
	case "files.info":
		file, ok := f.files[r.Form.Get("file")]
		if !ok {
			resp = map[string]any{"ok": false, "error": "file_not_found"}
			break
		}
		resp["file"] = file
	case "conversations.info":
		id := r.Form.Get("channel")
		name, ok := f.channels[id]
		if !ok {
			resp = map[string]any{"ok": false, "error": "channel_not_found"}
			break
		}
		resp["channel"] = map[string]any{"id": id, "name": name}
	case "conversations.history":
		msgs := f.history[r.Form.Get("channel")]
		if msgs == nil {
			msgs = []map[string]any{}
		}
		resp["messages"] = msgs
	case "users.info":
		user, ok := f.users[r.Form.Get("user")]
		if !ok {
			resp = map[string]any{"ok": false, "error": "user_not_found"}
			break
		}
		resp["user"] = user
	case "chat.getPermalink":
		if f.permalinkErr != "" {
			resp = map[string]any{"ok": false, "error": f.permalinkErr}
			break
		}
		ch, ts := r.Form.Get("channel"), r.Form.Get("message_ts")
		resp["channel"] = ch
		resp["permalink"] = testPermalink(ch, ts)
	case "chat.postMessage":
		resp["channel"] = r.Form.Get("channel")
		resp["ts"] = "1800000000.000100"
	case "chat.postEphemeral":
		resp["message_ts"] = "1800000000.000200"
	case "conversations.archive":
		if f.archiveErr != "" {
			resp = map[string]any{"ok": false, "error": f.archiveErr}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *fakeSlack) record(c slackCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

// callsTo returns the recorded calls to one API method.
func (f *fakeSlack) callsTo(method string) []slackCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []slackCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// addPDF seeds a PDF file uploaded by uploader into channelID.
func (f *fakeSlack) addPDF(id, name, uploader, channelID string) map[string]any {
	file := map[string]any{
		"id":                   id,
		"name":                 name,
		"title":                name,
		"filetype":             "pdf",
		"user":                 uploader,
		"url_private_download": f.srv.URL + "/download/" + id,
	}
	if channelID != "" {
		file["channels"] = []string{channelID}
	}
	f.files[id] = file
	return file
}

func testPermalink(channelID, ts string) string {
	return "https://acme.slack.com/archives/" + channelID + "/p" + strings.ReplaceAll(ts, ".", "")
}

// newTestBot creates a Bot wired to the fake Slack API and crm.
func newTestBot(fs *fakeSlack, crm CRM, mutate ...func(*BotConfig)) *Bot {
	cfg := BotConfig{
		CRM:              crm,
		Logger:           slog.Default(),
		Policy:           IgnorePolicy{UpstreamUserID: "UUPSTREAM", FilenamePrefixes: []string{"WO_", "Work Order"}, CommentMarkers: []string{"[auto-generated]"}},
		NoteReactions:    []string{"memo", "pushpin"},
		ArchiveReactions: []string{"v", "heavy_check_mark"},
		RelayAttachments: true,
		FileNameLabel:    "Scope - ",
		NotesLookback:    50,
		Dedup:            NewDedup(5*time.Minute, slog.Default()),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	api := slack.New("xoxb-test", slack.OptionAPIURL(fs.srv.URL+"/"))
	b := newBot(api, cfg)
	b.botUserID = "UBOT"
	return b
}

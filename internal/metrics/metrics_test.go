package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()

	m.FileRelay("uploaded")
	m.FileRelay("uploaded")
	m.FileRelay("ignored")
	m.NoteRelay("duplicate")
	m.Archive("archived")

	if got := testutil.ToFloat64(m.fileRelays.WithLabelValues("uploaded")); got != 2 {
		t.Errorf("uploaded = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.fileRelays.WithLabelValues("ignored")); got != 1 {
		t.Errorf("ignored = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.noteRelays.WithLabelValues("duplicate")); got != 1 {
		t.Errorf("duplicate = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.archives.WithLabelValues("archived")); got != 1 {
		t.Errorf("archived = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.FileRelay("uploaded")
	m.NoteRelay("sent")
	m.Archive("requested")
}

func TestHandler(t *testing.T) {
	m := New()
	m.NoteRelay("sent")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), `dealrelay_note_relays_total{outcome="sent"} 1`) {
		t.Errorf("expected note counter in scrape output:\n%s", body)
	}
}

package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/kstaniek/canscope/internal/can"
	"github.com/kstaniek/canscope/internal/decode"
	"github.com/kstaniek/canscope/internal/hub"
	"github.com/kstaniek/canscope/internal/logging"
	"github.com/kstaniek/canscope/internal/monitor"
	"github.com/kstaniek/canscope/internal/session"
	"github.com/kstaniek/canscope/internal/transport"
)

const fixture = "../catalog/testdata/vehicle.dbc"

type testEnv struct {
	lb  *transport.Loopback
	mon *monitor.Monitor
	srv *httptest.Server
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	lb := transport.NewLoopback()
	m := monitor.New(lb,
		monitor.WithLogger(logging.Discard()),
		monitor.WithHub(hub.New()),
		monitor.WithSessionOptions(session.WithReceiveTimeout(10*time.Millisecond)),
	)
	srv := httptest.NewServer(New(m, WithLogger(logging.Discard()), WithKeepAlive(20*time.Millisecond)).Handler())
	t.Cleanup(func() {
		srv.Close()
		if m.IsAlive() {
			_ = m.StopSession()
		}
	})
	return &testEnv{lb: lb, mon: m, srv: srv}
}

func (e *testEnv) do(t *testing.T, method, path, body string, hdr ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func expectStatus(t *testing.T, resp *http.Response, code int) {
	t.Helper()
	if resp.StatusCode != code {
		var b bytes.Buffer
		_, _ = b.ReadFrom(resp.Body)
		t.Fatalf("%s %s: status %d, want %d (%s)", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, code, b.String())
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestStatusMapping(t *testing.T) {
	e := newEnv(t)
	expectStatus(t, e.do(t, "DELETE", "/api/session", ""), http.StatusConflict)
	expectStatus(t, e.do(t, "POST", "/api/session", `{"interface":""}`), http.StatusBadRequest)
	expectStatus(t, e.do(t, "POST", "/api/session", `{not json`), http.StatusBadRequest)
	expectStatus(t, e.do(t, "POST", "/api/catalog", `{"path":"/nonexistent/x.dbc"}`), http.StatusBadRequest)
	expectStatus(t, e.do(t, "POST", "/api/frames", `{"id":2048,"data":[1]}`), http.StatusBadRequest)
	expectStatus(t, e.do(t, "POST", "/api/frames", `{"id":1,"data":[256]}`), http.StatusBadRequest)
	expectStatus(t, e.do(t, "DELETE", "/api/table/zz", ""), http.StatusBadRequest)
	expectStatus(t, e.do(t, "DELETE", "/api/table/0x10", ""), http.StatusNotFound)
}

func TestCatalogEndpoints(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, "POST", "/api/catalog", `{"path":"`+fixture+`"}`)
	expectStatus(t, resp, http.StatusOK)
	var sum catalogSummary
	if err := json.NewDecoder(resp.Body).Decode(&sum); err != nil {
		t.Fatal(err)
	}
	if !sum.Loaded || len(sum.Messages) != 3 {
		t.Fatalf("summary %+v", sum)
	}
	expectStatus(t, e.do(t, "DELETE", "/api/catalog", ""), http.StatusNoContent)
	resp = e.do(t, "GET", "/api/catalog", "")
	sum = catalogSummary{}
	_ = json.NewDecoder(resp.Body).Decode(&sum)
	if sum.Loaded {
		t.Fatalf("catalog still loaded")
	}
}

func TestSessionTableAndFrames(t *testing.T) {
	e := newEnv(t)
	peer, _ := e.lb.Open("vcan0")
	defer peer.Close()
	expectStatus(t, e.do(t, "POST", "/api/catalog", `{"path":"`+fixture+`"}`), http.StatusOK)
	expectStatus(t, e.do(t, "POST", "/api/session", `{"interface":"vcan0"}`), http.StatusOK)
	expectStatus(t, e.do(t, "POST", "/api/session", `{"interface":"vcan0"}`), http.StatusConflict)

	fr, _ := can.New(0x100, false, []byte{0x2A, 0, 0, 0, 0, 0, 0, 0})
	_ = peer.Send(fr)
	waitFor(t, "ingest", func() bool { return len(e.mon.Table()) == 1 })

	var recs []decode.Record
	if err := json.NewDecoder(e.do(t, "GET", "/api/table", "").Body).Decode(&recs); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Name != "EngineData" || recs[0].Fields[0].Value != "42" {
		t.Fatalf("records %+v", recs)
	}

	resp := e.do(t, "GET", "/api/table", "", "Accept", "application/cbor")
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "application/cbor" {
		t.Fatalf("content type %q", ct)
	}
	var crecs []decode.Record
	if err := cbor.NewDecoder(resp.Body).Decode(&crecs); err != nil {
		t.Fatalf("cbor: %v", err)
	}
	if len(crecs) != 1 || crecs[0].ID != 0x100 {
		t.Fatalf("cbor records %+v", crecs)
	}

	var rows [][]string
	_ = json.NewDecoder(e.do(t, "GET", "/api/table?format=rows", "").Body).Decode(&rows)
	if len(rows) != 1 || rows[0][3] != "EngineData" || rows[0][len(rows[0])-1] != "false" {
		t.Fatalf("rows %v", rows)
	}

	expectStatus(t, e.do(t, "POST", "/api/frames", `{"id":291,"extended":false,"data":[1,2]}`), http.StatusAccepted)
	got, err := peer.Receive(time.Second)
	if err != nil || got.ID != 291 || got.Len != 2 {
		t.Fatalf("peer got %v err=%v", got, err)
	}

	expectStatus(t, e.do(t, "DELETE", "/api/table/256", ""), http.StatusNoContent)
	expectStatus(t, e.do(t, "DELETE", "/api/table", ""), http.StatusNoContent)

	resp = e.do(t, "DELETE", "/api/session", "")
	expectStatus(t, resp, http.StatusOK)
	var st sessionStatus
	_ = json.NewDecoder(resp.Body).Decode(&st)
	if st.Alive || st.State != "idle" {
		t.Fatalf("status after stop %+v", st)
	}
}

func TestStreamDeliversUpdates(t *testing.T) {
	e := newEnv(t)
	expectStatus(t, e.do(t, "POST", "/api/session", `{"interface":"vcan0"}`), http.StatusOK)

	resp := e.do(t, "GET", "/api/stream", "")
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}
	waitFor(t, "subscriber", func() bool { return e.mon.Hub().Count() == 1 })

	fr, _ := can.New(0x55, false, []byte{7})
	e.lb.Inject("vcan0", fr)

	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case l, ok := <-lines:
			if !ok {
				t.Fatalf("stream closed early")
			}
			if !strings.HasPrefix(l, "data: ") {
				continue
			}
			var rec decode.Record
			if err := json.Unmarshal([]byte(strings.TrimPrefix(l, "data: ")), &rec); err != nil {
				t.Fatalf("bad event %q: %v", l, err)
			}
			if rec.ID != 0x55 || len(rec.Fields) != 1 || rec.Fields[0].Value != "7" {
				t.Fatalf("event %+v", rec)
			}
			return
		case <-timeout:
			t.Fatalf("no update event")
		}
	}
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/duplex/internal/config"
	"github.com/ent0n29/duplex/internal/documents"
	"github.com/ent0n29/duplex/internal/observability"
	"github.com/ent0n29/duplex/internal/protocol"
	"github.com/ent0n29/duplex/internal/session"
)

// echoOrchestrator answers controls with a status and echoes audio back.
type echoOrchestrator struct{}

func (echoOrchestrator) RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			switch m := msg.(type) {
			case protocol.ClientControl:
				outbound <- protocol.Status{Type: protocol.TypeStatus, SessionID: s.ID, Label: m.Action}
			case protocol.ClientAudioFrame:
				outbound <- protocol.AudioFrame{Data: m.PCM}
			}
		}
	}
}

func newTestServer(t *testing.T, orchestrator Orchestrator) (*httptest.Server, *session.Manager) {
	t.Helper()
	cfg := config.Config{ConnectTimeout: 2 * time.Minute, SynthVoice: "nova"}
	sessions := session.NewManager(cfg.ConnectTimeout, 4)
	metrics := observability.NewMetrics("test_httpapi")
	srv := New(cfg, sessions, orchestrator, documents.NewInMemoryStore(), metrics, nil)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, sessions
}

func createSession(t *testing.T, baseURL string) string {
	t.Helper()
	res, err := http.Post(baseURL+"/v1/voice/session", "application/json", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("create session request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	var created map[string]any
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	sessionID, _ := created["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("missing session_id in create response: %+v", created)
	}
	if created["voice_id"] != "nova" {
		t.Fatalf("voice_id = %v, want default nova", created["voice_id"])
	}
	return sessionID
}

func TestCreateAndEndSession(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	sessionID := createSession(t, ts.URL)

	endRes, err := http.Post(ts.URL+"/v1/voice/session/"+sessionID+"/end", "application/json", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("end session request error = %v", err)
	}
	defer endRes.Body.Close()
	if endRes.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, want %d", endRes.StatusCode, http.StatusOK)
	}

	again, err := http.Post(ts.URL+"/v1/voice/session/"+sessionID+"/end", "application/json", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("second end request error = %v", err)
	}
	defer again.Body.Close()
	if again.StatusCode != http.StatusNotFound {
		t.Fatalf("second end status = %d, want %d", again.StatusCode, http.StatusNotFound)
	}
}

func TestDocumentAttachAndDetach(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	sessionID := createSession(t, ts.URL)
	docURL := ts.URL + "/v1/voice/session/" + sessionID + "/document"

	body := strings.NewReader(`{"name":"notes.txt","text":"The launch is on Friday."}`)
	req, _ := http.NewRequest(http.MethodPut, docURL, body)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("attach request error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("attach status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	req, _ = http.NewRequest(http.MethodDelete, docURL, nil)
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("detach request error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("detach status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}

	req, _ = http.NewRequest(http.MethodDelete, docURL, nil)
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("second detach request error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("second detach status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestDocumentAttachUnknownSession(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/v1/voice/session/missing/document", strings.NewReader(`{"text":"x"}`))
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("attach request error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("attach status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestSessionWebSocketRoundTrip(t *testing.T) {
	ts, sessions := newTestServer(t, echoOrchestrator{})
	sessionID := createSession(t, ts.URL)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/voice/session/ws?session_id=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	// A malformed frame is ignored and the connection stays usable.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)); err != nil {
		t.Fatalf("write malformed: %v", err)
	}
	if err := conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionStart}); err != nil {
		t.Fatalf("write control: %v", err)
	}
	var status protocol.Status
	if err := conn.ReadJSON(&status); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status.Type != protocol.TypeStatus || status.Label != "start" {
		t.Fatalf("unexpected status: %+v", status)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read audio: %v", err)
	}
	if msgType != websocket.BinaryMessage || !bytes.Equal(data, []byte{1, 2, 3, 4}) {
		t.Fatalf("audio echo = %d %v", msgType, data)
	}

	if got := sessions.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", got)
	}
	if _, _, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Fatalf("second connection to an attached session should be rejected")
	}
}

func TestSessionWebSocketRejectsForeignOrigin(t *testing.T) {
	ts, _ := newTestServer(t, echoOrchestrator{})
	sessionID := createSession(t, ts.URL)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/voice/session/ws?session_id=" + sessionID
	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	if _, _, err := websocket.DefaultDialer.Dial(wsURL, header); err == nil {
		t.Fatalf("expected cross-origin websocket to be rejected")
	}
}

func TestHealthAndPerfEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, echoOrchestrator{})
	for _, path := range []string{"/healthz", "/readyz", "/v1/perf/latency", "/metrics"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want %d", path, res.StatusCode, http.StatusOK)
		}
	}
}

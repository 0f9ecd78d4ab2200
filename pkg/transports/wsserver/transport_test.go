package wsserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/horchlabs/horch/pkg/audio"
	"github.com/horchlabs/horch/pkg/frames"
)

func decodeSent(t *testing.T, sess *session) map[string]any {
	t.Helper()
	select {
	case b := <-sess.sendCh:
		var payload map[string]any
		if err := json.Unmarshal(b, &payload); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return payload
	default:
		t.Fatalf("expected a queued message")
		return nil
	}
}

func TestSendBroadcastsStatusFrames(t *testing.T) {
	tr := New(Config{})
	a := &session{sendCh: make(chan []byte, 4)}
	b := &session{sendCh: make(chan []byte, 4)}
	tr.mu.Lock()
	tr.sessions["client-a"] = a
	tr.sessions["client-b"] = b
	tr.mu.Unlock()

	sf := frames.NewSystemFrame("mic", time.Now().UnixNano(), frames.SysRecordingStarted, nil)
	if err := tr.Send(sf); err != nil {
		t.Fatalf("send: %v", err)
	}
	for _, sess := range []*session{a, b} {
		payload := decodeSent(t, sess)
		if payload["type"] != "status" || payload["message"] != "Recording started" {
			t.Fatalf("unexpected status payload %v", payload)
		}
	}
}

func TestSendRoutesUploadTranscriptionToClient(t *testing.T) {
	tr := New(Config{})
	owner := &session{sendCh: make(chan []byte, 4)}
	other := &session{sendCh: make(chan []byte, 4)}
	tr.mu.Lock()
	tr.sessions["client-a"] = owner
	tr.sessions["client-b"] = other
	tr.mu.Unlock()

	tf := frames.NewTextFrame("upload-client-a", time.Now().UnixNano(), "wetter berlin",
		map[string]string{frames.MetaIsFinal: "true"})
	if err := tr.Send(tf); err != nil {
		t.Fatalf("send: %v", err)
	}

	payload := decodeSent(t, owner)
	if payload["type"] != "transcription" || payload["text"] != "wetter berlin" {
		t.Fatalf("unexpected transcription payload %v", payload)
	}
	select {
	case b := <-other.sendCh:
		t.Fatalf("upload transcription leaked to another client: %s", b)
	default:
	}
}

func TestSendDropsFramesWithoutWireMapping(t *testing.T) {
	tr := New(Config{})
	sess := &session{sendCh: make(chan []byte, 4)}
	tr.mu.Lock()
	tr.sessions["client-a"] = sess
	tr.mu.Unlock()

	cf := frames.NewControlFrame("mic", time.Now().UnixNano(), frames.ControlFlush, nil)
	if err := tr.Send(cf); err != nil {
		t.Fatalf("send: %v", err)
	}
	hb := frames.NewSystemFrame("mic", time.Now().UnixNano(), frames.SysHeartbeat, nil)
	if err := tr.Send(hb); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case b := <-sess.sendCh:
		t.Fatalf("internal frame leaked to the client: %s", b)
	default:
	}
}

func TestHandleHealthReportsFields(t *testing.T) {
	tr := New(Config{})
	tr.SetHealth(func() map[string]any {
		return map[string]any{"model_loaded": true}
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	tr.handleHealth(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("expected ok status, got %v", payload["status"])
	}
	if payload["model_loaded"] != true {
		t.Fatalf("expected model_loaded field, got %v", payload)
	}
}

func TestWebsocketSessionCommandsAndUpload(t *testing.T) {
	tr := New(Config{})
	srv := httptest.NewServer(tr)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// welcome status arrives first
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var welcome map[string]any
	if err := conn.ReadJSON(&welcome); err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	if welcome["type"] != "status" || welcome["message"] != "Connected to Speech-to-Text Service" {
		t.Fatalf("expected welcome status, got %v", welcome)
	}

	if err := conn.WriteJSON(map[string]any{"type": "set_city", "city": "berlin"}); err != nil {
		t.Fatalf("write set_city: %v", err)
	}
	select {
	case f := <-tr.Recv():
		cf, ok := f.(frames.ControlFrame)
		if !ok || cf.Code() != frames.ControlSetCity {
			t.Fatalf("expected set_city control, got %T", f)
		}
		if cf.Meta()[frames.MetaCity] != "berlin" {
			t.Fatalf("expected city berlin, got %q", cf.Meta()[frames.MetaCity])
		}
		if cf.Meta()[frames.MetaStreamID] != "mic" {
			t.Fatalf("set_city must target the mic stream, got %q", cf.Meta()[frames.MetaStreamID])
		}
	case <-time.After(time.Second):
		t.Fatalf("expected set_city frame")
	}

	pcm := make([]byte, 4096)
	wavBytes, err := audio.EncodeWAV(pcm, 16000, 1)
	if err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, wavBytes); err != nil {
		t.Fatalf("write upload: %v", err)
	}

	select {
	case f := <-tr.Recv():
		af, ok := f.(frames.AudioFrame)
		if !ok {
			t.Fatalf("expected upload audio frame, got %T", f)
		}
		meta := af.Meta()
		if meta[frames.MetaSource] != "upload" {
			t.Fatalf("upload audio must carry upload source, got %q", meta[frames.MetaSource])
		}
		if !strings.HasPrefix(meta[frames.MetaStreamID], "upload-") {
			t.Fatalf("unexpected upload stream id %q", meta[frames.MetaStreamID])
		}
		if len(af.RawPayload()) != len(pcm) {
			t.Fatalf("expected %d pcm bytes, got %d", len(pcm), len(af.RawPayload()))
		}
	case <-time.After(time.Second):
		t.Fatalf("expected upload audio frame")
	}

	// an upload is a single complete buffer; no control frames follow it
	select {
	case f := <-tr.Recv():
		t.Fatalf("unexpected frame after upload audio: %T", f)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWebsocketUploadRejectsGarbage(t *testing.T) {
	tr := New(Config{})
	srv := httptest.NewServer(tr)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var welcome map[string]any
	if err := conn.ReadJSON(&welcome); err != nil {
		t.Fatalf("read welcome: %v", err)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("not a wav")); err != nil {
		t.Fatalf("write upload: %v", err)
	}
	var reply map[string]any
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read error reply: %v", err)
	}
	if reply["type"] != "error" {
		t.Fatalf("expected error reply, got %v", reply)
	}
	select {
	case f := <-tr.Recv():
		if f.Kind() == frames.KindAudio {
			t.Fatalf("garbage upload must not produce audio frames")
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDrainingRejectsUpgrades(t *testing.T) {
	tr := New(Config{})
	tr.draining.Store(true)
	srv := httptest.NewServer(tr)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("expected handshake failure while draining")
	}
	if resp != nil && resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

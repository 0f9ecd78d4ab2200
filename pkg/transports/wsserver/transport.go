package wsserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/horchlabs/horch/pkg/audio"
	"github.com/horchlabs/horch/pkg/errorsx"
	"github.com/horchlabs/horch/pkg/frames"
	"github.com/horchlabs/horch/pkg/metrics"
)

const uploadStreamPrefix = "upload-"

type Config struct {
	ServerAddr     string   `mapstructure:"server_addr"`
	WebsocketPath  string   `mapstructure:"ws_path"`
	HealthPath     string   `mapstructure:"health_path"`
	MicStreamID    string   `mapstructure:"mic_stream_id"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8765"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if c.HealthPath == "" {
		c.HealthPath = "/health"
	}
	if c.MicStreamID == "" {
		c.MicStreamID = "mic"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Transport serves browser clients over a websocket. Status, transcription
// and weather frames fan out to every connected client; transcriptions of an
// uploaded file go back only to the client that sent it.
type Transport struct {
	cfg      Config
	server   *http.Server
	upgrader websocket.Upgrader
	recvCh   chan frames.Frame

	obs    metrics.Observer
	health func() map[string]any

	mu       sync.Mutex
	sessions map[string]*session

	draining atomic.Bool
}

func New(cfg Config) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		recvCh:   make(chan frames.Frame, 512),
		sessions: make(map[string]*session),
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	return t
}

func (t *Transport) Name() string { return "websocket" }

func (t *Transport) Recv() <-chan frames.Frame { return t.recvCh }

// SetObserver wires the metrics sink; broadcast events feed the latency trace.
func (t *Transport) SetObserver(obs metrics.Observer) { t.obs = obs }

// SetHealth registers extra fields for the health endpoint, such as ASR model state.
func (t *Transport) SetHealth(fn func() map[string]any) { t.health = fn }

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{
		"listen_addr": t.cfg.ServerAddr,
		"ws_path":     t.cfg.WebsocketPath,
	}
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.Handle(t.cfg.WebsocketPath, t)
	mux.HandleFunc(t.cfg.HealthPath, t.handleHealth)
	t.server = &http.Server{
		Addr:              t.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	go func() {
		<-ctx.Done()
		_ = t.server.Close()
	}()
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ws_transport_server_error", "error", err.Error())
		}
	}()
	return nil
}

func (t *Transport) Stop() error {
	t.draining.Store(true)
	if t.server != nil {
		_ = t.server.Close()
	}
	t.mu.Lock()
	for _, sess := range t.sessions {
		_ = sess.close()
	}
	t.sessions = make(map[string]*session)
	t.mu.Unlock()
	close(t.recvCh)
	return nil
}

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	clientID := uuid.NewString()
	streamID := uploadStreamPrefix + clientID
	traceID := uuid.NewString()
	sess := t.attach(clientID, conn)
	slog.Info("ws_client_connected", "client_id", clientID, "remote_addr", r.RemoteAddr)

	_ = sess.enqueueJSON(map[string]any{"type": "status", "message": "Connected to Speech-to-Text Service"})

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		switch msgType {
		case websocket.TextMessage:
			t.handleCommand(clientID, msg)
		case websocket.BinaryMessage:
			t.handleUpload(clientID, streamID, traceID, msg)
		}
	}

	t.detach(clientID)
	meta := map[string]string{
		frames.MetaTraceID:    traceID,
		frames.MetaSource:     "upload",
		frames.MetaClientAddr: clientID,
	}
	nonBlockingSend(t.recvCh, frames.NewSystemFrame(streamID, time.Now().UnixNano(), frames.SysStreamEnd, meta))
	slog.Info("ws_client_disconnected", "client_id", clientID)
}

type clientCommand struct {
	Type string `json:"type"`
	City string `json:"city,omitempty"`
}

func (t *Transport) handleCommand(clientID string, msg []byte) {
	var cmd clientCommand
	if err := json.Unmarshal(msg, &cmd); err != nil {
		slog.Debug("ws_bad_command", "client_id", clientID, "error", err.Error())
		return
	}
	switch cmd.Type {
	case "set_city":
		city := strings.TrimSpace(cmd.City)
		if city == "" {
			return
		}
		meta := map[string]string{
			frames.MetaCity:       city,
			frames.MetaClientAddr: clientID,
			frames.MetaSource:     "transport",
		}
		nonBlockingSend(t.recvCh, frames.NewControlFrame(t.cfg.MicStreamID, time.Now().UnixNano(), frames.ControlSetCity, meta))
		slog.Info("ws_set_city", "client_id", clientID, "city", city)
	default:
		slog.Debug("ws_unknown_command", "client_id", clientID, "command", cmd.Type)
	}
}

func (t *Transport) handleUpload(clientID, streamID, traceID string, payload []byte) {
	pcm, rate, channels, err := audio.DecodeWAV(payload)
	if err != nil {
		slog.Warn("ws_upload_rejected",
			"client_id", clientID,
			"bytes", len(payload),
			"reason_code", string(errorsx.Reason(err)))
		if sess := t.session(clientID); sess != nil {
			_ = sess.enqueueJSON(map[string]any{"type": "error", "message": "invalid audio upload"})
		}
		return
	}
	meta := map[string]string{
		frames.MetaTraceID:    traceID,
		frames.MetaSource:     "upload",
		frames.MetaClientAddr: clientID,
		frames.MetaFormat:     "pcm_s16le",
	}
	// the whole file arrives in one frame; the batch transcriber needs no flush
	nonBlockingSend(t.recvCh, frames.NewAudioFrame(streamID, time.Now().UnixNano(), pcm, rate, channels, meta))
	slog.Info("ws_upload",
		"client_id", clientID,
		"bytes", len(pcm),
		"sample_rate", rate,
		"channels", channels)
}

func (t *Transport) Send(f frames.Frame) error {
	msg := buildMessage(f)
	if msg == nil {
		return nil
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	streamID := f.Meta()[frames.MetaStreamID]
	if clientID, ok := strings.CutPrefix(streamID, uploadStreamPrefix); ok {
		if sess := t.session(clientID); sess != nil {
			sess.enqueue(b)
		}
	} else {
		t.broadcast(b)
	}
	t.record(f)
	return nil
}

// buildMessage maps outbound frames onto the client wire protocol. Frames
// with no client representation return nil and are dropped.
func buildMessage(f frames.Frame) map[string]any {
	switch f.Kind() {
	case frames.KindText:
		tf := f.(frames.TextFrame)
		if tf.Text() == "" {
			return nil
		}
		if tf.Meta()[frames.MetaIsFinal] == "true" {
			return map[string]any{"type": "transcription", "text": tf.Text()}
		}
		return map[string]any{"type": "partial", "text": tf.Text()}
	case frames.KindSystem:
		sf := f.(frames.SystemFrame)
		meta := sf.Meta()
		switch sf.Name() {
		case frames.SysRecordingStarted:
			return map[string]any{"type": "status", "message": "Recording started"}
		case frames.SysRecordingStopped:
			return map[string]any{"type": "status", "message": "Recording stopped"}
		case frames.SysProcessing:
			return map[string]any{"type": "status", "message": "Processing audio"}
		case frames.SysCity:
			return map[string]any{"type": "city", "city": meta[frames.MetaCity]}
		case frames.SysMessage:
			return map[string]any{"type": "message", "text": meta[frames.MetaMessage]}
		case frames.SysWeather:
			msg := map[string]any{"type": "weather", "city": meta[frames.MetaCity]}
			if raw := meta[frames.MetaPayload]; raw != "" {
				msg["data"] = json.RawMessage(raw)
			}
			return msg
		case frames.SysError:
			return map[string]any{"type": "error", "message": meta[frames.MetaMessage]}
		default:
			return nil
		}
	default:
		return nil
	}
}

func (t *Transport) record(f frames.Frame) {
	if t.obs == nil {
		return
	}
	meta := f.Meta()
	tags := map[string]string{
		frames.MetaStreamID: meta[frames.MetaStreamID],
		"component":         "transport",
	}
	if v := meta[frames.MetaTraceID]; v != "" {
		tags[frames.MetaTraceID] = v
	}
	t.obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventBroadcast, Time: time.Now(), Tags: tags})
}

func (t *Transport) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	fields := map[string]any{"status": "ok"}
	if t.draining.Load() {
		fields["status"] = "draining"
	}
	if t.health != nil {
		for k, v := range t.health() {
			fields[k] = v
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(fields)
}

func (t *Transport) attach(clientID string, conn *websocket.Conn) *session {
	sess := &session{
		conn:   conn,
		sendCh: make(chan []byte, 256),
	}
	t.mu.Lock()
	t.sessions[clientID] = sess
	t.mu.Unlock()
	go sess.loop()
	return sess
}

func (t *Transport) detach(clientID string) {
	t.mu.Lock()
	sess := t.sessions[clientID]
	delete(t.sessions, clientID)
	t.mu.Unlock()
	if sess != nil {
		_ = sess.close()
	}
}

func (t *Transport) session(clientID string) *session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[clientID]
}

func (t *Transport) broadcast(b []byte) {
	t.mu.Lock()
	sessions := make([]*session, 0, len(t.sessions))
	for _, sess := range t.sessions {
		sessions = append(sessions, sess)
	}
	t.mu.Unlock()
	for _, sess := range sessions {
		sess.enqueue(b)
	}
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range t.cfg.AllowedOrigins {
		a := strings.TrimSpace(allowed)
		if a == "" {
			continue
		}
		a = strings.TrimRight(a, "/")
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

type session struct {
	conn   *websocket.Conn
	sendCh chan []byte
	closed atomic.Bool
}

func (s *session) enqueue(b []byte) {
	select {
	case s.sendCh <- b:
	default:
	}
}

func (s *session) enqueueJSON(msg map[string]any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.enqueue(b)
	return nil
}

func (s *session) loop() {
	for msg := range s.sendCh {
		_ = s.conn.WriteMessage(websocket.TextMessage, msg)
	}
}

func (s *session) close() error {
	if s.closed.CompareAndSwap(false, true) {
		close(s.sendCh)
	}
	return s.conn.Close()
}

func nonBlockingSend(ch chan frames.Frame, f frames.Frame) {
	select {
	case ch <- f:
	default:
	}
}

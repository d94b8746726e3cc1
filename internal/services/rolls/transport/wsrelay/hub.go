package wsrelay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"

	apperrors "github.com/louisbranch/grouproll/internal/platform/errors"
	platformlog "github.com/louisbranch/grouproll/internal/platform/log"
	"github.com/louisbranch/grouproll/internal/platform/timeouts"
	"github.com/louisbranch/grouproll/internal/services/rolls/artifact"
	"github.com/louisbranch/grouproll/internal/services/rolls/transport"
	"github.com/rs/zerolog"
	"golang.org/x/net/websocket"
	"golang.org/x/time/rate"
)

var (
	errTargetOffline = errors.New("target is not connected")
	errNoCoordinator = errors.New("no coordinator is connected")
)

type observedStore interface {
	artifact.Store
	artifact.Watcher
}

// HubConfig configures a Hub.
type HubConfig struct {
	// Store holds the shared artifacts. Stores that are not already
	// observable are wrapped with artifact.Observe.
	Store  artifact.Store
	Logger *zerolog.Logger
	// FrameRate caps inbound frames per second on one connection.
	FrameRate int
}

// Hub relays roll envelopes between joined participants and serves the
// shared artifact store.
type Hub struct {
	store     observedStore
	logger    zerolog.Logger
	frameRate int

	mu          sync.RWMutex
	peers       map[string]*wsPeer
	coordinator string
	conns       map[*websocket.Conn]struct{}
	closed      bool
	handlers    sync.WaitGroup
}

// NewHub builds a hub over cfg.Store.
func NewHub(cfg HubConfig) (*Hub, error) {
	if cfg.Store == nil {
		return nil, errors.New("artifact store is required")
	}
	store, ok := cfg.Store.(observedStore)
	if !ok {
		store = artifact.Observe(cfg.Store)
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = maxFramesPerSecond
	}
	return &Hub{
		store:     store,
		logger:    platformlog.OrComponent(cfg.Logger, "relay"),
		frameRate: cfg.FrameRate,
		peers:     make(map[string]*wsPeer),
		conns:     make(map[*websocket.Conn]struct{}),
	}, nil
}

// Handler serves /ws for clients and /up for liveness checks.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(h.serveConn)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})
	return mux
}

// Run broadcasts artifact changes to every joined peer until ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	for change := range h.store.Watch(ctx) {
		h.broadcast(wsFrame{Type: frameArtifactChanged, Payload: mustJSON(change)}, nil)
	}
	return nil
}

// Close drops every connection and waits for their handlers to return.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for conn := range h.conns {
		_ = conn.Close()
	}
	h.mu.Unlock()
	h.handlers.Wait()
}

// Online lists joined participants, sorted.
func (h *Hub) Online() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.onlineLocked()
}

func (h *Hub) onlineLocked() []string {
	online := make([]string, 0, len(h.peers))
	for participantID := range h.peers {
		online = append(online, participantID)
	}
	slices.Sort(online)
	return online
}

// hubSession is the per-connection state.
type hubSession struct {
	participantID string
	peer          *wsPeer
}

func (h *Hub) track(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[conn] = struct{}{}
	h.handlers.Add(1)
	return true
}

func (h *Hub) untrack(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	h.handlers.Done()
}

func (h *Hub) serveConn(conn *websocket.Conn) {
	if !h.track(conn) {
		_ = conn.Close()
		return
	}
	defer h.untrack(conn)
	defer func() {
		_ = conn.Close()
	}()

	ctx := context.Background()
	if request := conn.Request(); request != nil {
		ctx = request.Context()
	}
	decoder := json.NewDecoder(conn)
	session := &hubSession{peer: newWSPeer(json.NewEncoder(conn))}
	defer h.leave(session)

	limiter := rate.NewLimiter(rate.Limit(h.frameRate), h.frameRate)
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				connectionsClosed.WithLabelValues("eof").Inc()
				return
			}
			decodeErrors++
			_ = session.peer.writeFrame(protocolError("", apperrors.CodeInvalidFrame, "invalid frame payload"))
			if decodeErrors >= maxDecodeErrorsPerConn {
				connectionsClosed.WithLabelValues("decode_errors").Inc()
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			framesHandled.WithLabelValues(frame.Type, "too_large").Inc()
			connectionsClosed.WithLabelValues("too_large").Inc()
			_ = session.peer.writeFrame(protocolError(frame.RequestID, apperrors.CodeInvalidFrame, "payload too large"))
			return
		}
		if !limiter.Allow() {
			framesHandled.WithLabelValues(frame.Type, "rate_limited").Inc()
			connectionsClosed.WithLabelValues("rate_limited").Inc()
			_ = session.peer.writeFrame(protocolError(frame.RequestID, apperrors.CodeRateLimited, "rate limit exceeded"))
			return
		}

		reply, err := h.handleFrame(ctx, session, frame)
		if err != nil {
			framesHandled.WithLabelValues(frame.Type, "error").Inc()
			h.logger.Debug().
				Err(err).
				Str("frame_type", frame.Type).
				Str(platformlog.FieldParticipantID, session.participantID).
				Msg("frame rejected")
			_ = session.peer.writeFrame(errorFrame(frame.RequestID, err))
			continue
		}
		framesHandled.WithLabelValues(frame.Type, "ok").Inc()
		_ = session.peer.writeFrame(reply)
	}
}

func (h *Hub) handleFrame(ctx context.Context, session *hubSession, frame wsFrame) (wsFrame, error) {
	if frame.Type == frameJoin {
		return h.handleJoin(session, frame)
	}
	if session.participantID == "" {
		return wsFrame{}, apperrors.New(apperrors.CodeNotJoined, "must join the hub first")
	}
	switch frame.Type {
	case frameRollRequest, frameRollResult:
		if err := h.relay(session, frame); err != nil {
			return wsFrame{}, err
		}
		return ack(frame.RequestID, map[string]string{"status": "ok"}), nil
	case frameArtifactCreate, frameArtifactUpdate, frameArtifactGet,
		frameArtifactFind, frameArtifactList, frameArtifactDelete:
		opCtx, cancel := context.WithTimeout(ctx, timeouts.TransportSend)
		defer cancel()
		result, err := h.artifactOp(opCtx, frame)
		if err != nil {
			return wsFrame{}, err
		}
		return ack(frame.RequestID, result), nil
	default:
		return wsFrame{}, apperrors.New(apperrors.CodeInvalidFrame, "unsupported frame type")
	}
}

func ack(requestID string, result any) wsFrame {
	return wsFrame{Type: frameAck, RequestID: requestID, Payload: mustJSON(result)}
}

func (h *Hub) handleJoin(session *hubSession, frame wsFrame) (wsFrame, error) {
	var payload joinPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return wsFrame{}, apperrors.New(apperrors.CodeInvalidFrame, "invalid join payload")
	}
	participantID := strings.TrimSpace(payload.ParticipantID)
	if participantID == "" {
		return wsFrame{}, apperrors.New(apperrors.CodeInvalidFrame, "participant_id is required")
	}
	if session.participantID != "" && session.participantID != participantID {
		return wsFrame{}, apperrors.New(apperrors.CodeInvalidFrame, "connection already joined as "+session.participantID)
	}

	h.mu.Lock()
	if _, ok := h.peers[participantID]; !ok {
		peersOnline.Inc()
	}
	// a reconnecting participant takes over routing from its old connection
	h.peers[participantID] = session.peer
	if payload.Coordinator {
		h.coordinator = participantID
	}
	joined := joinedPayload{
		ParticipantID: participantID,
		CoordinatorID: h.coordinator,
		Online:        h.onlineLocked(),
	}
	h.mu.Unlock()
	session.participantID = participantID

	h.logger.Info().
		Str(platformlog.FieldParticipantID, participantID).
		Bool("coordinator", payload.Coordinator).
		Msg("participant joined")
	h.broadcast(wsFrame{Type: framePresence, Payload: mustJSON(presencePayload{ParticipantID: participantID, Online: true})}, session.peer)
	return wsFrame{Type: frameJoined, RequestID: frame.RequestID, Payload: mustJSON(joined)}, nil
}

func (h *Hub) leave(session *hubSession) {
	if session.participantID == "" {
		return
	}
	h.mu.Lock()
	current, ok := h.peers[session.participantID]
	if !ok || current != session.peer {
		h.mu.Unlock()
		return
	}
	delete(h.peers, session.participantID)
	peersOnline.Dec()
	if h.coordinator == session.participantID {
		h.coordinator = ""
	}
	h.mu.Unlock()

	h.logger.Info().Str(platformlog.FieldParticipantID, session.participantID).Msg("participant left")
	h.broadcast(wsFrame{Type: framePresence, Payload: mustJSON(presencePayload{ParticipantID: session.participantID})}, nil)
}

// relay forwards a roll envelope. Requests go to the envelope's target;
// results go to the joined coordinator.
func (h *Hub) relay(session *hubSession, frame wsFrame) error {
	env, err := transport.DecodeEnvelope(frame.Payload)
	if err != nil {
		return err
	}
	if env.From != session.participantID {
		return apperrors.New(apperrors.CodeNotOwner, "envelope sender does not match the connection")
	}
	if string(env.Kind) != frame.Type {
		return apperrors.New(apperrors.CodeInvalidFrame, "envelope kind does not match the frame type")
	}

	h.mu.RLock()
	target := env.To
	if env.Kind == transport.KindRollResult {
		target = h.coordinator
	}
	peer, ok := h.peers[target]
	h.mu.RUnlock()

	switch {
	case target == "":
		return transport.DeliveryError("coordinator", errNoCoordinator)
	case !ok:
		return transport.DeliveryError(target, errTargetOffline)
	}
	if err := peer.writeFrame(wsFrame{Type: frame.Type, Payload: frame.Payload}); err != nil {
		return transport.DeliveryError(target, err)
	}
	h.logger.Debug().
		Str("kind", string(env.Kind)).
		Str(platformlog.FieldParticipantID, target).
		Msg("envelope relayed")
	return nil
}

func (h *Hub) artifactOp(ctx context.Context, frame wsFrame) (artifactResult, error) {
	var req artifactRequest
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			return artifactResult{}, apperrors.New(apperrors.CodeInvalidFrame, "invalid artifact payload")
		}
	}
	switch frame.Type {
	case frameArtifactCreate:
		artifactID, err := h.store.Create(ctx, req.Content, req.Metadata)
		return artifactResult{ID: artifactID}, err
	case frameArtifactUpdate:
		return artifactResult{ID: req.ID}, artifact.UpdateIf(ctx, h.store, req.ID, req.Revision, req.Content, req.Metadata)
	case frameArtifactGet:
		a, err := h.store.Get(ctx, req.ID)
		if err != nil {
			return artifactResult{}, err
		}
		return artifactResult{ID: a.ID, Found: true, Artifact: &a}, nil
	case frameArtifactFind:
		a, ok, err := artifact.FindGroupRoll(ctx, h.store, req.GroupRollID)
		if err != nil || !ok {
			return artifactResult{}, err
		}
		return artifactResult{ID: a.ID, Found: true, Artifact: &a}, nil
	case frameArtifactList:
		all, err := h.store.List(ctx)
		return artifactResult{Artifacts: all}, err
	default:
		return artifactResult{ID: req.ID}, h.store.Delete(ctx, req.ID)
	}
}

// broadcast writes frame to every joined peer except skip.
func (h *Hub) broadcast(frame wsFrame, skip *wsPeer) {
	h.mu.RLock()
	peers := make([]*wsPeer, 0, len(h.peers))
	for _, peer := range h.peers {
		if peer != skip {
			peers = append(peers, peer)
		}
	}
	h.mu.RUnlock()
	for _, peer := range peers {
		_ = peer.writeFrame(frame)
	}
}

type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

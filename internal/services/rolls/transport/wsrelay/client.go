package wsrelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	apperrors "github.com/louisbranch/grouproll/internal/platform/errors"
	platformlog "github.com/louisbranch/grouproll/internal/platform/log"
	"github.com/louisbranch/grouproll/internal/services/rolls/artifact"
	"github.com/louisbranch/grouproll/internal/services/rolls/domain"
	"github.com/louisbranch/grouproll/internal/services/rolls/transport"
	"github.com/rs/zerolog"
	"golang.org/x/net/websocket"
)

const inboxSize = 64

// ErrClosed is returned by calls on a client whose connection has ended.
var ErrClosed = errors.New("relay connection closed")

// ClientConfig configures a Client.
type ClientConfig struct {
	// URL is the hub's websocket endpoint, for example ws://localhost:8090/ws.
	URL string
	// Origin defaults to the URL's host over http.
	Origin        string
	ParticipantID string
	Coordinator   bool
	// Handler receives relayed roll envelopes. Nil drops them.
	Handler transport.Handler
	Logger  *zerolog.Logger
}

// Client is one process's connection to the hub.
type Client struct {
	id      string
	conn    *websocket.Conn
	peer    *wsPeer
	handler transport.Handler
	logger  zerolog.Logger
	feed    *artifact.Feed
	seq     atomic.Uint64

	baseCtx    context.Context
	cancelBase context.CancelFunc
	inbox      chan transport.Envelope
	done       chan struct{}
	workers    sync.WaitGroup
	closeOnce  sync.Once

	mu            sync.Mutex
	pending       map[string]chan wsFrame
	online        map[string]bool
	coordinatorID string
	closed        bool
}

// Dial connects to the hub and joins it as cfg.ParticipantID.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	participantID := strings.TrimSpace(cfg.ParticipantID)
	if participantID == "" {
		return nil, errors.New("participant id is required")
	}
	origin := cfg.Origin
	if origin == "" {
		origin = originFor(cfg.URL)
	}
	wsConfig, err := websocket.NewConfig(cfg.URL, origin)
	if err != nil {
		return nil, fmt.Errorf("relay config: %w", err)
	}
	conn, err := wsConfig.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	handler := cfg.Handler
	if handler == nil {
		handler = transport.HandlerFuncs{}
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		id:         participantID,
		conn:       conn,
		peer:       newWSPeer(json.NewEncoder(conn)),
		handler:    handler,
		logger:     platformlog.OrComponent(cfg.Logger, "relay_client").With().Str(platformlog.FieldParticipantID, participantID).Logger(),
		feed:       artifact.NewFeed(),
		baseCtx:    baseCtx,
		cancelBase: cancel,
		inbox:      make(chan transport.Envelope, inboxSize),
		done:       make(chan struct{}),
		pending:    make(map[string]chan wsFrame),
		online:     make(map[string]bool),
	}
	c.workers.Add(2)
	go c.readLoop()
	go c.dispatchLoop()

	reply, err := c.call(ctx, frameJoin, joinPayload{ParticipantID: participantID, Coordinator: cfg.Coordinator})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("join relay: %w", err)
	}
	var joined joinedPayload
	if err := json.Unmarshal(reply, &joined); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("decode join reply: %w", err)
	}
	c.mu.Lock()
	c.coordinatorID = joined.CoordinatorID
	for _, online := range joined.Online {
		c.online[online] = true
	}
	c.mu.Unlock()
	return c, nil
}

func originFor(rawURL string) string {
	rest, ok := strings.CutPrefix(rawURL, "wss://")
	scheme := "https://"
	if !ok {
		rest = strings.TrimPrefix(rawURL, "ws://")
		scheme = "http://"
	}
	host, _, _ := strings.Cut(rest, "/")
	return scheme + host + "/"
}

// ParticipantID returns the id this client joined as.
func (c *Client) ParticipantID() string {
	return c.id
}

// CoordinatorID returns the coordinator known to the hub, if any.
func (c *Client) CoordinatorID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coordinatorID
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close ends the connection and waits for in-flight handlers.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
		c.cancelBase()
		c.workers.Wait()
	})
	return err
}

// IsOnline implements directory.Presence from hub presence frames.
func (c *Client) IsOnline(_ context.Context, participantID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online[participantID], nil
}

// SendRollRequest implements transport.Transport. It returns once the hub
// has handed the request to the participant's connection.
func (c *Client) SendRollRequest(ctx context.Context, participantID string, req domain.RollRequest) error {
	env, err := transport.RequestEnvelope(c.id, participantID, req)
	if err != nil {
		return err
	}
	return c.relay(ctx, frameRollRequest, participantID, env)
}

// ReportRollResult implements transport.Transport.
func (c *Client) ReportRollResult(ctx context.Context, report domain.ResultReport) error {
	env, err := transport.ResultEnvelope(c.id, report)
	if err != nil {
		return err
	}
	return c.relay(ctx, frameRollResult, "coordinator", env)
}

func (c *Client) relay(ctx context.Context, frameType, target string, env transport.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	if _, err := c.call(ctx, frameType, json.RawMessage(data)); err != nil {
		if errors.Is(err, transport.ErrDeliveryFailure) {
			return err
		}
		return transport.DeliveryError(target, err)
	}
	return nil
}

// Create implements artifact.Store. A group roll that already has an
// artifact returns the existing id with an error matching
// artifact.ErrDuplicateGroupRoll.
func (c *Client) Create(ctx context.Context, content string, meta artifact.Metadata) (string, error) {
	result, err := c.artifactCall(ctx, frameArtifactCreate, artifactRequest{Content: content, Metadata: meta})
	if errors.Is(err, artifact.ErrDuplicateGroupRoll) {
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			return appErr.Metadata["artifact_id"], err
		}
	}
	if err != nil {
		return "", err
	}
	return result.ID, nil
}

// Update implements artifact.Store.
func (c *Client) Update(ctx context.Context, artifactID string, content string, meta artifact.Metadata) error {
	_, err := c.artifactCall(ctx, frameArtifactUpdate, artifactRequest{ID: artifactID, Content: content, Metadata: meta})
	return err
}

// UpdateIf implements artifact.Swapper. The hub checks the revision against
// its own store.
func (c *Client) UpdateIf(ctx context.Context, artifactID string, revision int64, content string, meta artifact.Metadata) error {
	_, err := c.artifactCall(ctx, frameArtifactUpdate, artifactRequest{
		ID:       artifactID,
		Revision: revision,
		Content:  content,
		Metadata: meta,
	})
	return err
}

// Get implements artifact.Store.
func (c *Client) Get(ctx context.Context, artifactID string) (artifact.Artifact, error) {
	result, err := c.artifactCall(ctx, frameArtifactGet, artifactRequest{ID: artifactID})
	if err != nil {
		return artifact.Artifact{}, err
	}
	if result.Artifact == nil {
		return artifact.Artifact{}, artifact.NotFoundError(artifactID)
	}
	return *result.Artifact, nil
}

// FindGroupRoll implements artifact.GroupRollFinder on the hub side.
func (c *Client) FindGroupRoll(ctx context.Context, groupRollID string) (artifact.Artifact, bool, error) {
	result, err := c.artifactCall(ctx, frameArtifactFind, artifactRequest{GroupRollID: groupRollID})
	if err != nil || !result.Found || result.Artifact == nil {
		return artifact.Artifact{}, false, err
	}
	return *result.Artifact, true, nil
}

// Find implements artifact.Store. Predicates cannot cross the wire, so it
// lists and filters locally.
func (c *Client) Find(ctx context.Context, match artifact.Predicate) (artifact.Artifact, bool, error) {
	all, err := c.List(ctx)
	if err != nil {
		return artifact.Artifact{}, false, err
	}
	for _, a := range all {
		if match(a) {
			return a, true, nil
		}
	}
	return artifact.Artifact{}, false, nil
}

// List implements artifact.Store.
func (c *Client) List(ctx context.Context) ([]artifact.Artifact, error) {
	result, err := c.artifactCall(ctx, frameArtifactList, artifactRequest{})
	if err != nil {
		return nil, err
	}
	return result.Artifacts, nil
}

// Delete implements artifact.Store.
func (c *Client) Delete(ctx context.Context, artifactID string) error {
	_, err := c.artifactCall(ctx, frameArtifactDelete, artifactRequest{ID: artifactID})
	return err
}

// Watch implements artifact.Watcher with the hub's change broadcasts.
func (c *Client) Watch(ctx context.Context) <-chan artifact.Change {
	return c.feed.Watch(ctx)
}

func (c *Client) artifactCall(ctx context.Context, frameType string, req artifactRequest) (artifactResult, error) {
	reply, err := c.call(ctx, frameType, req)
	if err != nil {
		return artifactResult{}, err
	}
	var result artifactResult
	if err := json.Unmarshal(reply, &result); err != nil {
		return artifactResult{}, fmt.Errorf("decode %s reply: %w", frameType, err)
	}
	return result, nil
}

// call writes one frame and waits for the reply carrying its request id.
func (c *Client) call(ctx context.Context, frameType string, payload any) (json.RawMessage, error) {
	requestID := strconv.FormatUint(c.seq.Add(1), 10)
	reply := make(chan wsFrame, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[requestID] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
	}()

	if err := c.peer.writeFrame(wsFrame{Type: frameType, RequestID: requestID, Payload: mustJSON(payload)}); err != nil {
		return nil, fmt.Errorf("write %s: %w", frameType, err)
	}
	select {
	case frame, ok := <-reply:
		if !ok {
			return nil, ErrClosed
		}
		if frame.Type == frameError {
			return nil, decodeError(frame.Payload)
		}
		return frame.Payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) readLoop() {
	defer c.workers.Done()
	defer c.shutdown()

	decoder := json.NewDecoder(c.conn)
	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			c.logger.Debug().Err(err).Msg("relay connection ended")
			return
		}
		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame wsFrame) {
	if frame.RequestID != "" {
		c.mu.Lock()
		reply, ok := c.pending[frame.RequestID]
		if ok {
			delete(c.pending, frame.RequestID)
		}
		c.mu.Unlock()
		if ok {
			reply <- frame
		}
		return
	}

	switch frame.Type {
	case frameRollRequest, frameRollResult:
		env, err := transport.DecodeEnvelope(frame.Payload)
		if err != nil {
			c.logger.Warn().Err(err).Msg("dropping malformed envelope")
			return
		}
		select {
		case c.inbox <- env:
		case <-c.baseCtx.Done():
		}
	case frameArtifactChanged:
		var change artifact.Change
		if err := json.Unmarshal(frame.Payload, &change); err != nil {
			c.logger.Warn().Err(err).Msg("dropping malformed artifact change")
			return
		}
		c.feed.Publish(change)
	case framePresence:
		var presence presencePayload
		if err := json.Unmarshal(frame.Payload, &presence); err != nil {
			return
		}
		c.mu.Lock()
		if presence.Online {
			c.online[presence.ParticipantID] = true
		} else {
			delete(c.online, presence.ParticipantID)
			if c.coordinatorID == presence.ParticipantID {
				c.coordinatorID = ""
			}
		}
		c.mu.Unlock()
	case frameError:
		c.logger.Warn().RawJSON("error", frame.Payload).Msg("hub reported an error")
	}
}

// shutdown fails pending calls and stops the dispatch loop.
func (c *Client) shutdown() {
	c.mu.Lock()
	c.closed = true
	for requestID, reply := range c.pending {
		close(reply)
		delete(c.pending, requestID)
	}
	c.mu.Unlock()
	close(c.inbox)
	close(c.done)
}

// dispatchLoop hands relayed envelopes to the handler one at a time, off
// the read loop so handlers can make store calls of their own.
func (c *Client) dispatchLoop() {
	defer c.workers.Done()
	for env := range c.inbox {
		if err := transport.Deliver(c.baseCtx, c.handler, env); err != nil {
			c.logger.Warn().
				Err(err).
				Str("kind", string(env.Kind)).
				Str("from", env.From).
				Msg("relayed envelope not handled")
		}
	}
}

var (
	_ transport.Transport      = (*Client)(nil)
	_ artifact.Store           = (*Client)(nil)
	_ artifact.GroupRollFinder = (*Client)(nil)
	_ artifact.Swapper         = (*Client)(nil)
	_ artifact.Watcher         = (*Client)(nil)
)

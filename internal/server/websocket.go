package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	eventbus "github.com/relaygraph/protograph/internal/eventbus"
	events "github.com/relaygraph/protograph/internal/events"
	executor "github.com/relaygraph/protograph/internal/executor"
	language "github.com/relaygraph/protograph/internal/language"
	reqid "github.com/relaygraph/protograph/internal/reqid"
	schema "github.com/relaygraph/protograph/internal/schema"
	"google.golang.org/grpc/metadata"
)

// graphql-ws message types. See
// https://github.com/enisdenjo/graphql-ws/blob/master/PROTOCOL.md.
const (
	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgSubscribe      = "subscribe"
	msgNext           = "data"
	msgComplete       = "complete"
	msgError          = "error"
	msgPing           = "ping"
	msgPong           = "pong"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsOutboundSize = 16
)

var wsUpgrader = websocket.Upgrader{
	Subprotocols:    []string{"graphql-ws"},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsMessage is the envelope shared by every graphql-ws protocol frame.
type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// wsHandler upgrades HTTP connections and speaks graphql-ws over them.
type wsHandler struct {
	exec            *executor.Executor
	metadataHeaders []string
	errorHook       func(ctx context.Context, err *executor.GraphQLError)
}

// NewWebSocketHandler returns an http.Handler serving GraphQL operations
// (queries, mutations, and subscriptions) over a graphql-ws WebSocket
// connection. Subscriptions stay open for the life of their source event
// stream; queries and mutations resolve once and send a single data frame
// followed by complete.
func NewWebSocketHandler(runtime executor.Runtime, sch *schema.Schema, metadataHeaders []string, opts ...Option) http.Handler {
	var op Options
	for _, f := range opts {
		f(&op)
	}
	return &wsHandler{
		exec:            executor.NewExecutor(runtime, sch),
		metadataHeaders: metadataHeaders,
		errorHook:       op.ErrorHook,
	}
}

func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s := &wsSession{
		conn:      conn,
		sessionID: uuid.NewString(),
		exec:      h.exec,
		baseMD:    h.requestMetadata(r),
		errorHook: h.errorHook,
		ops:       make(map[string]context.CancelFunc),
		outbound:  make(chan wsMessage, wsOutboundSize),
	}

	start := time.Now()
	eventbus.Publish(r.Context(), events.HTTPStart{Request: r})
	s.run(r.Context())
	eventbus.Publish(r.Context(), events.HTTPFinish{Request: r, Status: http.StatusSwitchingProtocols, Duration: time.Since(start)})
}

func (h *wsHandler) requestMetadata(r *http.Request) metadata.MD {
	md := metadata.MD{}
	if len(h.metadataHeaders) == 0 {
		return md
	}
	allowed := make(map[string]struct{}, len(h.metadataHeaders))
	for _, hdr := range h.metadataHeaders {
		allowed[strings.ToLower(hdr)] = struct{}{}
	}
	for k, v := range r.Header {
		if _, ok := allowed[strings.ToLower(k)]; ok {
			md[strings.ToLower(k)] = v
		}
	}
	return md
}

// wsSession tracks one upgraded connection's protocol state: which
// subscription ids are active, and a single outbound queue so exactly one
// goroutine ever writes to the socket while many operation goroutines may
// be producing data frames concurrently.
type wsSession struct {
	conn      *websocket.Conn
	sessionID string
	exec      *executor.Executor
	baseMD    metadata.MD
	errorHook func(ctx context.Context, err *executor.GraphQLError)

	cancel context.CancelFunc

	mu  sync.Mutex
	ops map[string]context.CancelFunc
	wg  sync.WaitGroup

	outbound chan wsMessage
}

func (s *wsSession) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	defer s.conn.Close()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx)
	}()

	initialized := false
	for {
		var msg wsMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			break
		}
		if s.handleMessage(ctx, &initialized, msg) {
			break
		}
	}

	cancel()
	s.cancelAll()
	s.wg.Wait()
	close(s.outbound)
	<-writerDone
}

// writeLoop is the connection's single writer. On a write failure it cancels
// the session (unblocking any op goroutine waiting to enqueue) and keeps
// draining outbound, unread, until run closes it.
func (s *wsSession) writeLoop(ctx context.Context) {
	for {
		select {
		case msg, ok := <-s.outbound:
			if !ok {
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.cancel()
				s.drainUntilClosed()
				return
			}
		case <-ctx.Done():
			s.drainUntilClosed()
			return
		}
	}
}

func (s *wsSession) drainUntilClosed() {
	for range s.outbound {
	}
}

func (s *wsSession) handleMessage(ctx context.Context, initialized *bool, msg wsMessage) (stop bool) {
	switch msg.Type {
	case msgConnectionInit:
		if *initialized {
			s.closeWith(websocket.CloseProtocolError, "too many initialisation requests")
			return true
		}
		*initialized = true
		s.enqueue(ctx, wsMessage{Type: msgConnectionAck})
	case msgPing:
		s.enqueue(ctx, wsMessage{Type: msgPong, Payload: msg.Payload})
	case msgPong:
		// Keepalive acknowledged; nothing to do.
	case msgSubscribe:
		if !*initialized {
			s.closeWith(websocket.CloseProtocolError, "unauthorized")
			return true
		}
		if s.handleSubscribe(ctx, msg) {
			return true
		}
	case msgComplete:
		s.cancelOp(msg.ID)
	default:
		s.closeWith(websocket.CloseUnsupportedData, "unknown message type: "+msg.Type)
		return true
	}
	return false
}

func (s *wsSession) closeWith(code int, text string) {
	deadline := time.Now().Add(wsWriteTimeout)
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}

// enqueue hands msg to the writer, or drops it if ctx is already done
// (connection tearing down). Backpressure: a full outbound queue blocks the
// calling operation goroutine until the writer drains it or the session
// ends, per the single-subscription-per-socket-id bounded-queue design.
func (s *wsSession) enqueue(ctx context.Context, msg wsMessage) {
	select {
	case s.outbound <- msg:
	case <-ctx.Done():
	}
}

// cancelOp cancels and forgets a single active operation id. Reused both for
// client-sent complete frames and for internal bookkeeping once an
// operation's goroutine finishes on its own.
func (s *wsSession) cancelOp(id string) {
	s.mu.Lock()
	cancel, ok := s.ops[id]
	if ok {
		delete(s.ops, id)
	}
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *wsSession) cancelAll() {
	s.mu.Lock()
	ops := s.ops
	s.ops = make(map[string]context.CancelFunc)
	s.mu.Unlock()
	for _, cancel := range ops {
		cancel()
	}
}

// handleSubscribe starts one GraphQL operation under a child context keyed
// by the client-given id. Reusing an id that is already active, or omitting
// one, is a connection-level protocol error (the id namespace is the
// connection's, not the server's) and closes the socket; a malformed
// payload or query for an otherwise well-formed id only fails that one
// operation via an error frame.
func (s *wsSession) handleSubscribe(ctx context.Context, msg wsMessage) (stop bool) {
	if msg.ID == "" {
		s.closeWith(websocket.CloseProtocolError, "subscribe requires an id")
		return true
	}

	s.mu.Lock()
	if _, active := s.ops[msg.ID]; active {
		s.mu.Unlock()
		s.closeWith(websocket.CloseProtocolError, "subscriber already exists with id: "+msg.ID)
		return true
	}
	opCtx, cancel := context.WithCancel(ctx)
	s.ops[msg.ID] = cancel
	s.mu.Unlock()

	var payload subscribePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		s.cancelOp(msg.ID)
		s.sendError(ctx, msg.ID, "invalid subscribe payload: "+err.Error())
		return false
	}

	opCtx, rid := reqid.NewContext(opCtx)
	md := s.baseMD.Copy()
	md["graphql-request-id"] = []string{strconv.FormatInt(rid, 10)}
	md["graphql-ws-session-id"] = []string{s.sessionID}
	opCtx = metadata.NewOutgoingContext(opCtx, md)

	doc, err := language.ParseQuery(payload.Query)
	if err != nil {
		s.cancelOp(msg.ID)
		s.sendError(ctx, msg.ID, err.Error())
		return false
	}

	opDef := doc.Operations.ForName(payload.OperationName)
	if opDef == nil && len(doc.Operations) == 1 {
		opDef = doc.Operations[0]
	}
	if opDef == nil {
		s.cancelOp(msg.ID)
		s.sendError(ctx, msg.ID, "operation not found")
		return false
	}

	s.wg.Add(1)
	if opDef.Operation == language.Subscription {
		go s.runSubscription(ctx, opCtx, msg.ID, doc, payload, string(opDef.Operation))
	} else {
		go s.runSingle(ctx, opCtx, msg.ID, doc, payload, string(opDef.Operation))
	}
	return false
}

func (s *wsSession) runSubscription(connCtx, opCtx context.Context, id string, doc *language.QueryDocument, payload subscribePayload, opType string) {
	defer s.wg.Done()
	defer s.cancelOp(id)

	start := time.Now()
	eventbus.Publish(opCtx, events.GraphQLStart{Query: payload.Query, OperationName: payload.OperationName, OperationType: opType})

	stream, err := s.exec.ExecuteSubscription(opCtx, doc, payload.OperationName, payload.Variables)
	if err != nil {
		s.sendError(connCtx, id, err.Error())
		eventbus.Publish(opCtx, events.GraphQLFinish{Query: payload.Query, OperationName: payload.OperationName, OperationType: opType, Errors: []error{err}, Duration: time.Since(start)})
		return
	}

	var errs []error
	for {
		select {
		case <-opCtx.Done():
			eventbus.Publish(opCtx, events.GraphQLFinish{Query: payload.Query, OperationName: payload.OperationName, OperationType: opType, Errors: errs, Duration: time.Since(start)})
			return
		case result, ok := <-stream:
			if !ok {
				s.enqueue(connCtx, wsMessage{ID: id, Type: msgComplete})
				eventbus.Publish(opCtx, events.GraphQLFinish{Query: payload.Query, OperationName: payload.OperationName, OperationType: opType, Errors: errs, Duration: time.Since(start)})
				return
			}
			for i := range result.Errors {
				errs = append(errs, result.Errors[i])
			}
			s.sendData(connCtx, id, result)
		}
	}
}

func (s *wsSession) runSingle(connCtx, opCtx context.Context, id string, doc *language.QueryDocument, payload subscribePayload, opType string) {
	defer s.wg.Done()
	defer s.cancelOp(id)

	start := time.Now()
	eventbus.Publish(opCtx, events.GraphQLStart{Query: payload.Query, OperationName: payload.OperationName, OperationType: opType})
	result := s.exec.ExecuteRequest(opCtx, doc, payload.OperationName, payload.Variables, nil)
	errs := make([]error, len(result.Errors))
	for i := range result.Errors {
		errs[i] = result.Errors[i]
	}
	eventbus.Publish(opCtx, events.GraphQLFinish{Query: payload.Query, OperationName: payload.OperationName, OperationType: opType, Errors: errs, Duration: time.Since(start)})

	s.sendData(connCtx, id, result)
	s.enqueue(connCtx, wsMessage{ID: id, Type: msgComplete})
}

func (s *wsSession) sendData(ctx context.Context, id string, result *executor.ExecutionResult) {
	applyErrorHook(ctx, s.errorHook, result)
	payload, err := json.Marshal(toSpecResult(result))
	if err != nil {
		s.sendError(ctx, id, err.Error())
		return
	}
	s.enqueue(ctx, wsMessage{ID: id, Type: msgNext, Payload: payload})
}

func (s *wsSession) sendError(ctx context.Context, id string, message string) {
	payload, _ := json.Marshal([]specError{{Message: message}})
	s.enqueue(ctx, wsMessage{ID: id, Type: msgError, Payload: payload})
}

package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Handler implements the agent side of the ACP methods the Server dispatches.
type Handler interface {
	Initialize(ctx context.Context, params InitializeParams) (InitializeResult, error)
	Authenticate(ctx context.Context, params AuthenticateParams) error
	NewSession(ctx context.Context, params NewSessionParams) (NewSessionResult, error)
	LoadSession(ctx context.Context, params LoadSessionParams) error
	Prompt(ctx context.Context, params PromptParams, updates func(SessionUpdateParams)) (PromptResult, error)
	Cancel(ctx context.Context, params CancelParams) error
	SetSessionMode(ctx context.Context, params SetSessionModeParams) error
}

// Server is a line-delimited JSON-RPC 2.0 duplex: it reads requests from
// an io.Reader and writes responses/notifications to an io.Writer, the
// agent acting as the RPC server instead of the client side MCP plays.
type Server struct {
	in      *bufio.Scanner
	out     io.Writer
	outMu   sync.Mutex
	handler Handler
	logger  *slog.Logger

	cancels   map[string]context.CancelFunc
	cancelsMu sync.Mutex

	pending   map[int64]chan *RequestPermissionResult
	pendingMu sync.Mutex
	nextOutID atomic.Int64
}

// NewServer creates a Server that reads line-delimited JSON-RPC from r and
// writes responses/notifications to w.
func NewServer(r io.Reader, w io.Writer, handler Handler, logger *slog.Logger) *Server {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		in:      scanner,
		out:     w,
		handler: handler,
		logger:  logger.With("component", "acp"),
		cancels: make(map[string]context.CancelFunc),
		pending: make(map[int64]chan *RequestPermissionResult),
	}
}

// Serve reads requests until EOF or ctx is cancelled, dispatching each to
// the configured Handler. One goroutine per request, so a long-running
// prompt doesn't block session/update delivery for other sessions.
func (s *Server) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for s.in.Scan() {
		line := s.in.Bytes()
		if len(line) == 0 {
			continue
		}
		raw := append([]byte(nil), line...)

		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			s.writeError(nil, ErrCodeParseError, "parse error: "+err.Error())
			continue
		}

		if req.ID == nil {
			// It's either our own permission-response notification in disguise,
			// or a client notification we don't otherwise act on.
			s.handleClientResponse(raw)
			continue
		}

		wg.Add(1)
		go func(req Request) {
			defer wg.Done()
			s.dispatch(ctx, req)
		}(req)
	}
	if err := s.in.Err(); err != nil {
		return fmt.Errorf("acp: read loop: %w", err)
	}
	return nil
}

func (s *Server) handleClientResponse(raw []byte) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Result == nil {
		return
	}
	var id int64
	if err := json.Unmarshal(resp.ID, &id); err != nil {
		return
	}
	var result RequestPermissionResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return
	}
	s.pendingMu.Lock()
	ch, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.pendingMu.Unlock()
	if ok {
		ch <- &result
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) {
	switch req.Method {
	case "initialize":
		s.handle(ctx, req, func(ctx context.Context) (interface{}, error) {
			var p InitializeParams
			if err := unmarshalParams(req.Params, &p); err != nil {
				return nil, err
			}
			return s.handler.Initialize(ctx, p)
		})
	case "authenticate":
		s.handle(ctx, req, func(ctx context.Context) (interface{}, error) {
			var p AuthenticateParams
			if err := unmarshalParams(req.Params, &p); err != nil {
				return nil, err
			}
			return nil, s.handler.Authenticate(ctx, p)
		})
	case "session/new":
		s.handle(ctx, req, func(ctx context.Context) (interface{}, error) {
			var p NewSessionParams
			if err := unmarshalParams(req.Params, &p); err != nil {
				return nil, err
			}
			return s.handler.NewSession(ctx, p)
		})
	case "session/load":
		s.handle(ctx, req, func(ctx context.Context) (interface{}, error) {
			var p LoadSessionParams
			if err := unmarshalParams(req.Params, &p); err != nil {
				return nil, err
			}
			return nil, s.handler.LoadSession(ctx, p)
		})
	case "session/prompt":
		s.handlePrompt(ctx, req)
	case "session/cancel":
		s.handle(ctx, req, func(ctx context.Context) (interface{}, error) {
			var p CancelParams
			if err := unmarshalParams(req.Params, &p); err != nil {
				return nil, err
			}
			s.cancelSession(p.SessionID)
			return nil, s.handler.Cancel(ctx, p)
		})
	case "session/setMode":
		s.handle(ctx, req, func(ctx context.Context) (interface{}, error) {
			var p SetSessionModeParams
			if err := unmarshalParams(req.Params, &p); err != nil {
				return nil, err
			}
			return nil, s.handler.SetSessionMode(ctx, p)
		})
	default:
		s.writeError(req.ID, ErrCodeMethodNotFound, "method not found: "+req.Method)
	}
}

func (s *Server) handlePrompt(ctx context.Context, req Request) {
	var params PromptParams
	if err := unmarshalParams(req.Params, &params); err != nil {
		s.writeError(req.ID, ErrCodeInvalidParams, err.Error())
		return
	}

	turnCtx, cancel := context.WithCancel(ctx)
	s.cancelsMu.Lock()
	s.cancels[params.SessionID] = cancel
	s.cancelsMu.Unlock()
	defer func() {
		s.cancelsMu.Lock()
		delete(s.cancels, params.SessionID)
		s.cancelsMu.Unlock()
		cancel()
	}()

	result, err := s.handler.Prompt(turnCtx, params, func(update SessionUpdateParams) {
		s.notify("session/update", update)
	})
	if err != nil {
		s.writeError(req.ID, ErrCodeInternalError, err.Error())
		return
	}
	s.writeResult(req.ID, result)
}

func (s *Server) cancelSession(sessionID string) {
	s.cancelsMu.Lock()
	cancel, ok := s.cancels[sessionID]
	s.cancelsMu.Unlock()
	if ok {
		cancel()
	}
}

func (s *Server) handle(ctx context.Context, req Request, fn func(context.Context) (interface{}, error)) {
	result, err := fn(ctx)
	if err != nil {
		s.writeError(req.ID, ErrCodeInternalError, err.Error())
		return
	}
	s.writeResult(req.ID, result)
}

// RequestPermission asks the client (agent->client direction) to approve a
// pending tool call, blocking until the client answers or ctx is done.
func (s *Server) RequestPermission(ctx context.Context, params RequestPermissionParams) (*RequestPermissionResult, error) {
	id := s.nextOutID.Add(1)
	ch := make(chan *RequestPermissionResult, 1)
	s.pendingMu.Lock()
	s.pending[id] = ch
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	payload, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	idJSON, _ := json.Marshal(id)
	req := Request{JSONRPC: "2.0", ID: idJSON, Method: "session/requestPermission", Params: payload}
	if err := s.write(req); err != nil {
		return nil, err
	}

	select {
	case result := <-ch:
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Server) notify(method string, params interface{}) {
	payload, err := json.Marshal(params)
	if err != nil {
		s.logger.Error("marshal notification params", "method", method, "error", err)
		return
	}
	if err := s.write(Notification{JSONRPC: "2.0", Method: method, Params: payload}); err != nil {
		s.logger.Error("write notification", "method", method, "error", err)
	}
}

func (s *Server) writeResult(id json.RawMessage, result interface{}) {
	payload, err := json.Marshal(result)
	if err != nil {
		s.writeError(id, ErrCodeInternalError, "marshal result: "+err.Error())
		return
	}
	if err := s.write(Response{JSONRPC: "2.0", ID: id, Result: payload}); err != nil {
		s.logger.Error("write response", "error", err)
	}
}

func (s *Server) writeError(id json.RawMessage, code int, message string) {
	if err := s.write(Response{JSONRPC: "2.0", ID: id, Error: &Error{Code: code, Message: message}}); err != nil {
		s.logger.Error("write error response", "error", err)
	}
}

func (s *Server) write(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

func unmarshalParams(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// Package rpc serves completions to editor extensions as JSON-RPC 2.0 over
// a stream, framed with Content-Length headers as language servers are.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/koustreak/cosbrowser/internal/completion"
	"github.com/koustreak/cosbrowser/internal/config"
	"github.com/koustreak/cosbrowser/internal/logger"
)

// Method names.
const (
	MethodInitialize   = "initialize"
	MethodComplete     = "cosbrowser/complete"
	MethodResolve      = "cosbrowser/resolve"
	MethodRefreshCache = "cosbrowser/refreshCache"
	MethodDidChange    = "workspace/didChangeConfiguration"
	MethodPing         = "ping"
	MethodShutdown     = "shutdown"
)

// InitializeResult tells the client when to ask for completions.
type InitializeResult struct {
	TriggerCharacters []string   `json:"triggerCharacters"`
	Languages         []string   `json:"languages"`
	ServerInfo        ServerInfo `json:"serverInfo"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// CompleteResult wraps the candidates of one request.
type CompleteResult struct {
	Items []completion.Item `json:"items"`
}

// Settings is the payload of workspace/didChangeConfiguration. Fields use
// the editor's camelCase names; cacheTimeout is in milliseconds.
type Settings struct {
	*config.Config
	CacheTimeout *float64 `json:"cacheTimeout,omitempty"`
}

type didChangeParams struct {
	Settings json.RawMessage `json:"settings"`
}

// Server dispatches JSON-RPC calls to a completion engine.
type Server struct {
	engine  *completion.Engine
	version string
	log     *logger.Logger

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

// NewServer returns a Server for engine.
func NewServer(engine *completion.Engine, version string, log *logger.Logger) *Server {
	return &Server{
		engine:   engine,
		version:  version,
		log:      logger.OrGlobal(log).Component("rpc"),
		shutdown: make(chan struct{}),
	}
}

// Handle processes one request or notification.
func (s *Server) Handle(ctx context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	switch req.Method {
	case MethodInitialize:
		return InitializeResult{
			TriggerCharacters: completion.TriggerCharacters,
			Languages:         completion.SupportedLanguages,
			ServerInfo:        ServerInfo{Name: "cosbrowser", Version: s.version},
		}, nil

	case MethodComplete:
		var params completion.Request
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		items := s.engine.Complete(ctx, params)
		if items == nil {
			items = []completion.Item{}
		}
		return CompleteResult{Items: items}, nil

	case MethodResolve:
		var item completion.Item
		if err := decodeParams(req, &item); err != nil {
			return nil, err
		}
		return s.engine.Resolve(ctx, item), nil

	case MethodRefreshCache:
		s.engine.RefreshCache()
		return map[string]string{"status": "ok"}, nil

	case MethodDidChange:
		cfg, err := s.settings(req)
		if err != nil {
			return nil, err
		}
		s.engine.UpdateConfig(cfg)
		s.log.InfoWith("configuration changed", map[string]interface{}{"config": cfg.Describe()})
		return nil, nil

	case MethodPing:
		return map[string]string{"status": "ok"}, nil

	case MethodShutdown:
		return nil, nil

	default:
		return nil, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeMethodNotFound,
			Message: fmt.Sprintf("method not found: %s", req.Method),
		}
	}
}

// settings decodes a configuration change over the defaults, so keys the
// client omits fall back to their default values.
func (s *Server) settings(req *jsonrpc2.Request) (*config.Config, error) {
	var params didChangeParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	if len(params.Settings) == 0 {
		return nil, invalidParams("missing settings")
	}

	st := Settings{Config: config.Default()}
	if err := json.Unmarshal(params.Settings, &st); err != nil {
		return nil, invalidParams("invalid settings: " + err.Error())
	}
	if st.CacheTimeout != nil {
		st.Config.CacheTimeout = time.Duration(*st.CacheTimeout * float64(time.Millisecond))
	}
	return st.Config, nil
}

// Handler returns the jsonrpc2 handler for s. Requests run concurrently,
// so a slow listing does not hold up preview resolution.
func (s *Server) Handler() jsonrpc2.Handler {
	return jsonrpc2.AsyncHandler(&shutdownHandler{
		inner:  jsonrpc2.HandlerWithError(s.Handle).SuppressErrClosed(),
		server: s,
	})
}

// shutdownHandler signals shutdown only after the reply is on the wire.
type shutdownHandler struct {
	inner  jsonrpc2.Handler
	server *Server
}

func (h *shutdownHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	h.inner.Handle(ctx, conn, req)
	if req.Method == MethodShutdown {
		h.server.shutdownOnce.Do(func() { close(h.server.shutdown) })
	}
}

// Serve runs the protocol over rwc until the peer disconnects, a shutdown
// request is handled or ctx is done.
func (s *Server) Serve(ctx context.Context, rwc io.ReadWriteCloser) error {
	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
	conn := jsonrpc2.NewConn(ctx, stream, s.Handler(), jsonrpc2.SetLogger(connLogger{s.log}))

	s.log.Info("rpc session started")
	defer s.log.Info("rpc session ended")

	select {
	case <-conn.DisconnectNotify():
		return nil
	case <-s.shutdown:
	case <-ctx.Done():
	}
	return conn.Close()
}

// Stdio returns the process stdin and stdout as one stream. Closing it
// leaves both open.
func Stdio() io.ReadWriteCloser {
	return stdio{}
}

type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdio) Close() error                { return nil }

type connLogger struct{ log *logger.Logger }

func (l connLogger) Printf(format string, v ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func decodeParams(req *jsonrpc2.Request, v interface{}) error {
	if req.Params == nil || string(*req.Params) == "null" {
		return invalidParams("missing parameters")
	}
	if err := json.Unmarshal(*req.Params, v); err != nil {
		return invalidParams(fmt.Sprintf("invalid %s parameters: %v", req.Method, err))
	}
	return nil
}

func invalidParams(msg string) *jsonrpc2.Error {
	return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: msg}
}

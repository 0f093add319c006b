package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/cosbrowser/internal/completion"
	"github.com/koustreak/cosbrowser/internal/config"
	"github.com/koustreak/cosbrowser/internal/filestore"
	"github.com/koustreak/cosbrowser/internal/filestore/filestoretest"
	"github.com/koustreak/cosbrowser/internal/logger"
)

type session struct {
	client *jsonrpc2.Conn
	store  *filestoretest.Store
	engine *completion.Engine
	done   chan error
}

func testConfig() *config.Config {
	c := config.Default()
	c.Enabled = true
	c.SecretID = "AKIDtest"
	c.SecretKey = "secret"
	c.Bucket = "assets-1250000000"
	c.CDNDomain = "https://cdn.example.com"
	c.ListRate = 0
	return c
}

func startSession(t *testing.T) *session {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := filestoretest.New(map[string]int64{
		"img/logo.png":    2048,
		"img/icons/a.svg": 10,
		"readme.txt":      12,
	})
	engine := completion.New(testConfig(), completion.Options{
		Open: func(context.Context, *filestore.Config) (filestore.Store, error) {
			return store, nil
		},
		Logger: logger.Nop(),
	})
	srv := NewServer(engine, "1.2.3", logger.Nop())

	serverSide, clientSide := net.Pipe()
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, serverSide) }()

	client := jsonrpc2.NewConn(ctx,
		jsonrpc2.NewBufferedStream(clientSide, jsonrpc2.VSCodeObjectCodec{}),
		jsonrpc2.HandlerWithError(func(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) (interface{}, error) {
			return nil, nil
		}),
	)
	t.Cleanup(func() { _ = client.Close() })

	return &session{client: client, store: store, engine: engine, done: done}
}

func call(t *testing.T, s *session, method string, params, result interface{}) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Call(ctx, method, params, result)
}

func TestInitialize(t *testing.T) {
	s := startSession(t)

	var res InitializeResult
	require.NoError(t, call(t, s, MethodInitialize, map[string]interface{}{}, &res))
	assert.Equal(t, []string{`"`, `'`, "/", "("}, res.TriggerCharacters)
	assert.Contains(t, res.Languages, "vue")
	assert.Equal(t, ServerInfo{Name: "cosbrowser", Version: "1.2.3"}, res.ServerInfo)
}

func TestComplete(t *testing.T) {
	s := startSession(t)

	var res CompleteResult
	require.NoError(t, call(t, s, MethodComplete, completion.Request{Line: `<img src="img/`, LanguageID: "html"}, &res))
	require.Len(t, res.Items, 2)
	assert.Equal(t, "icons/", res.Items[0].Label)
	assert.Equal(t, "https://cdn.example.com/img/logo.png", res.Items[1].InsertText)
	assert.Equal(t, completion.KindImage, res.Items[1].Kind)

	require.NoError(t, call(t, s, MethodComplete, completion.Request{Line: `let x = 1`, LanguageID: "html"}, &res))
	assert.NotNil(t, res.Items)
	assert.Empty(t, res.Items)
}

func TestResolve(t *testing.T) {
	img := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png"))
	}))
	defer img.Close()

	s := startSession(t)

	var item completion.Item
	require.NoError(t, call(t, s, MethodResolve, completion.Item{Label: "a.png", Kind: completion.KindImage, ImageURL: img.URL + "/a.png"}, &item))
	assert.Equal(t, "**Image preview**\n\n![preview](data:image/png;base64,cG5n)", item.Documentation)
}

func TestRefreshCache(t *testing.T) {
	s := startSession(t)
	req := completion.Request{Line: `<img src="`, LanguageID: "html"}

	var res CompleteResult
	require.NoError(t, call(t, s, MethodComplete, req, &res))
	require.NoError(t, call(t, s, MethodComplete, req, &res))
	assert.Equal(t, 1, s.store.Pages())

	var status map[string]string
	require.NoError(t, call(t, s, MethodRefreshCache, nil, &status))
	assert.Equal(t, "ok", status["status"])

	require.NoError(t, call(t, s, MethodComplete, req, &res))
	assert.Equal(t, 2, s.store.Pages())
}

func TestDidChangeConfiguration(t *testing.T) {
	s := startSession(t)

	settings := map[string]interface{}{
		"settings": map[string]interface{}{
			"enabled":       true,
			"secretId":      "AKIDtest",
			"secretKey":     "secret",
			"bucket":        "assets-1250000000",
			"cdnDomain":     "https://img.example.com/",
			"defaultPrefix": "img/",
			"cacheTimeout":  60000,
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.client.Notify(ctx, MethodDidChange, settings))

	// Notifications have no reply; a later call orders after it only
	// when the change has been applied, so poll.
	assert.Eventually(t, func() bool {
		return s.engine.Config().CDNDomain == "https://img.example.com/"
	}, 2*time.Second, 10*time.Millisecond)

	cfg := s.engine.Config()
	assert.Equal(t, time.Minute, cfg.CacheTimeout)
	assert.Equal(t, "ap-shanghai", cfg.Region, "omitted keys use defaults")
	assert.Equal(t, "img/", cfg.DefaultPrefix)
}

func TestErrors(t *testing.T) {
	s := startSession(t)

	var rpcErr *jsonrpc2.Error

	err := call(t, s, "cosbrowser/unknown", nil, nil)
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, int64(jsonrpc2.CodeMethodNotFound), rpcErr.Code)

	err = call(t, s, MethodComplete, nil, nil)
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, int64(jsonrpc2.CodeInvalidParams), rpcErr.Code)

	err = call(t, s, MethodResolve, json.RawMessage(`{"label": 5}`), nil)
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, int64(jsonrpc2.CodeInvalidParams), rpcErr.Code)

	err = call(t, s, MethodDidChange, map[string]interface{}{}, nil)
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, int64(jsonrpc2.CodeInvalidParams), rpcErr.Code)
}

func TestPingAndShutdown(t *testing.T) {
	s := startSession(t)

	var pong map[string]string
	require.NoError(t, call(t, s, MethodPing, nil, &pong))
	assert.Equal(t, "ok", pong["status"])

	require.NoError(t, call(t, s, MethodShutdown, nil, nil))

	select {
	case err := <-s.done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop after shutdown")
	}
}

func TestServeStopsOnDisconnect(t *testing.T) {
	s := startSession(t)
	require.NoError(t, s.client.Close())

	select {
	case err := <-s.done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop after disconnect")
	}
}

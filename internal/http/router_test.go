package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/ondrasimku/tg-file-relay/internal/config"
	"github.com/ondrasimku/tg-file-relay/internal/content/cdn"
	"github.com/ondrasimku/tg-file-relay/internal/http/handler"
	"github.com/ondrasimku/tg-file-relay/internal/relay"
	"github.com/ondrasimku/tg-file-relay/internal/telegram"
)

const (
	testToken  = "123456:TEST-token"
	testFileID = "BQACAgIAAxkBAAIBQ2Zx"
)

type fakeTelegram struct {
	server    *httptest.Server
	getFile   http.HandlerFunc
	file      http.HandlerFunc
	metaCalls atomic.Int32
	fileCalls atomic.Int32
}

func newFakeTelegram(t *testing.T, getFile, file http.HandlerFunc) *fakeTelegram {
	t.Helper()
	ft := &fakeTelegram{getFile: getFile, file: file}
	ft.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/bot"+testToken+"/getFile":
			ft.metaCalls.Add(1)
			ft.getFile(w, r)
		case strings.HasPrefix(r.URL.Path, "/file/bot"+testToken+"/"):
			ft.fileCalls.Add(1)
			ft.file(w, r)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ft.server.Close)
	return ft
}

func getFileJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func okPath(path string) http.HandlerFunc {
	return getFileJSON(`{"ok":true,"result":{"file_id":"` + testFileID + `","file_unique_id":"AgADQ2Zx","file_path":"` + path + `"}}`)
}

func testConfig() *config.Config {
	return &config.Config{
		Relay: config.RelayConfig{
			MetadataTimeout:    2 * time.Second,
			ContentTimeout:     2 * time.Second,
			DefaultFilename:    "download.apk",
			DefaultContentType: "application/vnd.android.package-archive",
			AllowOrigin:        "*",
		},
	}
}

func newTestRouter(t *testing.T, ft *fakeTelegram, cfg *config.Config) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	resolver, err := telegram.NewResolver(testToken, ft.server.URL)
	require.NoError(t, err)
	source, err := cdn.NewCDNSource(resolver.FileBaseURL(), ft.server.Client())
	require.NoError(t, err)

	r := relay.New(resolver, source, relay.Options{
		MetadataTimeout:    cfg.Relay.MetadataTimeout,
		ContentTimeout:     cfg.Relay.ContentTimeout,
		DefaultFilename:    cfg.Relay.DefaultFilename,
		DefaultContentType: cfg.Relay.DefaultContentType,
	}, logger)

	return NewRouter(r, cfg, logger)
}

func get(router http.Handler, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) handler.ErrorResponse {
	t.Helper()
	var resp handler.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestRouter_Download_RoundTrip(t *testing.T) {
	req := require.New(t)
	payload := bytes.Repeat([]byte("0123456789abcdef"), 16*1024)

	var gotPath atomic.Value
	ft := newFakeTelegram(t, okPath("documents/file_7.apk"), func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(payload)
	})

	w := get(newTestRouter(t, ft, testConfig()), "/download?file_id="+testFileID, nil)

	req.Equal(http.StatusOK, w.Code)
	req.Equal(payload, w.Body.Bytes())
	req.Equal("application/zip", w.Header().Get("Content-Type"))
	req.Equal(`attachment; filename="file_7.apk"`, w.Header().Get("Content-Disposition"))
	req.Equal("*", w.Header().Get("Access-Control-Allow-Origin"))
	req.Equal("/file/bot"+testToken+"/documents/file_7.apk", gotPath.Load())
	req.Equal(int32(1), ft.metaCalls.Load())
	req.Equal(int32(1), ft.fileCalls.Load())
}

func TestRouter_Download_Filename(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"app.apk", "documents/file_7.apk", "app.apk"},
		{"", "documents/file_7.apk", "file_7.apk"},
		{"", "documents/", "download.apk"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			req := require.New(t)
			ft := newFakeTelegram(t, okPath(tt.path), func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("bytes"))
			})

			target := "/download?file_id=" + testFileID
			if tt.name != "" {
				target += "&name=" + tt.name
			}
			w := get(newTestRouter(t, ft, testConfig()), target, nil)

			req.Equal(http.StatusOK, w.Code)
			req.Equal(`attachment; filename="`+tt.want+`"`, w.Header().Get("Content-Disposition"))
		})
	}
}

func TestRouter_Download_NonASCIIFilename(t *testing.T) {
	req := require.New(t)
	ft := newFakeTelegram(t, okPath("documents/file_7.apk"), func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("bytes"))
	})

	w := get(newTestRouter(t, ft, testConfig()), "/download?file_id="+testFileID+"&name=%C3%BCber.apk", nil)

	req.Equal(http.StatusOK, w.Code)
	req.Equal(`attachment; filename="_ber.apk"; filename*=UTF-8''%C3%BCber.apk`, w.Header().Get("Content-Disposition"))
}

func TestRouter_Download_DefaultContentType(t *testing.T) {
	req := require.New(t)
	ft := newFakeTelegram(t, okPath("documents/file_7.apk"), func(w http.ResponseWriter, r *http.Request) {
		// A nil value stops net/http from sniffing a type.
		w.Header()["Content-Type"] = nil
		_, _ = w.Write([]byte("bytes"))
	})

	w := get(newTestRouter(t, ft, testConfig()), "/download?file_id="+testFileID, nil)

	req.Equal(http.StatusOK, w.Code)
	req.Equal("application/vnd.android.package-archive", w.Header().Get("Content-Type"))
	req.Equal("bytes", w.Body.String())
}

func TestRouter_Download_InvalidIdentifier(t *testing.T) {
	for _, target := range []string{"/download", "/download?file_id=", "/download?file_id=123456789"} {
		t.Run(target, func(t *testing.T) {
			req := require.New(t)
			ft := newFakeTelegram(t, nil, nil)

			w := get(newTestRouter(t, ft, testConfig()), target, nil)

			req.Equal(http.StatusBadRequest, w.Code)
			req.Equal("Missing or invalid file_id", decodeError(t, w).Error)
			req.Zero(ft.metaCalls.Load())
			req.Zero(ft.fileCalls.Load())
		})
	}
}

func TestRouter_Download_MetadataFailures(t *testing.T) {
	req := require.New(t)

	notOK := newFakeTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: invalid file_id"}`))
	}, nil)
	w := get(newTestRouter(t, notOK, testConfig()), "/download?file_id="+testFileID, nil)
	req.Equal(http.StatusBadGateway, w.Code)
	notOKReason := decodeError(t, w).Error
	req.Zero(notOK.fileCalls.Load())

	noPath := newFakeTelegram(t, getFileJSON(`{"ok":true,"result":{}}`), nil)
	w = get(newTestRouter(t, noPath, testConfig()), "/download?file_id="+testFileID, nil)
	req.Equal(http.StatusBadGateway, w.Code)
	noPathReason := decodeError(t, w).Error
	req.Zero(noPath.fileCalls.Load())

	req.NotEqual(notOKReason, noPathReason)
	req.NotContains(w.Body.String(), testToken)
}

func TestRouter_Download_MetadataTimeout(t *testing.T) {
	req := require.New(t)
	aborted := make(chan struct{})

	ft := newFakeTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		// The server only notices a closed connection once the body is consumed.
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
			close(aborted)
		case <-time.After(5 * time.Second):
		}
	}, nil)

	cfg := testConfig()
	cfg.Relay.MetadataTimeout = 50 * time.Millisecond
	w := get(newTestRouter(t, ft, cfg), "/download?file_id="+testFileID, nil)

	req.Equal(http.StatusGatewayTimeout, w.Code)
	req.Equal("metadata", decodeError(t, w).Details)
	req.Zero(ft.fileCalls.Load())

	select {
	case <-aborted:
	case <-time.After(2 * time.Second):
		t.Fatal("getFile request was not aborted")
	}
}

func TestRouter_Download_ContentTimeout(t *testing.T) {
	req := require.New(t)

	ft := newFakeTelegram(t, okPath("documents/file_7.apk"), func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})

	cfg := testConfig()
	cfg.Relay.ContentTimeout = 50 * time.Millisecond
	w := get(newTestRouter(t, ft, cfg), "/download?file_id="+testFileID, nil)

	req.Equal(http.StatusGatewayTimeout, w.Code)
	req.Equal("content", decodeError(t, w).Details)
}

func TestRouter_Download_ContentRejected(t *testing.T) {
	req := require.New(t)

	ft := newFakeTelegram(t, okPath("documents/file_7.apk"), func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("secret payload"))
	})

	w := get(newTestRouter(t, ft, testConfig()), "/download?file_id="+testFileID, nil)

	req.Equal(http.StatusBadGateway, w.Code)
	req.NotContains(w.Body.String(), "secret payload")
	req.Empty(w.Header().Get("Content-Disposition"))
	req.Equal("upstream status 404", decodeError(t, w).Details)
}

func TestRouter_Download_Unreachable(t *testing.T) {
	dropConn := func(w http.ResponseWriter, r *http.Request) {
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			conn.Close()
		}
	}

	tests := []struct {
		name    string
		getFile http.HandlerFunc
		file    http.HandlerFunc
		stage   string
	}{
		{"metadata host", dropConn, nil, "metadata"},
		{"content host", okPath("documents/file_7.apk"), dropConn, "content"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			ft := newFakeTelegram(t, tt.getFile, tt.file)

			w := get(newTestRouter(t, ft, testConfig()), "/download?file_id="+testFileID, nil)

			req.Equal(http.StatusBadGateway, w.Code)
			resp := decodeError(t, w)
			req.Equal("Telegram unreachable", resp.Error)
			req.Equal(tt.stage, resp.Details)
			req.NotContains(w.Body.String(), testToken)
			req.Empty(w.Header().Get("Content-Disposition"))
		})
	}
}

func TestRouter_Download_ClientDisconnect(t *testing.T) {
	req := require.New(t)
	aborted := make(chan struct{})

	ft := newFakeTelegram(t, okPath("documents/file_7.apk"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(bytes.Repeat([]byte("x"), 64*1024))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
			close(aborted)
		case <-time.After(5 * time.Second):
		}
	})

	relaySrv := httptest.NewServer(newTestRouter(t, ft, testConfig()))
	defer relaySrv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, relaySrv.URL+"/download?file_id="+testFileID, nil)
	req.NoError(err)

	resp, err := relaySrv.Client().Do(r)
	req.NoError(err)
	req.Equal(http.StatusOK, resp.StatusCode)

	_, err = io.ReadFull(resp.Body, make([]byte, 1024))
	req.NoError(err)
	cancel()
	resp.Body.Close()

	select {
	case <-aborted:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream read was not aborted after client disconnect")
	}
}

func TestRouter_APIKey(t *testing.T) {
	req := require.New(t)
	ft := newFakeTelegram(t, okPath("documents/file_7.apk"), func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("bytes"))
	})

	cfg := testConfig()
	cfg.Auth.APIKey = "s3cr3t"
	router := newTestRouter(t, ft, cfg)

	w := get(router, "/download?file_id="+testFileID, nil)
	req.Equal(http.StatusUnauthorized, w.Code)
	req.Zero(ft.metaCalls.Load())

	w = get(router, "/download?file_id="+testFileID, http.Header{"X-Api-Key": {"s3cr3t"}})
	req.Equal(http.StatusOK, w.Code)

	w = get(router, "/download?apikey=s3cr3t&file_id="+testFileID, nil)
	req.Equal(http.StatusOK, w.Code)

	w = get(router, "/healthz", nil)
	req.Equal(http.StatusOK, w.Code)
}

func TestRouter_RateLimit(t *testing.T) {
	req := require.New(t)
	cfg := testConfig()
	cfg.Auth.RateLimitPerMinute = 1
	router := newTestRouter(t, newFakeTelegram(t, nil, nil), cfg)

	w := get(router, "/download?file_id=short", nil)
	req.Equal(http.StatusBadRequest, w.Code)

	w = get(router, "/download?file_id=short", nil)
	req.Equal(http.StatusTooManyRequests, w.Code)
	req.Equal("60", w.Header().Get("Retry-After"))
}

func TestRouter_StaticEndpoints(t *testing.T) {
	req := require.New(t)
	router := newTestRouter(t, newFakeTelegram(t, nil, nil), testConfig())

	w := get(router, "/", nil)
	req.Equal(http.StatusOK, w.Code)
	req.Equal("TG APK proxy is running", w.Body.String())
	req.Equal("nosniff", w.Header().Get("X-Content-Type-Options"))
	req.NotEmpty(w.Header().Get("X-Request-Id"))

	w = get(router, "/healthz", nil)
	req.Equal(http.StatusOK, w.Code)
	req.JSONEq(`{"status":"ok"}`, w.Body.String())

	const id = "6f1c2a8e-3b4d-4e5f-9a0b-1c2d3e4f5a6b"
	w = get(router, "/healthz", http.Header{"X-Request-Id": {id}})
	req.Equal(id, w.Header().Get("X-Request-Id"))
}

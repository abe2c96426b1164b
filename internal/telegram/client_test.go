package telegram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "123:ABC"

const getMeOK = `{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"Relay","username":"relay_bot"}}`

// apiServer serves canned results per method and records decoded form fields.
type apiServer struct {
	t        *testing.T
	mu       sync.Mutex
	results  map[string]string // method -> raw JSON response
	block    map[string]bool   // methods that hang until the test ends
	release  chan struct{}
	requests map[string][]map[string]string
	uploads  map[string]string // form file field -> uploaded content
}

func newAPIServer(t *testing.T, results map[string]string) (*apiServer, *httptest.Server) {
	s := &apiServer{
		t:        t,
		results:  results,
		block:    map[string]bool{},
		requests: map[string][]map[string]string{},
		uploads:  map[string]string{},
		release:  make(chan struct{}),
	}
	srv := httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(srv.Close)
	// Runs before Close so blocked handlers can return.
	t.Cleanup(func() { close(s.release) })
	return s, srv
}

func newTestClient(t *testing.T, results map[string]string) (*apiServer, *Client) {
	t.Helper()
	s, srv := newAPIServer(t, results)
	c, err := NewClient(context.Background(), srv.Client(), srv.URL, testToken)
	require.NoError(t, err)
	return s, c
}

func (s *apiServer) handle(w http.ResponseWriter, r *http.Request) {
	prefix := "/bot" + testToken + "/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	method := strings.TrimPrefix(r.URL.Path, prefix)

	fields := map[string]string{}
	uploads := map[string]string{}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
		for k, fh := range r.MultipartForm.File {
			f, err := fh[0].Open()
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			b, _ := io.ReadAll(f)
			f.Close()
			uploads[k] = string(b)
			fields[k] = "@" + fh[0].Filename
		}
	} else {
		r.ParseForm()
		for k, v := range r.PostForm {
			fields[k] = v[0]
		}
	}

	s.mu.Lock()
	s.requests[method] = append(s.requests[method], fields)
	for k, v := range uploads {
		s.uploads[k] = v
	}
	resp, ok := s.results[method]
	blocking := s.block[method]
	s.mu.Unlock()

	if blocking {
		select {
		case <-r.Context().Done():
		case <-s.release:
		}
		return
	}
	if !ok {
		resp = `{"ok":true,"result":true}`
		if method == "getMe" {
			resp = getMeOK
		}
	}
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, resp)
}

func (s *apiServer) request(method string, i int) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[method][i]
}

func TestNewClientReadsIdentity(t *testing.T) {
	s, c := newTestClient(t, nil)

	assert.Equal(t, "relay_bot", c.Username())
	assert.Equal(t, map[string]string{}, s.request("getMe", 0))
}

func TestNewClientRejectedToken(t *testing.T) {
	_, srv := newAPIServer(t, map[string]string{
		"getMe": `{"ok":false,"error_code":401,"description":"Unauthorized"}`,
	})

	_, err := NewClient(context.Background(), srv.Client(), srv.URL, testToken)
	var apiErr *tgbotapi.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.Code)
}

func TestDeleteWebhook(t *testing.T) {
	s, c := newTestClient(t, nil)

	require.NoError(t, c.DeleteWebhook(context.Background(), true))
	assert.Equal(t, "true", s.request("deleteWebhook", 0)["drop_pending_updates"])
}

func TestGetUpdates(t *testing.T) {
	s, c := newTestClient(t, map[string]string{
		"getUpdates": `{"ok":true,"result":[
			{"update_id":7,"message":{"message_id":1,"date":0,"chat":{"id":99,"type":"private"},"text":"hi"}},
			{"update_id":8}
		]}`,
	})

	updates, err := c.GetUpdates(context.Background(), 7, time.Second)
	require.NoError(t, err)
	require.Len(t, updates, 2)
	assert.Equal(t, "hi", updates[0].Message.Text)
	assert.Equal(t, int64(99), updates[0].Message.Chat.ID)
	assert.Nil(t, updates[1].Message)

	req := s.request("getUpdates", 0)
	assert.Equal(t, "7", req["offset"])
	assert.Equal(t, "1", req["timeout"])
	assert.Contains(t, req["allowed_updates"], "message")
}

func TestGetUpdatesHonorsCancellation(t *testing.T) {
	s, c := newTestClient(t, nil)
	s.mu.Lock()
	s.block["getUpdates"] = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.GetUpdates(ctx, 0, 30*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSendMessageAndDelete(t *testing.T) {
	s, c := newTestClient(t, map[string]string{
		"sendMessage": `{"ok":true,"result":{"message_id":5,"date":0,"chat":{"id":99}}}`,
	})
	ctx := context.Background()

	m, err := c.SendMessage(ctx, 99, "working")
	require.NoError(t, err)
	assert.Equal(t, 5, m.MessageID)

	require.NoError(t, c.DeleteMessage(ctx, 99, int64(m.MessageID)))
	assert.Equal(t, "5", s.request("deleteMessage", 0)["message_id"])
	assert.Equal(t, "working", s.request("sendMessage", 0)["text"])
}

func TestSendVideoByFileID(t *testing.T) {
	s, c := newTestClient(t, map[string]string{
		"sendVideo": `{"ok":true,"result":{"message_id":6,"date":0,"chat":{"id":99},"video":{"file_id":"VID"}}}`,
	})

	m, err := c.SendVideo(context.Background(), 99, tgbotapi.FileID("VID"), "done")
	require.NoError(t, err)
	assert.Equal(t, "VID", m.Video.FileID)

	req := s.request("sendVideo", 0)
	assert.Equal(t, "VID", req["video"])
	assert.Equal(t, "done", req["caption"])
	assert.Equal(t, "99", req["chat_id"])
	assert.Equal(t, "true", req["supports_streaming"])
}

func TestSendAudioUpload(t *testing.T) {
	s, c := newTestClient(t, map[string]string{
		"sendAudio": `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":-100},"audio":{"file_id":"AUD"}}}`,
	})
	path := filepath.Join(t.TempDir(), "x_audio.mp3")
	require.NoError(t, os.WriteFile(path, []byte("ID3data"), 0600))

	m, err := c.SendAudio(context.Background(), -100, tgbotapi.FilePath(path), "🔗 https://youtu.be/a")
	require.NoError(t, err)
	assert.Equal(t, "AUD", m.Audio.FileID)

	req := s.request("sendAudio", 0)
	assert.Equal(t, "-100", req["chat_id"])
	assert.Equal(t, "🔗 https://youtu.be/a", req["caption"])
	assert.Equal(t, "@x_audio.mp3", req["audio"])
	s.mu.Lock()
	assert.Equal(t, "ID3data", s.uploads["audio"])
	s.mu.Unlock()
}

func TestSendMissingFile(t *testing.T) {
	_, c := newTestClient(t, nil)

	_, err := c.SendVideo(context.Background(), 1, tgbotapi.FilePath(filepath.Join(t.TempDir(), "nope.mp4")), "")
	assert.Error(t, err)
}

func TestAPIError(t *testing.T) {
	_, c := newTestClient(t, map[string]string{
		"sendVideo": `{"ok":false,"error_code":400,"description":"Bad Request: wrong file identifier/HTTP URL specified"}`,
	})

	_, err := c.SendVideo(context.Background(), 99, tgbotapi.FileID("stale"), "")
	require.Error(t, err)

	var apiErr *tgbotapi.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 400, apiErr.Code)
	assert.Contains(t, apiErr.Message, "wrong file identifier")
}

func TestCancelledContextSkipsCall(t *testing.T) {
	s, c := newTestClient(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.SendMessage(ctx, 99, "late")
	assert.ErrorIs(t, err, context.Canceled)
	s.mu.Lock()
	assert.Empty(t, s.requests["sendMessage"])
	s.mu.Unlock()
}

func TestTransportErrorRedactsToken(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := NewClient(ctx, nil, "http://127.0.0.1:1", testToken)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), testToken)
}

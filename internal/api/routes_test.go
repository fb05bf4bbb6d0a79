package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clipdeck/clipdeck-agent/internal/catalog"
	"github.com/clipdeck/clipdeck-agent/internal/db"
	"github.com/clipdeck/clipdeck-agent/internal/export"
	"github.com/clipdeck/clipdeck-agent/internal/live"
	"github.com/clipdeck/clipdeck-agent/internal/render"
	"github.com/clipdeck/clipdeck-agent/internal/session"
	"github.com/clipdeck/clipdeck-agent/internal/storage"
)

const testToken = "test-token-0123456789"

type fakeRender struct {
	configured bool
	submitted  []export.DecisionList
	err        error
	jobs       map[string]*catalog.RenderJob
}

func (f *fakeRender) Configured() bool { return f.configured }

func (f *fakeRender) Submit(ctx context.Context, dl export.DecisionList, total float64) (*catalog.RenderJob, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.submitted = append(f.submitted, dl)
	job := &catalog.RenderJob{ID: "job-1", Status: catalog.RenderStatusQueued, Progress: 5, ClipCount: dl.ClipCount(), Duration: total}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeRender) Get(ctx context.Context, id string) (*catalog.RenderJob, error) {
	if job, ok := f.jobs[id]; ok {
		return job, nil
	}
	return nil, render.ErrJobNotFound
}

func (f *fakeRender) List(ctx context.Context, limit int) ([]*catalog.RenderJob, error) {
	var out []*catalog.RenderJob
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out, nil
}

type testAPI struct {
	router  http.Handler
	hub     *live.Hub
	repo    catalog.Repository
	catalog *catalog.Service
	session *session.Session
	render  *fakeRender
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "api.db"), nil)
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := catalog.NewRepository(database.Conn())
	if err := repo.SetConfig(context.Background(), AuthTokenKey, testToken); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}
	store, err := storage.NewFSStore(filepath.Join(t.TempDir(), "media"))
	if err != nil {
		t.Fatalf("NewFSStore() error = %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := catalog.NewService(repo, store, logger)
	n := 0
	sess := session.New(session.Config{
		Sources: svc,
		Logger:  logger,
		IDGenerator: func() string {
			n++
			return fmt.Sprintf("clip-%d", n)
		},
	})
	fr := &fakeRender{configured: true, jobs: map[string]*catalog.RenderJob{}}
	hub := live.NewHub(func(r *http.Request) bool { return true }, logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	router := NewRouter(ServerConfig{
		Catalog:    svc,
		Repository: repo,
		Session:    sess,
		Render:     fr,
		Hub:        hub,
		Logger:     logger,
		StartTime:  time.Now(),
		Version:    "test",
	})
	return &testAPI{router: router, hub: hub, repo: repo, catalog: svc, session: sess, render: fr}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json.Marshal error: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func (a *testAPI) addAsset(t *testing.T, name, content string) *catalog.Asset {
	t.Helper()
	asset, err := a.catalog.AddAsset(context.Background(), name, "", int64(len(content)), strings.NewReader(content), catalog.OriginUpload)
	if err != nil {
		t.Fatalf("AddAsset() error = %v", err)
	}
	return asset
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body: %v (%s)", err, rr.Body.String())
	}
	return body
}

func decodeInto(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("failed to decode response body: %v (%s)", err, rr.Body.String())
	}
}

func expectCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("status = %d, want %d (%s)", rr.Code, status, rr.Body.String())
	}
	if code == "" {
		return
	}
	body := decodeJSONBody(t, rr)
	if body["code"] != code {
		t.Errorf("code = %v, want %s", body["code"], code)
	}
}

func TestHealth_NoAuth(t *testing.T) {
	a := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeJSONBody(t, rr)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestAuth(t *testing.T) {
	a := newTestAPI(t)

	cases := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"bad scheme", "Basic abc", "", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", "", http.StatusUnauthorized},
		{"bearer", "Bearer " + testToken, "", http.StatusOK},
		{"query token", "", "?token=" + testToken, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/timeline"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			a.router.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Errorf("status = %d, want %d", rr.Code, tc.want)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	a := newTestAPI(t)
	a.addAsset(t, "a.mp4", "abc")

	rr := a.do(t, http.MethodGet, "/status", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp StatusResponse
	decodeInto(t, rr, &resp)
	if resp.AssetsCount != 1 || !resp.RenderEnabled || resp.Playback.Rate != 1 {
		t.Errorf("status = %+v", resp)
	}
	if resp.Tools != nil {
		t.Error("tools should be omitted without a doctor")
	}
}

func TestUploadAndListAssets(t *testing.T) {
	a := newTestAPI(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("note", "ignored")
	fw, err := mw.CreateFormFile("file", "holiday clip.mp4")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte("0123456789"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/assets", &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("upload status = %d (%s)", rr.Code, rr.Body.String())
	}
	var created AssetResponse
	decodeInto(t, rr, &created)
	if created.Name != "holiday clip.mp4" || created.Size != 10 || created.ProbeStatus != catalog.ProbeStatusPending || created.Duration != nil {
		t.Errorf("created = %+v", created)
	}

	rr = a.do(t, http.MethodGet, "/assets", nil)
	var list AssetsResponse
	decodeInto(t, rr, &list)
	if len(list.Assets) != 1 || list.Assets[0].ID != created.ID {
		t.Fatalf("assets = %+v", list.Assets)
	}

	rr = a.do(t, http.MethodDelete, "/assets", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("clear status = %d", rr.Code)
	}
	rr = a.do(t, http.MethodGet, "/assets", nil)
	decodeInto(t, rr, &list)
	if len(list.Assets) != 0 {
		t.Errorf("assets after clear = %d", len(list.Assets))
	}
}

func TestUpload_MissingFile(t *testing.T) {
	a := newTestAPI(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("note", "no file")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/assets", &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)

	expectCode(t, rr, http.StatusBadRequest, "BAD_REQUEST")
}

func TestMedia_RangeAndLoopback(t *testing.T) {
	a := newTestAPI(t)
	asset := a.addAsset(t, "clip.mp4", "0123456789")
	path := "/assets/" + asset.ID + "/media?token=" + testToken

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "127.0.0.1:5000"
	req.Header.Set("Range", "bytes=2-5")
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusPartialContent {
		t.Fatalf("status = %d (%s)", rr.Code, rr.Body.String())
	}
	if rr.Body.String() != "2345" {
		t.Errorf("body = %q", rr.Body.String())
	}
	if got := rr.Header().Get("Content-Range"); got != "bytes 2-5/10" {
		t.Errorf("Content-Range = %q", got)
	}
	if got := rr.Header().Get("Content-Type"); got != "video/mp4" {
		t.Errorf("Content-Type = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "8.8.8.8:5000"
	rr = httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	expectCode(t, rr, http.StatusForbidden, "FORBIDDEN")

	req = httptest.NewRequest(http.MethodGet, "/assets/missing/media?token="+testToken, nil)
	req.RemoteAddr = "127.0.0.1:5000"
	rr = httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	expectCode(t, rr, http.StatusNotFound, "NOT_FOUND")
}

func TestMedia_HeadHasNoBody(t *testing.T) {
	a := newTestAPI(t)
	asset := a.addAsset(t, "clip.mp4", "0123456789")

	server := httptest.NewServer(a.router)
	defer server.Close()

	req, _ := http.NewRequest(http.MethodHead, server.URL+"/assets/"+asset.ID+"/media?token="+testToken, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if len(body) != 0 {
		t.Errorf("HEAD response body length = %d, want 0", len(body))
	}
	if resp.ContentLength != 10 {
		t.Errorf("Content-Length = %d", resp.ContentLength)
	}
}

func TestTimeline_EditFlow(t *testing.T) {
	a := newTestAPI(t)
	asset := a.addAsset(t, "a.mp4", "abc")

	rr := a.do(t, http.MethodPost, "/timeline/clips", InsertClipRequest{AssetID: asset.ID, Track: "both"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("insert status = %d (%s)", rr.Code, rr.Body.String())
	}
	var inserted ClipsResponse
	decodeInto(t, rr, &inserted)
	if len(inserted.Clips) != 2 || inserted.View.TotalDuration != 8 {
		t.Fatalf("inserted = %+v", inserted)
	}

	rr = a.do(t, http.MethodPost, "/playback/seek", SeekRequest{Time: 3})
	var view session.View
	decodeInto(t, rr, &view)
	if view.Selection == nil || view.Selection.ClipID != inserted.Clips[0].ID {
		t.Fatalf("seek selection = %+v", view.Selection)
	}

	rr = a.do(t, http.MethodPost, "/timeline/split", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("split status = %d (%s)", rr.Code, rr.Body.String())
	}
	var split ClipsResponse
	decodeInto(t, rr, &split)
	if len(split.View.Tracks.Video) != 2 || split.View.TotalDuration != 8 {
		t.Fatalf("split view = %+v", split.View.Tracks.Video)
	}

	rr = a.do(t, http.MethodPost, "/timeline/move", MoveRequest{ClipID: split.Clips[1].ID, From: "video", To: "video", Index: intPtr(0)})
	if rr.Code != http.StatusOK {
		t.Fatalf("move status = %d (%s)", rr.Code, rr.Body.String())
	}
	var moved ClipResponse
	decodeInto(t, rr, &moved)
	if moved.View.Tracks.Video[0].ID != split.Clips[1].ID {
		t.Errorf("video order = %+v", moved.View.Tracks.Video)
	}

	rr = a.do(t, http.MethodDelete, "/timeline/selection/clip", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("remove status = %d (%s)", rr.Code, rr.Body.String())
	}
	var removed ClipResponse
	decodeInto(t, rr, &removed)
	if len(removed.View.Tracks.Video) != 1 || removed.View.Selection != nil {
		t.Errorf("after remove = %+v", removed.View)
	}
}

func intPtr(v int) *int { return &v }

func TestTimeline_ErrorMapping(t *testing.T) {
	a := newTestAPI(t)
	asset := a.addAsset(t, "a.mp4", "abc")
	rr := a.do(t, http.MethodPost, "/timeline/clips", InsertClipRequest{AssetID: asset.ID, Track: "video"})
	var inserted ClipResponse
	decodeInto(t, rr, &inserted)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"split without selection", http.MethodPost, "/timeline/split", nil, http.StatusUnprocessableEntity, "INVALID_OPERATION"},
		{"remove without selection", http.MethodDelete, "/timeline/selection/clip", nil, http.StatusUnprocessableEntity, "INVALID_OPERATION"},
		{"media onto text track", http.MethodPost, "/timeline/move", MoveRequest{ClipID: inserted.Clip.ID, From: "video", To: "text"}, http.StatusConflict, "POLICY_VIOLATION"},
		{"drop on text track", http.MethodPost, "/timeline/drop", DropRequest{AssetID: asset.ID, Track: "text"}, http.StatusConflict, "POLICY_VIOLATION"},
		{"stale select", http.MethodPut, "/timeline/selection", SelectionRequest{Track: "video", ClipID: "gone"}, http.StatusNotFound, "NOT_FOUND"},
		{"unknown asset", http.MethodPost, "/timeline/clips", InsertClipRequest{AssetID: "gone", Track: "audio"}, http.StatusNotFound, "NOT_FOUND"},
		{"insert on text track", http.MethodPost, "/timeline/clips", InsertClipRequest{AssetID: asset.ID, Track: "text"}, http.StatusBadRequest, "BAD_REQUEST"},
		{"missing asset id", http.MethodPost, "/timeline/clips", InsertClipRequest{Track: "video"}, http.StatusBadRequest, "BAD_REQUEST"},
		{"zero rate", http.MethodPut, "/playback/rate", RateRequest{Rate: 0}, http.StatusBadRequest, "BAD_REQUEST"},
		{"bad color", http.MethodPost, "/timeline/text", TextRequest{Text: "hi", Color: "red"}, http.StatusBadRequest, "BAD_REQUEST"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := a.do(t, tc.method, tc.path, tc.body)
			expectCode(t, rr, tc.status, tc.code)
		})
	}
}

func TestPlayback(t *testing.T) {
	a := newTestAPI(t)

	rr := a.do(t, http.MethodPost, "/playback/play", nil)
	expectCode(t, rr, http.StatusUnprocessableEntity, "INVALID_OPERATION")
	if body := decodeJSONBody(t, rr); body["error"] != "Timeline is empty; nothing to play." {
		t.Errorf("error = %v", body["error"])
	}

	asset := a.addAsset(t, "a.mp4", "abc")
	a.do(t, http.MethodPost, "/timeline/clips", InsertClipRequest{AssetID: asset.ID, Track: "audio"})

	rr = a.do(t, http.MethodPut, "/playback/rate", RateRequest{Rate: 2})
	var view session.View
	decodeInto(t, rr, &view)
	if view.Playback.Rate != 2 {
		t.Errorf("rate = %v", view.Playback.Rate)
	}

	rr = a.do(t, http.MethodPost, "/playback/toggle", nil)
	decodeInto(t, rr, &view)
	if !view.Playback.Playing {
		t.Fatal("toggle should start playback")
	}
	rr = a.do(t, http.MethodPost, "/playback/pause", nil)
	decodeInto(t, rr, &view)
	if view.Playback.Playing {
		t.Fatal("pause should stop playback")
	}

	rr = a.do(t, http.MethodPost, "/playback/step", StepRequest{})
	decodeInto(t, rr, &view)
	if view.Playback.Time != 1 {
		t.Errorf("step time = %v, want 1", view.Playback.Time)
	}
	back := -5.0
	rr = a.do(t, http.MethodPost, "/playback/step", StepRequest{Delta: &back})
	decodeInto(t, rr, &view)
	if view.Playback.Time != 0 {
		t.Errorf("step back clamps to 0, got %v", view.Playback.Time)
	}
}

func TestText(t *testing.T) {
	a := newTestAPI(t)
	rr := a.do(t, http.MethodPost, "/timeline/text", TextRequest{Text: "Title", Color: "#ffffff"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d (%s)", rr.Code, rr.Body.String())
	}
	var resp ClipResponse
	decodeInto(t, rr, &resp)
	if resp.Clip.Text != "Title" || resp.View.TrackDurations["text"] != 3 {
		t.Errorf("text clip = %+v durations %v", resp.Clip, resp.View.TrackDurations)
	}
}

func TestWS_UpgradesThroughMiddleware(t *testing.T) {
	a := newTestAPI(t)
	a.hub.SetHandlers(live.Handlers{
		OnConnect: func() []live.Message {
			msg, _ := live.NewMessage(live.MsgState, a.session.View())
			return []live.Message{msg}
		},
	})

	server := httptest.NewServer(a.router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=" + testToken
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg live.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != live.MsgState {
		t.Errorf("type = %s, want state", msg.Type)
	}

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", nil)
	if err == nil {
		t.Fatal("dial without token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated upgrade response = %v", resp)
	}
}

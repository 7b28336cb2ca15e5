package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	neturl "net/url"
	"testing"

	"github.com/gorilla/mux"

	"ChunkFM/config"
	"ChunkFM/core/assets"
	"ChunkFM/core/media"
	"ChunkFM/core/playback"
	"ChunkFM/core/track"
	"ChunkFM/model"
)

// nopEmitter 丢弃所有触发调用
type nopEmitter struct{}

func (nopEmitter) TriggerAt(int, model.SoundEventDescriptor, model.Position, float64) {}
func (nopEmitter) TriggerForListener(int, model.SoundEventDescriptor, string, float64) {}

type fakeLibraryRepo struct {
	entries   []*model.LibraryEntry
	deleted   []string
	err       error
	deleteErr error
}

func (r *fakeLibraryRepo) UpsertEntry(*model.LibraryEntry) error { return nil }
func (r *fakeLibraryRepo) GetEntry(string) (*model.LibraryEntry, error) {
	return nil, nil
}

func (r *fakeLibraryRepo) DeleteEntry(trackID string) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}
	r.deleted = append(r.deleted, trackID)
	return nil
}
func (r *fakeLibraryRepo) ListEntries() ([]*model.LibraryEntry, error) {
	return r.entries, r.err
}

type fakeUserLibRepo struct {
	songs   map[string]*model.UserLibrarySong // key userID:trackID
	addErr  error
	listErr error
}

func newFakeUserLibRepo() *fakeUserLibRepo {
	return &fakeUserLibRepo{songs: make(map[string]*model.UserLibrarySong)}
}

func (r *fakeUserLibRepo) key(userID int64, trackID string) string {
	return fmt.Sprintf("%d:%s", userID, trackID)
}

func (r *fakeUserLibRepo) AddSong(song *model.UserLibrarySong) error {
	if r.addErr != nil {
		return r.addErr
	}
	r.songs[r.key(song.UserID, song.TrackID)] = song
	return nil
}

func (r *fakeUserLibRepo) RemoveSong(userID int64, trackID string) error {
	delete(r.songs, r.key(userID, trackID))
	return nil
}

func (r *fakeUserLibRepo) ListSongs(userID int64) ([]model.UserLibrarySong, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []model.UserLibrarySong
	for _, s := range r.songs {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *fakeUserLibRepo) HasSong(userID int64, trackID string) (bool, error) {
	_, ok := r.songs[r.key(userID, trackID)]
	return ok, nil
}

type handlerFixture struct {
	handler   *APIHandler
	scheduler *playback.Scheduler
	catalog   *assets.EventCatalog
	libRepo   *fakeLibraryRepo
	userRepo  *fakeUserLibRepo
	router    *mux.Router
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	cfg := &config.Config{
		ChunkSeconds:      1,
		AssetRetryMax:     10,
		AssetRetryDelayMs: 500,
	}

	catalog := assets.NewEventCatalog(nil)
	executor := playback.NewWorldExecutor()
	t.Cleanup(executor.Stop)
	scheduler := playback.NewScheduler(cfg, catalog, nopEmitter{}, nil, executor)

	f := &handlerFixture{
		scheduler: scheduler,
		catalog:   catalog,
		libRepo:   &fakeLibraryRepo{},
		userRepo:  newFakeUserLibRepo(),
	}
	// 采集器只用于在途查询，测试不经由它跑管线
	acquirer := media.NewAcquirer(cfg, nil, nil, catalog, f.libRepo)
	f.handler = NewAPIHandler(acquirer, scheduler, f.libRepo, f.userRepo, cfg)

	f.router = mux.NewRouter()
	f.router.HandleFunc("/api/acquire/status", f.handler.AcquireStatusHandler).Methods(http.MethodGet)
	f.router.HandleFunc("/api/library", f.handler.LibraryHandler).Methods(http.MethodGet)
	f.router.HandleFunc("/api/library/{trackId}", f.handler.RemoveLibraryEntryHandler).Methods(http.MethodDelete)
	f.router.HandleFunc("/api/playback/pause", f.handler.PauseHandler).Methods(http.MethodPost)
	f.router.HandleFunc("/api/playback/resume", f.handler.ResumeHandler).Methods(http.MethodPost)
	f.router.HandleFunc("/api/playback/stop", f.handler.StopHandler).Methods(http.MethodPost)
	f.router.HandleFunc("/api/playback/seek", f.handler.SeekHandler).Methods(http.MethodPost)
	f.router.HandleFunc("/api/playback/status", f.handler.StatusHandler).Methods(http.MethodGet)
	f.router.HandleFunc("/api/user/{userId}/library", f.handler.GetUserLibraryHandler).Methods(http.MethodGet)
	f.router.HandleFunc("/api/user/{userId}/library", f.handler.AddUserSongHandler).Methods(http.MethodPost)
	f.router.HandleFunc("/api/user/{userId}/library/{trackId}", f.handler.RemoveUserSongHandler).Methods(http.MethodDelete)
	return f
}

// startSession 在测试里直接起一个会话，绕过采集管线
func (f *handlerFixture) startSession(t *testing.T, trackID string, chunkCount int, pos model.Position) {
	t.Helper()
	for i := 0; i < chunkCount; i++ {
		desc := model.SoundEventDescriptor{
			EventName: assets.ChunkEventName(trackID, i),
			Volume:    1.0,
			Pitch:     1.0,
		}
		if _, err := f.catalog.Register(context.Background(), desc); err != nil {
			t.Fatalf("register event: %v", err)
		}
	}
	f.scheduler.Play(pos, &model.MediaInfo{TrackID: trackID, ChunkCount: chunkCount})
}

func (f *handlerFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestPauseResumeHandlers(t *testing.T) {
	f := newHandlerFixture(t)
	pos := model.Position{X: 1, Y: 2, Z: 3}
	f.startSession(t, "cfm_h1", 5, pos)

	rec := f.do(t, http.MethodPost, "/api/playback/pause", playbackRequest{Position: &pos})
	if rec.Code != http.StatusOK {
		t.Fatalf("pause status = %d, body %s", rec.Code, rec.Body.String())
	}
	var status model.PlaybackStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.IsPaused {
		t.Fatalf("expected paused, got %+v", status)
	}

	// 重复暂停返回冲突
	rec = f.do(t, http.MethodPost, "/api/playback/pause", playbackRequest{Position: &pos})
	if rec.Code != http.StatusConflict {
		t.Fatalf("double pause status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/playback/resume", playbackRequest{Position: &pos})
	if rec.Code != http.StatusOK {
		t.Fatalf("resume status = %d", rec.Code)
	}
}

func TestControlRequiresTarget(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/playback/pause", playbackRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing target status = %d", rec.Code)
	}
}

func TestSeekHandler(t *testing.T) {
	f := newHandlerFixture(t)
	pos := model.Position{X: 4}
	f.startSession(t, "cfm_h2", 10, pos)

	rec := f.do(t, http.MethodPost, "/api/playback/seek", playbackRequest{Position: &pos, Fraction: 0.5})
	if rec.Code != http.StatusOK {
		t.Fatalf("seek status = %d, body %s", rec.Code, rec.Body.String())
	}
	var status model.PlaybackStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.PositionMs != 5000 {
		t.Fatalf("seek position = %d, want 5000", status.PositionMs)
	}

	// 未知目标返回404
	other := model.Position{X: 99}
	rec = f.do(t, http.MethodPost, "/api/playback/seek", playbackRequest{Position: &other, Fraction: 0.5})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown target status = %d", rec.Code)
	}
}

func TestStatusHandlerQueryKeys(t *testing.T) {
	f := newHandlerFixture(t)
	pos := model.Position{X: 1.5, Y: 64, Z: -3.25}
	f.startSession(t, "cfm_h3", 5, pos)

	rec := f.do(t, http.MethodGet, "/api/playback/status?x=1.5&y=64&z=-3.25", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var status model.PlaybackStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.IsPlaying {
		t.Fatalf("expected playing, got %+v", status)
	}

	// 没见过的目标照样返回停止态快照
	rec = f.do(t, http.MethodGet, "/api/playback/status?listener=ghost", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unknown listener status code = %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.IsStopped {
		t.Fatalf("expected stopped snapshot, got %+v", status)
	}

	// 缺参数
	rec = f.do(t, http.MethodGet, "/api/playback/status", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing params status code = %d", rec.Code)
	}
}

func TestLibraryHandler(t *testing.T) {
	f := newHandlerFixture(t)
	f.libRepo.entries = []*model.LibraryEntry{
		{TrackID: "cfm_a", SourceKind: "web", ChunkCount: 12},
	}

	rec := f.do(t, http.MethodGet, "/api/library", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("library status = %d", rec.Code)
	}
	var entries []*model.LibraryEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode entries: %v", err)
	}
	if len(entries) != 1 || entries[0].TrackID != "cfm_a" {
		t.Fatalf("entries = %+v", entries)
	}

	f.libRepo.err = errors.New("db down")
	rec = f.do(t, http.MethodGet, "/api/library", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("failed library status = %d", rec.Code)
	}
}

func TestUserLibraryHandlers(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/user/42/library", userSongRequest{
		TrackID: "cfm_song", Title: "Song", Artist: "Artist",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add song status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/api/user/42/library", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var songs []model.UserLibrarySong
	if err := json.Unmarshal(rec.Body.Bytes(), &songs); err != nil {
		t.Fatalf("decode songs: %v", err)
	}
	if len(songs) != 1 || songs[0].TrackID != "cfm_song" {
		t.Fatalf("songs = %+v", songs)
	}

	// 另一个用户看不到
	rec = f.do(t, http.MethodGet, "/api/user/7/library", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &songs); err != nil {
		t.Fatalf("decode songs: %v", err)
	}
	if len(songs) != 0 {
		t.Fatalf("cross-user leak: %+v", songs)
	}

	rec = f.do(t, http.MethodDelete, "/api/user/42/library/cfm_song", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("remove status = %d", rec.Code)
	}
	if has, _ := f.userRepo.HasSong(42, "cfm_song"); has {
		t.Fatalf("song still present after delete")
	}

	// 缺 trackId
	rec = f.do(t, http.MethodPost, "/api/user/42/library", userSongRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty trackId status = %d", rec.Code)
	}

	// 非法 userId
	rec = f.do(t, http.MethodGet, "/api/user/abc/library", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad userId status = %d", rec.Code)
	}
}

func TestMapAcquireError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{track.ErrUnsupportedInput, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", media.ErrMetadataFetch), http.StatusBadGateway},
		{fmt.Errorf("wrap: %w", media.ErrMetadataParse), http.StatusBadGateway},
		{fmt.Errorf("wrap: %w", media.ErrDownload), http.StatusBadGateway},
		{fmt.Errorf("wrap: %w", media.ErrChunking), http.StatusInternalServerError},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got, _ := mapAcquireError(c.err); got != c.want {
			t.Fatalf("mapAcquireError(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestRemoveLibraryEntryHandler(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodDelete, "/api/library/cfm_gone", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if len(f.libRepo.deleted) != 1 || f.libRepo.deleted[0] != "cfm_gone" {
		t.Fatalf("deleted = %v, want [cfm_gone]", f.libRepo.deleted)
	}

	f.libRepo.deleteErr = errors.New("db down")
	rec = f.do(t, http.MethodDelete, "/api/library/cfm_gone", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("delete with repo error status = %d", rec.Code)
	}
}

func TestAcquireStatusHandler(t *testing.T) {
	f := newHandlerFixture(t)

	url := "https://example/video"
	trackID, err := track.Resolve(url)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/api/acquire/status?url="+neturl.QueryEscape(url), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload struct {
		TrackID   string `json:"trackId"`
		Acquiring bool   `json:"acquiring"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.TrackID != trackID || payload.Acquiring {
		t.Fatalf("payload = %+v, want trackId %s and not acquiring", payload, trackID)
	}

	// url 缺失时无法解析目标曲目
	rec = f.do(t, http.MethodGet, "/api/acquire/status", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing url status = %d", rec.Code)
	}
}

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"ChunkFM/cache"
	"ChunkFM/config"
	"ChunkFM/core/media"
	"ChunkFM/core/playback"
	"ChunkFM/core/track"
	"ChunkFM/logger"
	"ChunkFM/model"
	"ChunkFM/repository"
)

// APIHandler 处理所有API请求
type APIHandler struct {
	acquirer    *media.Acquirer
	scheduler   *playback.Scheduler
	libraryRepo repository.LibraryRepository
	userLibRepo repository.UserLibraryRepository
	cfg         *config.Config
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(
	acquirer *media.Acquirer,
	scheduler *playback.Scheduler,
	libraryRepo repository.LibraryRepository,
	userLibRepo repository.UserLibraryRepository,
	cfg *config.Config,
) *APIHandler {
	return &APIHandler{
		acquirer:    acquirer,
		scheduler:   scheduler,
		libraryRepo: libraryRepo,
		userLibRepo: userLibRepo,
		cfg:         cfg,
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// acquireRequest 采集请求体
type acquireRequest struct {
	URL string `json:"url"`
}

// playbackRequest 播放控制请求体
// 目标二选一：空间坐标或听者标识
type playbackRequest struct {
	URL        string          `json:"url,omitempty"`
	Position   *model.Position `json:"position,omitempty"`
	ListenerID string          `json:"listenerId,omitempty"`
	Fraction   float64         `json:"fraction,omitempty"`
	Enabled    bool            `json:"enabled,omitempty"`
	Percent    float64         `json:"percent,omitempty"`
}

// sessionKey 解析请求的播放目标键
func (req *playbackRequest) sessionKey() (string, bool) {
	if req.Position != nil {
		return req.Position.Key(), true
	}
	if req.ListenerID != "" {
		return req.ListenerID, true
	}
	return "", false
}

// AcquireHandler 处理 POST /api/acquire
// 采集是长耗时操作，请求协程会阻塞到管线完成
func (h *APIHandler) AcquireHandler(w http.ResponseWriter, r *http.Request) {
	var req acquireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	info, err := h.acquirer.Acquire(r.Context(), req.URL)
	if err != nil {
		status, message := mapAcquireError(err)
		respondError(w, status, message)
		return
	}

	respondJSON(w, http.StatusOK, info)
}

func mapAcquireError(err error) (int, string) {
	switch {
	case errors.Is(err, track.ErrUnsupportedInput):
		return http.StatusBadRequest, "unsupported source url"
	case errors.Is(err, media.ErrMetadataFetch):
		return http.StatusBadGateway, "metadata tool unavailable"
	case errors.Is(err, media.ErrMetadataParse):
		return http.StatusBadGateway, "failed to parse source metadata"
	case errors.Is(err, media.ErrDownload):
		return http.StatusBadGateway, "failed to download source audio"
	case errors.Is(err, media.ErrChunking):
		return http.StatusInternalServerError, "failed to split source audio"
	default:
		return http.StatusInternalServerError, "acquisition failed"
	}
}

// PlayHandler 处理 POST /api/playback/play
// 先走采集管线拿到 MediaInfo（已采集的曲目走登记簿短路），再启动会话
func (h *APIHandler) PlayHandler(w http.ResponseWriter, r *http.Request) {
	var req playbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Position == nil && req.ListenerID == "" {
		respondError(w, http.StatusBadRequest, "position or listenerId required")
		return
	}

	info, err := h.acquirer.Acquire(r.Context(), req.URL)
	if err != nil {
		status, message := mapAcquireError(err)
		respondError(w, status, message)
		return
	}

	if req.Position != nil {
		h.scheduler.Play(*req.Position, info)
	} else {
		h.scheduler.PlayForListener(req.ListenerID, info)
	}

	status, _ := h.scheduler.Status(mustKey(req))
	respondJSON(w, http.StatusOK, map[string]any{
		"media":  info,
		"status": status,
	})
}

func mustKey(req playbackRequest) string {
	key, _ := req.sessionKey()
	return key
}

// controlHandler 统一处理只需要目标键的播放控制动作
func (h *APIHandler) controlHandler(w http.ResponseWriter, r *http.Request, action func(key string) bool) {
	var req playbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	key, ok := req.sessionKey()
	if !ok {
		respondError(w, http.StatusBadRequest, "position or listenerId required")
		return
	}

	if !action(key) {
		respondError(w, http.StatusConflict, "no session accepts this action")
		return
	}

	status, _ := h.scheduler.Status(key)
	respondJSON(w, http.StatusOK, status)
}

// PauseHandler 处理 POST /api/playback/pause
func (h *APIHandler) PauseHandler(w http.ResponseWriter, r *http.Request) {
	h.controlHandler(w, r, h.scheduler.Pause)
}

// ResumeHandler 处理 POST /api/playback/resume
func (h *APIHandler) ResumeHandler(w http.ResponseWriter, r *http.Request) {
	h.controlHandler(w, r, h.scheduler.Resume)
}

// StopHandler 处理 POST /api/playback/stop
func (h *APIHandler) StopHandler(w http.ResponseWriter, r *http.Request) {
	h.controlHandler(w, r, h.scheduler.Stop)
}

// SeekHandler 处理 POST /api/playback/seek
func (h *APIHandler) SeekHandler(w http.ResponseWriter, r *http.Request) {
	var req playbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	key, ok := req.sessionKey()
	if !ok {
		respondError(w, http.StatusBadRequest, "position or listenerId required")
		return
	}

	if !h.scheduler.Seek(key, req.Fraction) {
		respondError(w, http.StatusNotFound, "no session for this target")
		return
	}

	status, _ := h.scheduler.Status(key)
	respondJSON(w, http.StatusOK, status)
}

// LoopHandler 处理 POST /api/playback/loop
func (h *APIHandler) LoopHandler(w http.ResponseWriter, r *http.Request) {
	var req playbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	key, ok := req.sessionKey()
	if !ok {
		respondError(w, http.StatusBadRequest, "position or listenerId required")
		return
	}

	if !h.scheduler.SetLoopEnabled(key, req.Enabled) {
		respondError(w, http.StatusNotFound, "no session for this target")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"loop": req.Enabled})
}

// VolumeHandler 处理 POST /api/playback/volume
func (h *APIHandler) VolumeHandler(w http.ResponseWriter, r *http.Request) {
	var req playbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	key, ok := req.sessionKey()
	if !ok {
		respondError(w, http.StatusBadRequest, "position or listenerId required")
		return
	}

	if !h.scheduler.SetVolume(key, req.Percent) {
		respondError(w, http.StatusNotFound, "no session for this target")
		return
	}
	respondJSON(w, http.StatusOK, map[string]float64{"percent": req.Percent})
}

// StatusHandler 处理 GET /api/playback/status
// 目标通过查询参数给出：?listener=xxx 或 ?x=&y=&z=
func (h *APIHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	key, ok := statusKeyFromQuery(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "listener or x/y/z query parameters required")
		return
	}

	status, _ := h.scheduler.Status(key)
	respondJSON(w, http.StatusOK, status)
}

func statusKeyFromQuery(r *http.Request) (string, bool) {
	if listenerID := r.URL.Query().Get("listener"); listenerID != "" {
		return listenerID, true
	}

	q := r.URL.Query()
	xs, ys, zs := q.Get("x"), q.Get("y"), q.Get("z")
	if xs == "" || ys == "" || zs == "" {
		return "", false
	}
	x, errX := strconv.ParseFloat(xs, 64)
	y, errY := strconv.ParseFloat(ys, 64)
	z, errZ := strconv.ParseFloat(zs, 64)
	if errX != nil || errY != nil || errZ != nil {
		return "", false
	}
	return model.Position{X: x, Y: y, Z: z}.Key(), true
}

// LibraryHandler 处理 GET /api/library，列出所有已采集曲目
func (h *APIHandler) LibraryHandler(w http.ResponseWriter, r *http.Request) {
	entries, err := h.libraryRepo.ListEntries()
	if err != nil {
		logger.Error("读取登记簿失败", logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "failed to list library")
		return
	}
	if entries == nil {
		entries = []*model.LibraryEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

// RemoveLibraryEntryHandler 处理 DELETE /api/library/{trackId}
// 删除登记簿条目及其缓存副本，之后同一来源会重新走完整采集管线
func (h *APIHandler) RemoveLibraryEntryHandler(w http.ResponseWriter, r *http.Request) {
	trackID := mux.Vars(r)["trackId"]
	if trackID == "" {
		respondError(w, http.StatusBadRequest, "trackId required")
		return
	}

	if err := h.libraryRepo.DeleteEntry(trackID); err != nil {
		logger.Error("删除曲目登记项失败",
			logger.String("trackId", trackID),
			logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "failed to delete library entry")
		return
	}

	// 缓存副本删除失败不致命，下次读取会穿透到数据库
	if err := cache.DeleteLibraryEntry(r.Context(), trackID); err != nil {
		logger.Warn("删除曲目登记缓存失败",
			logger.String("trackId", trackID),
			logger.ErrorField(err))
	}

	logger.Info("曲目登记项已删除", logger.String("trackId", trackID))
	w.WriteHeader(http.StatusNoContent)
}

// AcquireStatusHandler 处理 GET /api/acquire/status
// 查询某个来源当前是否有在途的采集管线
func (h *APIHandler) AcquireStatusHandler(w http.ResponseWriter, r *http.Request) {
	trackID, err := track.Resolve(r.URL.Query().Get("url"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "url parameter required")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"trackId":   trackID,
		"acquiring": h.acquirer.IsAcquiring(trackID),
	})
}

// userSongRequest 用户歌单操作请求体
type userSongRequest struct {
	TrackID   string `json:"trackId"`
	Title     string `json:"title,omitempty"`
	Artist    string `json:"artist,omitempty"`
	SourceURL string `json:"sourceUrl,omitempty"`
}

// GetUserLibraryHandler 处理 GET /api/user/{userId}/library
func (h *APIHandler) GetUserLibraryHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}

	songs, err := h.userLibRepo.ListSongs(userID)
	if err != nil {
		logger.Error("读取用户歌单失败",
			logger.Int64("userId", userID),
			logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "failed to list user library")
		return
	}
	if songs == nil {
		songs = []model.UserLibrarySong{}
	}
	respondJSON(w, http.StatusOK, songs)
}

// AddUserSongHandler 处理 POST /api/user/{userId}/library
func (h *APIHandler) AddUserSongHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}

	var req userSongRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TrackID == "" {
		respondError(w, http.StatusBadRequest, "trackId required")
		return
	}

	song := &model.UserLibrarySong{
		UserID:    userID,
		TrackID:   req.TrackID,
		Title:     req.Title,
		Artist:    req.Artist,
		SourceURL: req.SourceURL,
	}
	if err := h.userLibRepo.AddSong(song); err != nil {
		logger.Error("添加用户歌曲失败",
			logger.Int64("userId", userID),
			logger.String("trackId", req.TrackID),
			logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "failed to add song")
		return
	}

	respondJSON(w, http.StatusCreated, song)
}

// RemoveUserSongHandler 处理 DELETE /api/user/{userId}/library/{trackId}
func (h *APIHandler) RemoveUserSongHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}
	trackID := mux.Vars(r)["trackId"]

	if err := h.userLibRepo.RemoveSong(userID, trackID); err != nil {
		logger.Error("删除用户歌曲失败",
			logger.Int64("userId", userID),
			logger.String("trackId", trackID),
			logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "failed to remove song")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"removed": trackID})
}

func parseUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := strconv.ParseInt(mux.Vars(r)["userId"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return userID, true
}

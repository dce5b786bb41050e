// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

package restapi

import (
	"io"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/abyss/internal/apierr"
)

// servePath authorizes and streams the file at abs, letting the OS
// Content-Type sniffing and Range support of http.ServeContent handle the
// rest; the core itself never interprets file contents, treating paths
// only as authorization subjects.
func (s *Server) servePath(w http.ResponseWriter, r *http.Request, abs string) {
	f, err := s.engine.Get(abs, tokenFrom(r), clientIP(r))
	if err != nil {
		writeError(w, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, apierr.New(apierr.KindInternal, "restapi.servePath", err))
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (s *Server) videosRoot() string { return filepath.Join(s.engine.Root(), "Videos") }
func (s *Server) imagesRoot() string { return filepath.Join(s.engine.Root(), "Images") }
func (s *Server) liveRoot() string   { return filepath.Join(s.engine.Root(), "Live") }

// handleVideoClasses implements GET /api/Video: the list of video
// classes the caller may read, sorted by byte order (scenario S4).
//
// @Summary List video classes
// @Tags Video
// @Success 200 {array} string
// @Router /api/Video [get]
func (s *Server) handleVideoClasses(w http.ResponseWriter, r *http.Request) {
	names, err := s.engine.Query(s.videosRoot(), tokenFrom(r), clientIP(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

// @Summary List entries within a video class
// @Tags Video
// @Param klass path string true "video class"
// @Router /api/Video/{klass} [get]
func (s *Server) handleVideoList(w http.ResponseWriter, r *http.Request) {
	klass := chi.URLParam(r, "klass")
	names, err := s.engine.Query(filepath.Join(s.videosRoot(), klass), tokenFrom(r), clientIP(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

// @Summary Fetch a video's summary.json
// @Tags Video
// @Param klass path string true "video class"
// @Param id path string true "item id"
// @Router /api/Video/{klass}/{id} [get]
func (s *Server) handleVideoSummary(w http.ResponseWriter, r *http.Request) {
	klass, id := chi.URLParam(r, "klass"), chi.URLParam(r, "id")
	path := filepath.Join(s.videosRoot(), klass, id, "summary.json")
	body, err := s.engine.GetString(path, tokenFrom(r), clientIP(r))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

// @Summary Fetch a video's cover image
// @Tags Video
// @Router /api/Video/{klass}/{id}/cover [get]
func (s *Server) handleVideoCover(w http.ResponseWriter, r *http.Request) {
	klass, id := chi.URLParam(r, "klass"), chi.URLParam(r, "id")
	s.servePath(w, r, filepath.Join(s.videosRoot(), klass, id, "cover.jpg"))
}

// @Summary Fetch one gallery picture of a video item
// @Tags Video
// @Router /api/Video/{klass}/{id}/gallery/{pic} [get]
func (s *Server) handleVideoGalleryPic(w http.ResponseWriter, r *http.Request) {
	klass, id, pic := chi.URLParam(r, "klass"), chi.URLParam(r, "id"), chi.URLParam(r, "pic")
	s.servePath(w, r, filepath.Join(s.videosRoot(), klass, id, "gallery", pic))
}

// @Summary Stream a video's audio/video file
// @Tags Video
// @Router /api/Video/{klass}/{id}/av [get]
func (s *Server) handleVideoAV(w http.ResponseWriter, r *http.Request) {
	klass, id := chi.URLParam(r, "klass"), chi.URLParam(r, "id")
	dir := filepath.Join(s.videosRoot(), klass, id)
	names, err := s.engine.Query(dir, tokenFrom(r), clientIP(r))
	if err != nil {
		writeError(w, err)
		return
	}
	for _, name := range names {
		if filepath.Ext(name) != "" && name != "summary.json" && name != "cover.jpg" {
			if matched, _ := filepath.Match("video.*", name); matched {
				s.servePath(w, r, filepath.Join(dir, name))
				return
			}
		}
	}
	writeError(w, apierr.New(apierr.KindNotFound, "restapi.VideoAV", nil))
}

// @Summary Fetch a video's subtitle track
// @Tags Video
// @Router /api/Video/{klass}/{id}/subtitle [get]
func (s *Server) handleVideoSubtitle(w http.ResponseWriter, r *http.Request) {
	klass, id := chi.URLParam(r, "klass"), chi.URLParam(r, "id")
	dir := filepath.Join(s.videosRoot(), klass, id)
	for _, ext := range []string{"vtt", "ass"} {
		path := filepath.Join(dir, "subtitle."+ext)
		if exists, _ := s.engine.Exists(path); exists {
			s.servePath(w, r, path)
			return
		}
	}
	writeError(w, apierr.New(apierr.KindNotFound, "restapi.VideoSubtitle", nil))
}

type bulkQueryRequest struct {
	IDs []string `json:"ids"`
}

// @Summary Batch-fetch summaries for a set of video ids in one class
// @Tags Video
// @Param klass path string true "video class"
// @Accept json
// @Router /api/Video/{klass}/bulkquery [post]
func (s *Server) handleVideoBulkQuery(w http.ResponseWriter, r *http.Request) {
	klass := chi.URLParam(r, "klass")
	var body bulkQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apierr.New(apierr.KindMalformed, "restapi.VideoBulkQuery", err))
		return
	}
	paths := make([]string, len(body.IDs))
	for i, id := range body.IDs {
		paths[i] = filepath.Join(s.videosRoot(), klass, id, "summary.json")
	}
	result := s.engine.GetAllString(paths, tokenFrom(r), clientIP(r))
	writeJSON(w, http.StatusOK, result)
}

// @Summary List comic/image series
// @Tags Image
// @Router /api/Image [get]
func (s *Server) handleImageList(w http.ResponseWriter, r *http.Request) {
	names, err := s.engine.Query(s.imagesRoot(), tokenFrom(r), clientIP(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

// @Summary Fetch an image series' summary.json
// @Tags Image
// @Router /api/Image/{id} [get]
func (s *Server) handleImageSummary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	body, err := s.engine.GetString(filepath.Join(s.imagesRoot(), id, "summary.json"), tokenFrom(r), clientIP(r))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

// @Summary Fetch one page of an image series
// @Tags Image
// @Router /api/Image/{id}/{file} [get]
func (s *Server) handleImagePage(w http.ResponseWriter, r *http.Request) {
	id, file := chi.URLParam(r, "id"), chi.URLParam(r, "file")
	s.servePath(w, r, filepath.Join(s.imagesRoot(), id, file))
}

// @Summary Batch-fetch summaries for a set of image ids
// @Tags Image
// @Accept json
// @Router /api/Image/bulkquery [post]
func (s *Server) handleImageBulkQuery(w http.ResponseWriter, r *http.Request) {
	var body bulkQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apierr.New(apierr.KindMalformed, "restapi.ImageBulkQuery", err))
		return
	}
	paths := make([]string, len(body.IDs))
	for i, id := range body.IDs {
		paths[i] = filepath.Join(s.imagesRoot(), id, "summary.json")
	}
	result := s.engine.GetAllString(paths, tokenFrom(r), clientIP(r))
	writeJSON(w, http.StatusOK, result)
}

type bookmarkRequest struct {
	Page int `json:"page"`
}

// @Summary Set the reading bookmark for an image series
// @Tags Image
// @Accept json
// @Router /api/Image/{id}/bookmark [post]
func (s *Server) handleImageBookmark(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body bookmarkRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apierr.New(apierr.KindMalformed, "restapi.ImageBookmark", err))
		return
	}
	payload, err := json.Marshal(body)
	if err != nil {
		writeError(w, apierr.New(apierr.KindInternal, "restapi.ImageBookmark", err))
		return
	}
	bookmarkPath := filepath.Join(s.imagesRoot(), id, "bookmark.json")
	if err := s.engine.UpdateString(bookmarkPath, tokenFrom(r), clientIP(r), string(payload)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// @Summary Fetch a live session's item manifest entry
// @Tags Live
// @Router /api/Live/{id}/{token}/{item} [get]
func (s *Server) handleLiveItem(w http.ResponseWriter, r *http.Request) {
	id, liveToken, item := chi.URLParam(r, "id"), chi.URLParam(r, "token"), chi.URLParam(r, "item")
	s.servePath(w, r, filepath.Join(s.liveRoot(), id, liveToken, item))
}

// @Summary Register a new live session directory
// @Tags Live
// @Router /api/Live/{id} [post]
func (s *Server) handleLiveCreate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	path := filepath.Join(s.liveRoot(), id)
	owner := s.sessions.Validate(tokenFrom(r), clientIP(r))
	if owner == -1 {
		writeError(w, apierr.New(apierr.KindNotAuthenticated, "restapi.LiveCreate", apierr.ErrTokenMissing))
		return
	}
	if err := s.engine.Include(path, tokenFrom(r), clientIP(r), owner, "rw,--,--"); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// @Summary Tear down a live session
// @Tags Live
// @Router /api/Live/{id} [delete]
func (s *Server) handleLiveDestroy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.Exclude(filepath.Join(s.liveRoot(), id), tokenFrom(r), clientIP(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

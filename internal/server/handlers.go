package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/picccassso/Ariami-sub003/internal/library"
	"github.com/picccassso/Ariami-sub003/internal/streaming"
	"github.com/picccassso/Ariami-sub003/internal/transcode"

	"github.com/gorilla/mux"
)

// errorBody is the uniform error envelope returned by every failing call.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

// handlePing answers the reachability probe used during pairing.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"server":    serverName,
		"version":   serverVersion,
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID   string `json:"deviceId"`
		DeviceName string `json:"deviceName"`
		Platform   string `json:"platform"`
		AppVersion string `json:"appVersion"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid JSON body")
		return
	}
	if req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "deviceId is required")
		return
	}

	client := s.sessions.Connect(req.DeviceID, req.DeviceName, req.Platform)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId":     client.SessionID,
		"serverVersion": serverVersion,
		"features":      serverFeatures,
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid JSON body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "sessionId is required")
		return
	}

	s.sessions.Disconnect(req.SessionID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid JSON body")
		return
	}
	if !s.sessions.Heartbeat(req.SessionID) {
		writeError(w, http.StatusGone, "session_expired", "Session is no longer valid")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLibrary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.library.Summary())
}

func (s *Server) handleAlbums(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.library.Albums())
}

func (s *Server) handleSongs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.library.Songs())
}

func (s *Server) handleAlbumDetail(w http.ResponseWriter, r *http.Request) {
	albumID := mux.Vars(r)["id"]
	album, ok := s.library.AlbumDetail(albumID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Album not found")
		return
	}
	writeJSON(w, http.StatusOK, album)
}

// handleScan triggers a library rescan. A scan already in progress is a
// rejected no-op, never queued.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if err := s.library.StartScan(s.cfg.Library.Path); err != nil {
		if err == library.ErrScanInProgress {
			writeError(w, http.StatusConflict, "scan_in_progress", "A library scan is already running")
			return
		}
		writeError(w, http.StatusInternalServerError, "scan_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scanning"})
}

// resolveStreamPath maps a stream/download request to the file to serve,
// transcoding for reduced quality tiers.
func (s *Server) resolveStreamPath(r *http.Request) (servePath, sourcePath string, ok bool) {
	songID := mux.Vars(r)["songId"]
	sourcePath, found := s.library.SongPath(songID)
	if !found {
		return "", "", false
	}

	quality := transcode.ParseQuality(r.URL.Query().Get("quality"))
	servePath, err := s.transcoder.Path(r.Context(), sourcePath, songID, quality)
	if err != nil {
		servePath = sourcePath
	}
	return servePath, sourcePath, true
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	servePath, _, ok := s.resolveStreamPath(r)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Song not found")
		return
	}
	streaming.ServeFile(w, r, servePath, s.logger)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	servePath, sourcePath, ok := s.resolveStreamPath(r)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Song not found")
		return
	}
	// Keep the original base name but the served extension, which differs
	// when a transcoded rendition is delivered.
	name := filepath.Base(sourcePath)
	name = name[:len(name)-len(filepath.Ext(name))] + filepath.Ext(servePath)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	streaming.ServeFile(w, r, servePath, s.logger)
}

func (s *Server) handleArtwork(w http.ResponseWriter, r *http.Request) {
	albumID := mux.Vars(r)["albumId"]
	data, mime, err := s.library.Artwork(r.Context(), albumID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "No artwork for this album")
		return
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	lib := s.library.Library()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "healthy",
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
		"songCount":        lib.SongCount(),
		"albumCount":       len(lib.Albums),
		"scanning":         s.library.Scanning(),
		"connectedClients": s.sessions.Count(),
		"transcoding":      s.transcoder.Available(),
	})
}

// Package api serves a small read-only HTTP surface over the daemon:
// the loaded lyrics, the current synchronization position, and a health
// endpoint. DBus remains the primary interface; HTTP is opt-in for
// clients that cannot speak it.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/lyricsd/lyricsd/internal/config"
	"github.com/lyricsd/lyricsd/internal/errors"
	"github.com/lyricsd/lyricsd/internal/logger"
	"github.com/lyricsd/lyricsd/internal/lrc"
	"github.com/lyricsd/lyricsd/internal/syncer"
)

// LyricsSource reads the loaded document and the active position.
type LyricsSource interface {
	Document() *lrc.Document
	Position() (lineIndex int, seg syncer.SegmentRange, ok bool)
}

// PlaybackSource reads the extrapolated playback position.
type PlaybackSource interface {
	Position() (lrc.Timestamp, bool)
}

// Server hosts the HTTP API.
type Server struct {
	logger   *logger.Logger
	lyrics   LyricsSource
	playback PlaybackSource

	router     *chi.Mux
	httpServer *http.Server
	instanceID string
	startedAt  time.Time
}

// NewServer builds the router. Nothing listens until Start.
func NewServer(log *logger.Logger, cfg config.HTTPConfig, lyrics LyricsSource, playback PlaybackSource) *Server {
	s := &Server{
		logger:     log,
		lyrics:     lyrics,
		playback:   playback,
		router:     chi.NewRouter(),
		instanceID: uuid.NewString(),
		startedAt:  time.Now(),
	}
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/lyrics", s.handleLyrics)
		r.Get("/position", s.handlePosition)
	})

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Start listens in the background and reports startup failures on the
// returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// InstanceID identifies this daemon instance for discovery.
func (s *Server) InstanceID() string {
	return s.instanceID
}

// HealthResponse contains health check data.
type HealthResponse struct {
	Status   string `json:"status"`
	Instance string `json:"instance"`
	Uptime   string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "healthy",
		Instance: s.instanceID,
		Uptime:   time.Since(s.startedAt).Round(time.Second).String(),
	}, s.logger)
}

// LyricsResponse is the loaded document, one plain-text line per entry.
type LyricsResponse struct {
	Title  string   `json:"title,omitempty"`
	Artist string   `json:"artist,omitempty"`
	Album  string   `json:"album,omitempty"`
	Lines  []string `json:"lines"`
}

func (s *Server) handleLyrics(w http.ResponseWriter, _ *http.Request) {
	doc := s.lyrics.Document()
	if doc == nil {
		writeError(w, errors.NotFound("no lyrics loaded"), s.logger)
		return
	}
	writeJSON(w, http.StatusOK, LyricsResponse{
		Title:  doc.Title,
		Artist: doc.Artist,
		Album:  doc.Album,
		Lines:  doc.PlainText(),
	}, s.logger)
}

// PositionResponse reports playback and the active line and segment.
// The segment fields are meaningful only while Active is true.
type PositionResponse struct {
	Active         bool  `json:"active"`
	PlaybackMS     int64 `json:"playback_ms,omitempty"`
	Line           int   `json:"line"`
	CharFrom       int   `json:"char_from"`
	CharTo         int   `json:"char_to"`
	SegmentStartMS int64 `json:"segment_start_ms"`
}

func (s *Server) handlePosition(w http.ResponseWriter, _ *http.Request) {
	resp := PositionResponse{Line: syncer.NoLine, CharFrom: -1, CharTo: -1, SegmentStartMS: -1}
	if pos, ok := s.playback.Position(); ok {
		resp.PlaybackMS = int64(pos)
	}
	if idx, seg, ok := s.lyrics.Position(); ok {
		resp.Active = true
		resp.Line = idx
		resp.CharFrom = seg.CharFrom
		resp.CharTo = seg.CharTo
		resp.SegmentStartMS = int64(seg.Start)
	}
	writeJSON(w, http.StatusOK, resp, s.logger)
}

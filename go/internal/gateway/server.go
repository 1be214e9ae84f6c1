package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/wordparty/go/internal/directory"
	"github.com/mcdev12/wordparty/go/internal/room"
)

const qrSize = 320

// Options configures the HTTP surface.
type Options struct {
	Addr      string
	PublicURL string
}

// Server exposes the room directory, join QR codes and the websocket relay.
type Server struct {
	opts  Options
	rooms directory.Lister
	conns *ConnectionManager
}

// NewServer creates the gateway server.
func NewServer(opts Options, rooms directory.Lister, conns *ConnectionManager) *Server {
	opts.PublicURL = strings.TrimRight(opts.PublicURL, "/")
	return &Server{opts: opts, rooms: rooms, conns: conns}
}

// Handler returns the routed handler wrapped with CORS.
func (s *Server) Handler() http.Handler {
	mux := httprouter.New()
	mux.GET("/health", s.health)
	mux.GET("/rooms", s.listRooms)
	mux.GET("/rooms/:code/qr", s.qr)
	mux.GET("/rooms/:code/ws", s.websocket)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}

// HTTPServer builds an http.Server speaking HTTP/1.1 and cleartext HTTP/2.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.opts.Addr,
		Handler:           h2c.NewHandler(s.Handler(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := s.HTTPServer()
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.opts.Addr).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("gateway shutdown")
	}
	log.Info().Msg("gateway stopped")
	return nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		log.Error().Err(err).Msg("failed to write health check response")
	}
}

func (s *Server) listRooms(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	rooms, err := s.rooms.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list rooms")
		http.Error(w, "failed to list rooms", http.StatusInternalServerError)
		return
	}
	if r.URL.Query().Get("all") == "" {
		rooms = directory.Joinable(rooms)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rooms); err != nil {
		log.Error().Err(err).Msg("failed to write rooms response")
	}
}

// JoinURL is the link encoded in a room's QR code.
func (s *Server) JoinURL(code string) string {
	return s.opts.PublicURL + "/rooms/" + code
}

func (s *Server) qr(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	code, err := room.NormalizeCode(ps.ByName("code"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	png, err := qrcode.Encode(s.JoinURL(code), qrcode.Medium, qrSize)
	if err != nil {
		log.Error().Err(err).Str("room", code).Msg("qr generation failed")
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func (s *Server) websocket(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	code, err := room.NormalizeCode(ps.ByName("code"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.conns.UpgradeConnection(w, r, code); err != nil {
		log.Warn().Err(err).Str("room", code).Msg("websocket upgrade failed")
	}
}

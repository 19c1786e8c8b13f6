package rpz

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// ServerOptions configures the item service.
type ServerOptions struct {
	// RejectDuplicates answers 409 when an item ID is created twice.
	// Otherwise the later POST replaces the item.
	RejectDuplicates bool

	// Logger receives request logs at debug level
	Logger logrus.FieldLogger
}

// Server is an in-memory item store exposing
//
//	POST /rpz/items        create an item, 201 with the stored item
//	GET  /rpz/items/{id}   200 with the item, 404 if unknown
type Server struct {
	mu    sync.RWMutex
	items map[string]Item

	opts   ServerOptions
	logger logrus.FieldLogger
	router chi.Router
}

// NewServer creates an empty item service.
func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	s := &Server{
		items:  make(map[string]Item),
		opts:   opts,
		logger: logger.WithField("component", "rpz-server"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)

	r.Route("/rpz/items", func(r chi.Router) {
		r.Post("/", s.handlePostItem)
		r.Get("/{itemID}", s.handleGetItem)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Len returns the number of stored items.
func (s *Server) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Get returns a stored item.
func (s *Server) Get(id string) (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	return item, ok
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")

	item, ok := s.Get(itemID)
	if !ok {
		respondError(w, http.StatusNotFound, "item not found")
		return
	}

	respondJSON(w, http.StatusOK, item)
}

func (s *Server) handlePostItem(w http.ResponseWriter, r *http.Request) {
	var item Item
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if item.ID == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}

	item.Timestamp = time.Now().UTC()

	s.mu.Lock()
	if _, exists := s.items[item.ID]; exists && s.opts.RejectDuplicates {
		s.mu.Unlock()
		respondError(w, http.StatusConflict, "item already exists")
		return
	}
	s.items[item.ID] = item
	s.mu.Unlock()

	respondJSON(w, http.StatusCreated, item)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("request")
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// ListenAndServe serves s on addr until ctx is done, then shuts down
// gracefully. TLS is used when certFile and keyFile are both set.
func (s *Server) ListenAndServe(ctx context.Context, addr, certFile, keyFile string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if certFile != "" && keyFile != "" {
			s.logger.WithField("addr", addr).Info("listening (TLS)")
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			s.logger.WithField("addr", addr).Info("listening")
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

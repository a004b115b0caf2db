package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

type Server struct {
	httpServer *http.Server
	router     *mux.Router
}

func NewServer(address string) *Server {
	srv := &http.Server{
		Addr:        address,
		ReadTimeout: 30 * time.Second,
		// no WriteTimeout, receipt streams stay open until paid or cancelled
	}
	apiServer := &Server{
		httpServer: srv,
	}
	apiServer.router = mux.NewRouter()
	apiServer.httpServer.Handler = apiServer.router
	return apiServer
}

func (w *Server) ListenAndServe() {
	go func() {
		log.Infof("[api] Server started at %s", w.httpServer.Addr)
		if err := w.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("[api] server stopped: %v", err)
		}
	}()
}

func (w *Server) Shutdown(ctx context.Context) error {
	return w.httpServer.Shutdown(ctx)
}

func (w *Server) Handler() http.Handler {
	return w.router
}

func (w *Server) Use(mwf ...mux.MiddlewareFunc) {
	w.router.Use(mwf...)
}

// AppendRoute registers handler for path. OPTIONS is always allowed so the
// embedding page can run CORS preflights.
func (w *Server) AppendRoute(path string, handler func(http.ResponseWriter, *http.Request), methods ...string) {
	r := w.router.HandleFunc(path, LoggingMiddleware("API", handler))
	if len(methods) > 0 {
		r.Methods(append(methods, http.MethodOptions)...)
	}
}

func WriteResponse(writer http.ResponseWriter, response interface{}) error {
	jsonResponse, err := json.Marshal(response)
	if err != nil {
		return err
	}
	writer.Header().Set("Content-Type", "application/json")
	_, err = writer.Write(jsonResponse)
	return err
}

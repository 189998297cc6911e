// Package httpapi is the public HTTP surface: the chunked upload protocol,
// transfer creation, owner operations and the retrieval endpoints.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/sharedrop/internal/logging"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	address string
	handler http.Handler
	logger  logging.Logger
}

func NewServer(address string, handler http.Handler, l logging.Logger) *Server {
	return &Server{address: address, handler: handler, logger: l.With("module", "http_server")}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "Starting HTTP server", "address", s.address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.logger.Info(ctx, "Stopping HTTP server...")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

// NewRouter builds the gin engine with every route.
func NewRouter(h *Handler, secret []byte, l logging.Logger) *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = 32 << 20
	r.Use(gin.Recovery(), requestLogger(l))

	r.GET("/healthz", h.health)

	upload := r.Group("/upload", RequireSender(secret))
	upload.POST("/initiate", h.initiate)
	upload.POST("/get-part-url", h.partURL)
	upload.POST("/list-parts", h.listParts)
	upload.POST("/complete", h.complete)
	upload.POST("/abort", h.abort)
	upload.POST("/transfer", h.recordTransfer)
	upload.POST("/presigned", h.presigned)
	upload.POST("/presigned/:fileId/uploaded", h.presignedUploaded)
	upload.POST("", h.relayedUpload)

	user := r.Group("/user", RequireSender(secret))
	user.POST("/transfers/:id/toggle", h.toggle)
	user.POST("/transfers/:id/password", h.setPassword)

	transfer := r.Group("/transfer")
	transfer.GET("/:shareToken", h.info)
	transfer.POST("/:shareToken", h.confirm)
	transfer.GET("/:shareToken/download", h.download)

	return r
}

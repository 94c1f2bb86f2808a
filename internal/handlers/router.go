package handlers

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterOptions configure the HTTP surface around a Handler.
type RouterOptions struct {
	Mode           string
	AllowedOrigins []string
	LimiterRate    string
	FrontendDir    string
}

// NewRouter wires the middleware chain and every route.
func NewRouter(h *Handler, opts RouterOptions) (*gin.Engine, error) {
	if opts.Mode != "" {
		gin.SetMode(opts.Mode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(h.log))
	r.Use(CORS(opts.AllowedOrigins))
	if h.metrics != nil {
		r.Use(Instrument(h.metrics))
		r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	r.GET("/health", h.Health)
	r.GET("/version", h.Version)
	r.Static("/uploads", h.opts.UploadDir)

	api := r.Group("/api")
	if opts.LimiterRate != "" {
		limit, err := RateLimit(opts.LimiterRate)
		if err != nil {
			return nil, err
		}
		api.Use(limit)
	}
	upload := []gin.HandlerFunc{h.Compress}
	if h.opts.MaxUploadSize > 0 {
		upload = append([]gin.HandlerFunc{BodyLimit(h.opts.MaxUploadSize + multipartOverhead)}, upload...)
	}
	{
		api.POST("/compress", upload...)
		api.GET("/images", h.Images)
		api.GET("/docs", h.Docs)
	}

	index := filepath.Join(opts.FrontendDir, "index.html")
	if opts.FrontendDir != "" && fileExists(index) {
		h.log.Info("serving frontend", zap.String("dir", opts.FrontendDir))
		r.StaticFile("/", index)
		r.NoRoute(gin.WrapH(http.FileServer(gin.Dir(opts.FrontendDir, false))))
	} else {
		r.GET("/", h.Root)
	}
	return r, nil
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

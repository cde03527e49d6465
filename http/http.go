package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/jkaberg/torsync/config"
	"github.com/jkaberg/torsync/torrent"
)

const shutdownTimeout = 5 * time.Second

// NewRouter builds the API served to the UI. A nil gatherer disables
// /metrics.
func NewRouter(s *torrent.Core, ch *config.Handler, g prometheus.Gatherer, logPath string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.ErrorLogger())
	r.Use(Logger())

	if g != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	{
		api.GET("/log", apiLogHandler(logPath))
		api.GET("/stats", apiStatsHandler(s))
		api.GET("/events", apiEventsHandler(s))

		api.GET("/torrents", apiTorrentsHandler(s))
		api.POST("/torrents", apiAddTorrentHandler(s))
		api.POST("/torrents/upload", apiUploadTorrentHandler(s))
		api.GET("/torrents/:id", apiTorrentDetailsHandler(s))
		api.DELETE("/torrents/:id", apiDelTorrentHandler(s))
		api.POST("/torrents/:id/pause", apiPauseHandler(s, true))
		api.POST("/torrents/:id/resume", apiPauseHandler(s, false))
		api.POST("/torrents/:id/move", apiMoveHandler(s))
		api.POST("/torrents/:id/rename", apiRenameHandler(s))

		api.GET("/prompts/:id", apiPromptHandler(s))
		api.POST("/prompts/:id", apiConfirmPromptHandler(s))
		api.DELETE("/prompts/:id", apiCancelPromptHandler(s))

		api.GET("/create", apiCreateJobsHandler(s))
		api.POST("/create", apiCreateHandler(s))
		api.GET("/create/:id", apiCreateJobHandler(s))
		api.DELETE("/create/:id", apiCancelCreateHandler(s))

		api.GET("/settings/view", apiGetViewHandler(s))
		api.POST("/settings/view", apiSetViewHandler(s, ch))
		api.GET("/settings/config", apiGetSettingsHandler(ch))
		api.POST("/settings/config", apiSetSettingsHandler(s, ch))
	}

	// qBittorrent-compatible API, enabled with SetQbtEnabled
	v2 := r.Group("/api/v2")
	{
		registerQBittorrentAPI(v2, s, ch)
	}

	return r
}

// Serve runs the API until ctx is done.
func Serve(ctx context.Context, h http.Handler, cfg *config.HTTPGlobal) error {
	addr := fmt.Sprintf("%s:%d", cfg.IP, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("host", addr).Msg("starting webserver")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("error initializing server: %w", err)
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("error stopping server: %w", err)
	}
	return nil
}

func Logger() gin.HandlerFunc {
	l := log.Logger.With().Str("component", "http").Logger()
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery
		start := time.Now()
		c.Next()
		if raw != "" {
			path = path + "?" + raw
		}
		msg := c.Errors.String()
		if msg == "" {
			msg = "Request"
		}

		s := c.Writer.Status()
		switch {
		case s >= 400 && s < 500:
			l.Warn().Str("path", path).Int("status", s).Dur("took", time.Since(start)).Msg(msg)
		case s >= 500:
			l.Error().Str("path", path).Int("status", s).Dur("took", time.Since(start)).Msg(msg)
		default:
			l.Debug().Str("path", path).Int("status", s).Dur("took", time.Since(start)).Msg(msg)
		}
	}
}

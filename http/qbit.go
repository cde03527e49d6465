package http

import (
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	cfgpkg "github.com/jkaberg/torsync/config"
	"github.com/jkaberg/torsync/torrent"
)

// registerQBittorrentAPI wires the minimal set of qBittorrent-compatible endpoints used by Arr apps.
func registerQBittorrentAPI(rg *gin.RouterGroup, s *torrent.Core, ch *cfgpkg.Handler) {
	// Auth
	rg.POST("/auth/login", qbtGuard(qbtAuthLogin()))
	rg.POST("/auth/logout", qbtGuard(qbtAuthLogout()))

	// App meta
	rg.GET("/app/version", qbtGuard(func(c *gin.Context) { c.String(http.StatusOK, "v4.6.0") }))
	rg.GET("/app/webapiVersion", qbtGuard(func(c *gin.Context) { c.String(http.StatusOK, "2.9.3") }))
	rg.GET("/app/preferences", qbtGuard(qbtAppPreferences(ch)))

	// Torrents
	rg.POST("/torrents/add", qbtGuard(qbtTorrentsAdd(s)))
	rg.GET("/torrents/info", qbtGuard(qbtTorrentsInfo(s)))
	rg.POST("/torrents/delete", qbtGuard(qbtTorrentsDelete(s)))
	rg.POST("/torrents/pause", qbtGuard(qbtTorrentsPause(s, true)))
	rg.POST("/torrents/resume", qbtGuard(qbtTorrentsPause(s, false)))
}

func qbtAuthLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Accept any credentials, set a dummy SID cookie
		http.SetCookie(c.Writer, &http.Cookie{Name: "SID", Value: "ok", Path: "/", HttpOnly: true})
		c.String(http.StatusOK, "Ok.")
	}
}

func qbtAuthLogout() gin.HandlerFunc {
	return func(c *gin.Context) {
		http.SetCookie(c.Writer, &http.Cookie{Name: "SID", Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
		c.String(http.StatusOK, "Ok.")
	}
}

// Helpers
func splitCSV(v, sep string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// runtime toggle
var qbtEnabled atomic.Bool

func SetQbtEnabled(v bool) {
	qbtEnabled.Store(v)
}

func qbtGuard(h gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !qbtEnabled.Load() {
			c.String(http.StatusNotFound, "")
			return
		}
		h(c)
	}
}

// qbtAppPreferences returns minimal preferences used by Arr apps
func qbtAppPreferences(ch *cfgpkg.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		conf, err := ch.Get()
		if err != nil {
			c.String(http.StatusInternalServerError, err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"save_path":                conf.Session.SavePath,
			"start_paused_enabled":     conf.Session.StartPaused,
			"temp_path_enabled":        false,
			"temp_path":                "",
			"create_subfolder_enabled": false,
			"auto_tmm_enabled":         false,
		})
	}
}

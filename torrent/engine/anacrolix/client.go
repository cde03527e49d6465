package anacrolix

import (
	"fmt"
	"net"
	"time"

	"github.com/anacrolix/dht/v2"
	tlog "github.com/anacrolix/log"
	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/storage"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jkaberg/torsync/config"
	dlog "github.com/jkaberg/torsync/log"
)

// anacrolix reads in 16KiB chunks; a smaller burst would stall transfers
const minBurst = 256 << 10

func newClient(st storage.ClientImpl, cfg *config.Session) (*torrent.Client, error) {
	torrentCfg := torrent.NewDefaultClientConfig()
	torrentCfg.Seed = true
	torrentCfg.DataDir = cfg.SavePath
	torrentCfg.DefaultStorage = st
	if cfg.ListenPort > 0 {
		torrentCfg.ListenPort = cfg.ListenPort
	}
	torrentCfg.DisableIPv6 = cfg.DisableIPv6
	torrentCfg.DisableTCP = cfg.DisableTCP
	torrentCfg.DisableUTP = cfg.DisableUTP

	if cfg.IP != "" {
		ip := net.ParseIP(cfg.IP)
		if ip == nil {
			return nil, fmt.Errorf("invalid provided IP: %q", cfg.IP)
		}

		if !ip.IsUnspecified() {
			torrentCfg.PublicIp4 = ip
		}
	}

	l := log.Logger.With().Str("component", "torrent-client").Logger()

	tl := tlog.NewLogger()
	tl.SetHandlers(&dlog.Torrent{L: l})
	torrentCfg.Logger = tl

	torrentCfg.ConfigureAnacrolixDhtServer = func(cfg *dht.ServerConfig) {
		cfg.Exp = 2 * time.Hour
		cfg.NoSecurity = false
	}

	torrentCfg.DownloadRateLimiter = newLimiter(cfg.DownloadLimitMbit)
	torrentCfg.UploadRateLimiter = newLimiter(cfg.UploadLimitMbit)

	return torrent.NewClient(torrentCfg)
}

// newLimiter returns an unlimited limiter when mbit is not positive.
func newLimiter(mbit float64) *rate.Limiter {
	if mbit <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}

	bps := mbit * 1000 * 1000 / 8
	burst := int(bps)
	if burst < minBurst {
		burst = minBurst
	}

	return rate.NewLimiter(rate.Limit(bps), burst)
}

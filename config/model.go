package config

// Root is the main yaml config object
type Root struct {
	HTTPGlobal  *HTTPGlobal  `yaml:"http"`
	Log         *Log         `yaml:"log"`
	Session     *Session     `yaml:"session"`
	Watch       *Watch       `yaml:"watch"`
	Hibernation *Hibernation `yaml:"hibernation"`
	View        *View        `yaml:"view"`
	Stats       *Stats       `yaml:"stats"`
}

type Log struct {
	Debug      bool   `yaml:"debug"`
	MaxBackups int    `yaml:"max_backups"`
	MaxSize    int    `yaml:"max_size"`
	MaxAge     int    `yaml:"max_age"`
	Path       string `yaml:"path"`
}

type HTTPGlobal struct {
	Port int    `yaml:"port"`
	IP   string `yaml:"ip"`
	// QbittorrentAPI serves the qBittorrent-compatible endpoints under /api/v2.
	QbittorrentAPI bool `yaml:"qbittorrent_api"`
}

// Session holds the engine and reactive loop settings.
type Session struct {
	MetadataFolder string `yaml:"metadata_folder,omitempty"`
	SavePath       string `yaml:"save_path,omitempty"`
	StartPaused    bool   `yaml:"start_paused,omitempty"`

	// AlertIntervalMs is the period of the alert dispatch tick.
	AlertIntervalMs int `yaml:"alert_interval_ms,omitempty"`
	// CloseTimeoutSec bounds the shutdown wait for pending persistence.
	CloseTimeoutSec int `yaml:"close_timeout_sec,omitempty"`
	// FreshForSec is how long a freshly added torrent is presented as new.
	FreshForSec int `yaml:"fresh_for_sec,omitempty"`

	DisableIPv6       bool    `yaml:"disable_ipv6,omitempty"`
	DisableTCP        bool    `yaml:"disable_tcp,omitempty"`
	DisableUTP        bool    `yaml:"disable_utp,omitempty"`
	IP                string  `yaml:"ip,omitempty"`
	ListenPort        int     `yaml:"listen_port,omitempty"`
	DownloadLimitMbit float64 `yaml:"download_limit_mbit,omitempty"`
	UploadLimitMbit   float64 `yaml:"upload_limit_mbit,omitempty"`
}

type Watch struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	DebounceSec int    `yaml:"debounce_sec,omitempty"`
	IntervalMs  int    `yaml:"interval_ms,omitempty"`
}

type Hibernation struct {
	// PreventSleep keeps the system awake while any torrent is active.
	PreventSleep bool `yaml:"prevent_sleep"`
	IntervalSec  int  `yaml:"interval_sec,omitempty"`
}

type View struct {
	Mode     string `yaml:"mode,omitempty"`
	Reversed bool   `yaml:"reversed,omitempty"`
}

type Stats struct {
	RateWindow      int `yaml:"rate_window,omitempty"`
	SaveIntervalSec int `yaml:"save_interval_sec,omitempty"`
}

func AddDefaults(r *Root) *Root {
	if r.Session == nil {
		r.Session = &Session{}
	}

	if r.Session.MetadataFolder == "" {
		r.Session.MetadataFolder = metadataFolder
	}

	if r.Session.SavePath == "" {
		r.Session.SavePath = downloadFolder
	}

	if r.Session.AlertIntervalMs == 0 {
		r.Session.AlertIntervalMs = 1000
	}

	if r.Session.CloseTimeoutSec == 0 {
		r.Session.CloseTimeoutSec = 30
	}

	if r.Session.FreshForSec == 0 {
		r.Session.FreshForSec = 10
	}

	if r.HTTPGlobal == nil {
		r.HTTPGlobal = &HTTPGlobal{}
	}

	if r.HTTPGlobal.IP == "" {
		r.HTTPGlobal.IP = "0.0.0.0"
	}

	if r.HTTPGlobal.Port == 0 {
		r.HTTPGlobal.Port = 4444
	}

	if r.Log == nil {
		r.Log = &Log{}
	}

	if r.Watch == nil {
		r.Watch = &Watch{}
	}
	if r.Watch.DebounceSec == 0 {
		r.Watch.DebounceSec = 2
	}
	if r.Watch.IntervalMs == 0 {
		r.Watch.IntervalMs = 1000
	}

	if r.Hibernation == nil {
		r.Hibernation = &Hibernation{}
	}
	if r.Hibernation.IntervalSec == 0 {
		r.Hibernation.IntervalSec = 5
	}

	if r.View == nil {
		r.View = &View{}
	}
	if r.View.Mode == "" {
		r.View.Mode = "name"
	}

	if r.Stats == nil {
		r.Stats = &Stats{}
	}
	if r.Stats.RateWindow == 0 {
		r.Stats.RateWindow = 5
	}
	if r.Stats.SaveIntervalSec == 0 {
		r.Stats.SaveIntervalSec = 300
	}

	return r
}

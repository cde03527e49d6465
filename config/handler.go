package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	goyaml "github.com/goccy/go-yaml"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	metadataFolder = "./torsync-data/metadata"
	downloadFolder = "./torsync-data/downloads"
)

const defaultTemplate = `# torsync configuration
http:
  port: 4444
  ip: "0.0.0.0"
  qbittorrent_api: false

log:
  debug: false
  path: "./torsync-data/logs"
  max_backups: 2
  max_size: 50
  max_age: 30

session:
  metadata_folder: "./torsync-data/metadata"
  save_path: "./torsync-data/downloads"
  alert_interval_ms: 1000
  close_timeout_sec: 30

watch:
  enabled: false
  path: "./torsync-data/watch"

hibernation:
  prevent_sleep: true

view:
  mode: name
`

// Handler loads and saves the YAML configuration file. A default file is
// written on first use.
type Handler struct {
	p  string
	mu sync.Mutex
}

func NewHandler(path string) *Handler {
	return &Handler{p: path}
}

func (c *Handler) createFromTemplateFile() error {
	if err := os.MkdirAll(filepath.Dir(c.p), 0744); err != nil {
		return fmt.Errorf("error creating path for configuration file: %s, %w", c.p, err)
	}
	return os.WriteFile(c.p, []byte(defaultTemplate), 0644)
}

// GetRaw returns the file contents, creating the default file if missing.
func (c *Handler) GetRaw() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getRaw()
}

func (c *Handler) getRaw() ([]byte, error) {
	f, err := os.ReadFile(c.p)
	if errors.Is(err, os.ErrNotExist) {
		log.Info().Str("file", c.p).Msg("configuration file does not exist, creating from template file")
		if err := c.createFromTemplateFile(); err != nil {
			return nil, fmt.Errorf("error creating configuration file: %w", err)
		}

		f, err = os.ReadFile(c.p)
	}
	if err != nil {
		return nil, fmt.Errorf("error reading configuration file: %w", err)
	}

	return f, nil
}

func (c *Handler) Get() (*Root, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, err := c.getRaw()
	if err != nil {
		return nil, err
	}

	return Parse(b)
}

// Parse decodes a configuration document and applies defaults. Unknown keys
// are rejected.
func Parse(b []byte) (*Root, error) {
	conf := &Root{}
	if err := goyaml.UnmarshalWithOptions(b, conf, goyaml.Strict()); err != nil {
		return nil, fmt.Errorf("error parsing configuration file:\n%s", goyaml.FormatError(err, false, true))
	}

	return AddDefaults(conf), nil
}

// Save writes the configuration atomically.
func (c *Handler) Save(conf *Root) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(conf); err != nil {
		return fmt.Errorf("error encoding configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(c.p), 0744); err != nil {
		return err
	}
	tmp := c.p + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, c.p)
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/jkaberg/torsync/config"
	"github.com/jkaberg/torsync/http"
	dlog "github.com/jkaberg/torsync/log"
	"github.com/jkaberg/torsync/torrent"
	"github.com/jkaberg/torsync/torrent/engine/anacrolix"
	"github.com/jkaberg/torsync/torrent/loader"
)

const (
	configFlag = "config"
	portFlag   = "http-port"
	watchFlag  = "watch"
)

func main() {
	app := &cli.App{
		Name:  "torsync",
		Usage: "BitTorrent client daemon with resume state, a watch folder and an HTTP API.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    configFlag,
				Value:   "./torsync-data/config/config.yaml",
				EnvVars: []string{"TORSYNC_CONFIG"},
				Usage:   "YAML file containing torsync configuration.",
			},
			&cli.IntFlag{
				Name:    portFlag,
				EnvVars: []string{"TORSYNC_HTTP_PORT"},
				Usage:   "HTTP port for the API. Overrides the configuration file.",
			},
			&cli.StringFlag{
				Name:    watchFlag,
				EnvVars: []string{"TORSYNC_WATCH"},
				Usage:   "Folder watched for new .torrent files. Overrides the configuration file.",
			},
		},

		Action: func(c *cli.Context) error {
			err := load(c.String(configFlag), c.Int(portFlag), c.String(watchFlag))

			// stop program execution on errors to avoid flashing consoles
			if err != nil && runtime.GOOS == "windows" {
				log.Error().Err(err).Msg("problem starting application")
				fmt.Print("Press 'Enter' to continue...")
				bufio.NewReader(os.Stdin).ReadBytes('\n')
			}

			return err
		},

		HideHelpCommand: true,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("problem starting application")
	}
}

// overrides applies command line values on top of the configuration file
// every time the core reads it.
type overrides struct {
	*config.Handler
	port  int
	watch string
}

func (o *overrides) Get() (*config.Root, error) {
	conf, err := o.Handler.Get()
	if err != nil {
		return nil, err
	}
	if o.port != 0 {
		conf.HTTPGlobal.Port = o.port
	}
	if o.watch != "" {
		conf.Watch.Enabled = true
		conf.Watch.Path = o.watch
	}
	return conf, nil
}

func load(configPath string, port int, watch string) error {
	ch := config.NewHandler(configPath)
	src := &overrides{Handler: ch, port: port, watch: watch}

	conf, err := src.Get()
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}

	dlog.Load(conf.Log)
	gin.SetMode(gin.ReleaseMode)

	if err := os.MkdirAll(conf.Session.MetadataFolder, 0744); err != nil {
		return fmt.Errorf("error creating metadata folder: %w", err)
	}

	db, err := loader.NewDB(filepath.Join(conf.Session.MetadataFolder, "resume"))
	if err != nil {
		return fmt.Errorf("error starting resume database: %w", err)
	}
	defer func() {
		log.Info().Msg("closing resume database...")
		if err := db.Close(); err != nil {
			log.Warn().Err(err).Msg("problem closing resume database")
		}
	}()

	eng, err := anacrolix.New(conf.Session)
	if err != nil {
		return fmt.Errorf("error starting torrent client: %w", err)
	}
	defer func() {
		log.Info().Msg("closing torrent client...")
		if err := eng.Close(); err != nil {
			log.Warn().Err(err).Msg("problem closing torrent client")
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	core, err := torrent.New(src, eng, db,
		torrent.WithInhibitor(torrent.SystemInhibitor()),
		torrent.WithMetrics(reg),
	)
	if err != nil {
		return fmt.Errorf("error starting torrent core: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logFilename := filepath.Join(conf.Log.Path, dlog.FileName)
	router := http.NewRouter(core, ch, reg, logFilename)
	http.SetQbtEnabled(conf.HTTPGlobal.QbittorrentAPI)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return core.Run(gctx)
	})
	g.Go(func() error {
		return http.Serve(gctx, router, conf.HTTPGlobal)
	})
	g.Go(func() error {
		log.Info().Msg("restoring torrents...")
		if err := core.Restore(gctx); err != nil {
			log.Error().Err(err).Msg("error restoring torrents")
		}
		return nil
	})

	err = g.Wait()

	log.Info().Msg("closing torrent core...")
	if cerr := core.Close(context.Background()); cerr != nil {
		log.Warn().Err(cerr).Msg("problem closing torrent core")
	}

	if err != nil {
		log.Error().Err(err).Msg("error running torsync")
		return err
	}

	log.Info().Msg("exiting")
	return nil
}

package cmd

import (
	"context"
	"net"
	"os"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sqlgateway/flightgw/internal/action"
	"github.com/sqlgateway/flightgw/internal/connreg"
	"github.com/sqlgateway/flightgw/internal/engine"
	"github.com/sqlgateway/flightgw/internal/flightserver"
	"github.com/sqlgateway/flightgw/internal/pipeline"
	"github.com/sqlgateway/flightgw/internal/pyblock"
	"github.com/sqlgateway/flightgw/internal/reader"
	"github.com/sqlgateway/flightgw/internal/session"
	"github.com/sqlgateway/flightgw/internal/template"
	"github.com/sqlgateway/flightgw/internal/templatemeta"
)

const defaultAddr = "grpc://0.0.0.0:8815"

type runParams struct {
	addr               string
	templateDirs       []string
	dataDB             string
	seedConnectionsFile string
	downloadsDir       string
	sessionCapacity    int
	logLevel           string
}

// runCommand provides the CLI entrypoint for the `run` subcommand (spec.md
// §2's out-of-scope "CLI launcher", SPEC_FULL.md §2's cobra/pflag layering).
func runCommand() *cobra.Command {
	p := &runParams{}

	c := &cobra.Command{
		Use:   "run",
		Short: "Run the SQL gateway's Flight server",
		RunE: func(c *cobra.Command, _ []string) error {
			return run(c.Context(), p)
		},
	}

	c.Flags().StringVar(&p.addr, "addr", defaultAddr, "listen address, e.g. grpc://0.0.0.0:8815")
	c.Flags().StringArrayVar(&p.templateDirs, "template-dir", nil, "directory to search for template YAML files (repeatable)")
	c.Flags().StringVar(&p.dataDB, "data-db", "./data/meta.db", "path to the connection-registry metadata SQLite database")
	c.Flags().StringVar(&p.seedConnectionsFile, "seed-connections-file", "", "YAML/JSON file of name->connection-string seeds, merged at startup as system connections")
	c.Flags().StringVar(&p.downloadsDir, "downloads-dir", "./downloads", "directory python blocks publish byte-stream return values under")
	c.Flags().IntVar(&p.sessionCapacity, "session-capacity", 100, "maximum number of live sessions before FIFO eviction")
	c.Flags().StringVar(&p.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	return c
}

func run(ctx context.Context, p *runParams) error {
	log := newLogger(p.logLevel)

	if err := os.MkdirAll(p.downloadsDir, 0o755); err != nil {
		return err
	}
	pyblock.DownloadsDir = p.downloadsDir

	conns, err := connreg.Open(ctx, p.dataDB)
	if err != nil {
		return err
	}
	defer conns.Close()

	if p.seedConnectionsFile != "" {
		seeds, err := loadSeedConnections(p.seedConnectionsFile)
		if err != nil {
			return err
		}
		if err := conns.SeedSystemConnections(ctx, seeds); err != nil {
			return err
		}
	}

	eng := engine.New()
	sessions := session.NewManager(p.sessionCapacity, func(id string) (session.AnalyticalContext, error) {
		return eng.NewSessionContext(id)
	}, log)

	loader := templatemeta.NewLoader(p.templateDirs)
	reader.Register()
	pyblock.Register()
	templates := template.New(loader, log)

	pl := &pipeline.Pipeline{
		Sessions:    sessions,
		Templates:   templates,
		Connections: conns,
		Log:         log,
	}
	actions := &action.Handler{Sessions: sessions, Connections: conns}

	fsrv := flightserver.New(pl, actions, loader, log)
	grpcServer := flightserver.NewGRPCServer(fsrv, prometheus.DefaultRegisterer)

	network, address := splitAddr(p.addr)
	lis, err := net.Listen(network, address)
	if err != nil {
		return err
	}

	log.Info().Str("addr", p.addr).Msg("listening")
	return grpcServer.Serve(lis)
}

// splitAddr strips an optional grpc:// scheme from --addr, defaulting to tcp.
func splitAddr(addr string) (network, address string) {
	if rest, ok := strings.CutPrefix(addr, "grpc://"); ok {
		return "tcp", rest
	}
	return "tcp", addr
}

func loadSeedConnections(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	seeds := map[string]string{}
	if err := yaml.Unmarshal(raw, &seeds); err != nil {
		return nil, err
	}
	return seeds, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

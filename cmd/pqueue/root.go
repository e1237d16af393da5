package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vnykmshr/pqueue/internal/config"
	"github.com/vnykmshr/pqueue/internal/logging"
	"github.com/vnykmshr/pqueue/pkg/pqueue"
)

// app holds state shared by every subcommand.
type app struct {
	configPath string
	backend    string
	path       string
	codec      string
	logLevel   string

	cfg    *config.Config
	logger *logging.ZapLogger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "pqueue",
		Short:         "Inspect and operate persistent queues of Person records",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.teardown()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "YAML configuration file")
	flags.StringVar(&a.backend, "backend", "", "storage backend: applog or snapshot")
	flags.StringVar(&a.path, "path", "", "queue file path")
	flags.StringVar(&a.codec, "codec", "", "record codec: msgpack or bson")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newDemoCmd(a),
		newEnqueueCmd(a),
		newDequeueCmd(a),
		newCountCmd(a),
		newStatsCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup loads configuration, applies flag overrides, and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg := config.Default()
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Queue.Backend = a.backend
	}
	if flags.Changed("path") {
		cfg.Queue.Path = a.path
	}
	if flags.Changed("codec") {
		cfg.Queue.Codec = a.codec
	}
	if flags.Changed("log-level") {
		cfg.Logger.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg, err := cfg.Logger.LoggingConfig()
	if err != nil {
		return err
	}
	logger, err := logging.NewZapLogger(logCfg)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) teardown() error {
	if a.logger == nil {
		return nil
	}
	return a.logger.Close()
}

// options builds queue options from the resolved configuration.
func (a *app) options() (*pqueue.Options[Person], error) {
	c, err := pqueue.CodecByName[Person](a.cfg.Queue.Codec)
	if err != nil {
		return nil, err
	}
	return &pqueue.Options[Person]{
		Codec:             c,
		InitialFileLength: a.cfg.Queue.InitialFileLength,
		MaxRecordSize:     a.cfg.Queue.MaxRecordSize,
		Logger:            pqueue.NewZapLogger(a.logger.Zap()),
	}, nil
}

// openQueue opens the configured queue. The path must be set by the
// configuration file or --path.
func (a *app) openQueue() (pqueue.Queue[Person], error) {
	if a.cfg.Queue.Path == "" {
		return nil, fmt.Errorf("queue path required (use --path or queue.path in the config file)")
	}
	backend, err := pqueue.ParseBackend(a.cfg.Queue.Backend)
	if err != nil {
		return nil, err
	}
	opts, err := a.options()
	if err != nil {
		return nil, err
	}
	return pqueue.Open[Person](backend, a.cfg.Queue.Path, opts)
}

// withQueue opens the configured queue, runs fn, and closes the queue.
func (a *app) withQueue(fn func(q pqueue.Queue[Person]) error) (err error) {
	q, err := a.openQueue()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := q.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(q)
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.bug.st/serial"

	"nodelog/internal/archive"
	"nodelog/internal/receiver"
	"nodelog/sensor"
)

func main() {
	var (
		cfgPath string
		port    string
		nodeID  string
	)

	loadConfig := func() (*receiver.Config, error) {
		cfg, err := receiver.Load(cfgPath)
		if err != nil {
			return nil, err
		}
		if port != "" {
			cfg.Serial.Port = port
		}
		if nodeID != "" {
			cfg.Node.ID = nodeID
		}
		return cfg, nil
	}

	rootCmd := &cobra.Command{
		Use:          "nodelog-recv",
		Short:        "Receiver for nodelog sensor nodes",
		Long:         "nodelog-recv talks to a sensor node over a serial link: it toggles logging, drains the node's flash log into a local archive and prints live samples.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "nodelog-recv.yaml", "receiver config file")
	rootCmd.PersistentFlags().StringVarP(&port, "port", "p", "", "serial port (overrides config)")
	rootCmd.PersistentFlags().StringVar(&nodeID, "node", "", "node id used as archive key (overrides config)")

	// drain
	drainCmd := &cobra.Command{
		Use:   "drain",
		Short: "Export the node's log into the archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			timeout, _ := cmd.Flags().GetDuration("timeout")
			if timeout <= 0 {
				timeout = cfg.Drain.Timeout
			}
			return withLink(cmd.Context(), cfg, true, func(ctx context.Context, r *receiver.Receiver) error {
				if err := r.Subscribe(true); err != nil {
					return err
				}
				dctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				res, err := r.Drain(dctx)
				if err != nil {
					return err
				}
				fmt.Printf("drained %d records (%d new), drain #%d\n", res.Records, res.Added, res.Drains)
				return nil
			})
		},
	}
	drainCmd.Flags().Duration("timeout", 0, "give up after this long (default from config)")
	rootCmd.AddCommand(drainCmd)

	// logging on|off
	loggingCmd := &cobra.Command{
		Use:       "logging on|off",
		Short:     "Enable or disable logging on the node",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var on bool
			switch strings.ToLower(args[0]) {
			case "on", "1", "true":
				on = true
			case "off", "0", "false":
			default:
				return fmt.Errorf("expected on or off, got %q", args[0])
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return withLink(cmd.Context(), cfg, false, func(_ context.Context, r *receiver.Receiver) error {
				return r.SetLogging(on)
			})
		},
	}
	rootCmd.AddCommand(loggingCmd)

	// watch
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Print live samples until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return withLink(cmd.Context(), cfg, false, func(ctx context.Context, r *receiver.Receiver) error {
				if err := r.Subscribe(true); err != nil {
					return err
				}
				defer func() { _ = r.Subscribe(false) }()
				for {
					select {
					case <-ctx.Done():
						return nil
					case rec := <-r.Live():
						printEntry(cfg.Node.ID, rec.Date(), rec.Time(), rec.Pair(), rec.Metric(), time.Now())
					}
				}
			})
		},
	}
	rootCmd.AddCommand(watchCmd)

	// dump
	dumpCmd := &cobra.Command{
		Use:   "dump",
		Short: "Print archived records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			all, _ := cmd.Flags().GetBool("all")
			a, err := archive.Open(archive.Options{Dir: cfg.Archive.Dir})
			if err != nil {
				return err
			}
			defer a.Close()
			node := cfg.Node.ID
			if all {
				node = ""
			}
			return a.Scan(node, func(e archive.Entry) error {
				printEntry(e.Node, e.Record.Date(), e.Record.Time(), e.Record.Pair(), e.Record.Metric(), e.Received)
				return nil
			})
		},
	}
	dumpCmd.Flags().Bool("all", false, "print records of every node")
	rootCmd.AddCommand(dumpCmd)

	// ports
	rootCmd.AddCommand(&cobra.Command{
		Use:   "ports",
		Short: "List serial ports",
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := serial.GetPortsList()
			if err != nil {
				return fmt.Errorf("failed to list serial ports: %w", err)
			}
			for _, p := range ports {
				fmt.Println(p)
			}
			return nil
		},
	})

	// config init
	configCmd := &cobra.Command{Use: "config", Short: "Config file commands"}
	configCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("%s already exists", cfgPath)
			}
			return receiver.Default().Save(cfgPath)
		},
	})
	rootCmd.AddCommand(configCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg receiver.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// withLink opens the serial port (and the archive when store is set), runs a
// receiver on it and calls fn.
func withLink(ctx context.Context, cfg *receiver.Config, store bool, fn func(context.Context, *receiver.Receiver) error) error {
	log := newLogger(cfg.Log)

	sp, err := serial.Open(cfg.Serial.Port, &serial.Mode{BaudRate: cfg.Serial.BaudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", cfg.Serial.Port, err)
	}
	defer sp.Close()

	var st receiver.Store
	if store {
		a, err := archive.Open(archive.Options{Dir: cfg.Archive.Dir, Sync: cfg.Archive.Sync})
		if err != nil {
			return err
		}
		defer a.Close()
		st = a
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r := receiver.New(cfg.Node.ID, sp, st, log)
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx) }()

	if err := fn(ctx, r); err != nil {
		return err
	}
	cancel()
	select {
	case err := <-errc:
		return err
	case <-time.After(time.Second):
		return nil
	}
}

func printEntry(node string, date, clock, pair, metric uint32, received time.Time) {
	hi, lo := sensor.UnpackPair(pair)
	fmt.Printf("%s  %s  %5.1f°C  %5.1f%%RH  seq=%d  received=%s\n",
		node,
		sensor.UnpackStamp(date, clock).Format("2006-01-02 15:04:05"),
		float64(hi)/10, float64(lo)/100, metric,
		received.Format(time.RFC3339))
}

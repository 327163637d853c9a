package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/zberg/go-k17/internal/config"
	"github.com/zberg/go-k17/internal/logging"
	"github.com/zberg/go-k17/pkg/k17"
)

// cliOptions holds the raw flag values and the configuration resolved from
// them in PersistentPreRunE.
type cliOptions struct {
	configPath string
	host       string
	port       int
	logLevel   string
	timeout    time.Duration

	cfg config.Config
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:   "k17",
		Short: "FiiO K17 Control CLI",
		Long:  `A command line interface for the network control port of the FiiO K17 DAC/amplifier.`,

		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.resolve(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.Sync()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.host, "host", "", "IP address or hostname of the K17")
	pf.IntVar(&opts.port, "port", k17.DefaultPort, "TCP control port")
	pf.StringVar(&opts.configPath, "config", "", "config file (.yaml, .yml or .toml)")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (default $"+logging.LogLevelEnvVar+")")
	pf.DurationVar(&opts.timeout, "timeout", 0, "reply timeout (default 5s)")

	root.AddCommand(newInfoCmd(opts))
	root.AddCommand(newVolumeCmd(opts))
	root.AddCommand(newMonitorCmd(opts))

	return root
}

// resolve layers defaults, the config file and explicitly set flags.
func (o *cliOptions) resolve(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = o.host
	}
	if flags.Changed("port") {
		cfg.Port = o.port
	}
	if flags.Changed("timeout") {
		cfg.RequestTimeout = o.timeout
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logging.Initialize(cfg.LogLevel); err != nil {
		return err
	}
	o.cfg = cfg
	return nil
}

func (o *cliOptions) newClient(extra ...k17.ClientOption) (*k17.Client, error) {
	if o.cfg.Host == "" {
		return nil, errors.New("host required: use --host or set host in the config file")
	}

	opts := []k17.ClientOption{
		k17.WithPort(o.cfg.Port),
		k17.WithConnectTimeout(o.cfg.ConnectTimeout),
		k17.WithRequestTimeout(o.cfg.RequestTimeout),
		k17.WithLogger(logging.Slog()),
	}
	return k17.NewClient(o.cfg.Host, append(opts, extra...)...)
}

func (o *cliOptions) connect(ctx context.Context, extra ...k17.ClientOption) (*k17.Client, k17.Settings, error) {
	client, err := o.newClient(extra...)
	if err != nil {
		return nil, nil, err
	}

	settings, err := client.Connect(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to %s: %w", client.Addr(), err)
	}
	return client, settings, nil
}

func newInfoCmd(o *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the device settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, settings, err := o.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Disconnect()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Connected to %s\n\n", client.Addr())
			fmt.Fprintln(out, renderSettings(settings))
			return nil
		},
	}
}

func newVolumeCmd(o *cliOptions) *cobra.Command {
	volumeCmd := &cobra.Command{
		Use:   "volume",
		Short: "Read or change the volume",
	}

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Print the current volume",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := o.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Disconnect()

			volume, err := client.GetVolume(cmd.Context())
			if err != nil {
				return fmt.Errorf("reading volume: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderVolume(volume))
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:   "set [level]",
		Short: "Set the volume (0-100)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid volume %q: must be a number", args[0])
			}
			if _, err := k17.EncodeSetVolume(level); err != nil {
				return fmt.Errorf("invalid volume %d: must be %d-%d", level, k17.MinVolume, k17.MaxVolume)
			}

			client, _, err := o.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Disconnect()

			return applyVolume(cmd, client, level)
		},
	}

	upCmd := newStepCmd(o, "up", "Raise the volume", 1)
	downCmd := newStepCmd(o, "down", "Lower the volume", -1)

	volumeCmd.AddCommand(getCmd, setCmd, upCmd, downCmd)
	return volumeCmd
}

func newStepCmd(o *cliOptions, use, short string, sign int) *cobra.Command {
	var step int
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if step < 1 {
				return fmt.Errorf("invalid step %d: must be at least 1", step)
			}

			client, _, err := o.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Disconnect()

			target, changed := stepTarget(client.Volume(), sign*step)
			if !changed {
				fmt.Fprintf(cmd.OutOrStdout(), "Volume already at %d\n", target)
				return nil
			}
			return applyVolume(cmd, client, target)
		},
	}
	cmd.Flags().IntVar(&step, "step", 1, "amount to change the volume by")
	return cmd
}

// stepTarget clamps current+delta to the valid range and reports whether
// that differs from current.
func stepTarget(current, delta int) (int, bool) {
	target := min(max(current+delta, k17.MinVolume), k17.MaxVolume)
	return target, target != current
}

func applyVolume(cmd *cobra.Command, client *k17.Client, level int) error {
	ok, err := client.SetVolume(cmd.Context(), level)
	if err != nil {
		return fmt.Errorf("setting volume: %w", err)
	}
	if !ok {
		return fmt.Errorf("device did not confirm volume %d (reported %d)", level, client.Volume())
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderVolume(level))
	return nil
}

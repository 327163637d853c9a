package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"
	"github.com/zberg/go-k17/internal/config"
	"github.com/zberg/go-k17/internal/logging"
	"github.com/zberg/go-k17/pkg/k17"
	"go.uber.org/zap"
)

func newMonitorCmd(o *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Print volume changes made on the device until interrupted",
		Long: `Print every volume change pushed by the device, for example when the knob
is turned. If the device drops the connection, monitor reconnects with
exponential backoff (see monitor.max_retries in the config file).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runMonitor(ctx, o, cmd.OutOrStdout())
		},
	}
}

func runMonitor(ctx context.Context, o *cliOptions, out io.Writer) error {
	lost := make(chan struct{}, 1)

	client, settings, err := o.connect(ctx,
		k17.WithVolumeHandler(func(v int) {
			fmt.Fprintln(out, renderVolume(v))
		}),
		k17.WithDisconnectHandler(func() {
			select {
			case lost <- struct{}{}:
			default:
			}
		}),
	)
	if err != nil {
		return err
	}
	defer client.Disconnect()

	fmt.Fprintln(out, renderVolume(settings.CurrentVolume()))
	fmt.Fprintln(out, "Monitoring volume changes (Ctrl+C to stop)...")

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "Stopped")
			return nil
		case <-lost:
			fmt.Fprintf(out, "Connection to %s lost, reconnecting...\n", client.Addr())
			err := reconnect(ctx, client, o.cfg.Monitor, out)
			if ctx.Err() != nil {
				fmt.Fprintln(out, "Stopped")
				return nil
			}
			if err != nil {
				return fmt.Errorf("reconnecting to %s: %w", client.Addr(), err)
			}
			fmt.Fprintln(out, "Reconnected")
			fmt.Fprintln(out, renderVolume(client.Volume()))
		}
	}
}

// reconnect calls Connect until it succeeds, the retry budget is spent or
// ctx is done. MaxRetries of zero retries without limit.
func reconnect(ctx context.Context, client *k17.Client, m config.Monitor, out io.Writer) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = m.InitialInterval
	eb.MaxInterval = m.MaxInterval
	eb.MaxElapsedTime = 0

	var policy backoff.BackOff = eb
	if m.MaxRetries > 0 {
		policy = backoff.WithMaxRetries(eb, uint64(m.MaxRetries))
	}

	attempt := 0
	operation := func() error {
		attempt++
		_, err := client.Connect(ctx)
		if errors.Is(err, k17.ErrAlreadyConnected) {
			return nil
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		logging.GetLogger().Warn("reconnect failed",
			zap.String("addr", client.Addr()),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", next),
			zap.Error(err),
		)
		fmt.Fprintf(out, "Reconnect attempt %d failed, retrying in %s\n", attempt, next.Round(time.Millisecond))
	}

	return backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify)
}

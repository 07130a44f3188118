package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/raskyld/agentlink"
	"github.com/raskyld/agentlink/internal/config"
	"github.com/raskyld/agentlink/internal/sim"
	"github.com/raskyld/agentlink/pkg/client"
	"github.com/raskyld/agentlink/pkg/envelope"
)

type driveOptions struct {
	addr       string
	network    string
	caFile     string
	serverName string
	sync       bool
	version    string
	timeout    time.Duration
	logLevel   string
	logFormat  string
}

func newDriveCmd() *cobra.Command {
	o := driveOptions{
		addr:      fmt.Sprintf("127.0.0.1:%d", agentlink.AgentPort(agentlink.DefaultPort, 0)),
		network:   "tcp",
		version:   config.DefaultVersion,
		timeout:   30 * time.Second,
		logLevel:  "info",
		logFormat: "console",
	}

	cmd := &cobra.Command{
		Use:   "drive",
		Short: "Connect to an agent and play a short scenario",
		Long: `Connect to an agent and play a short scenario: walk, turn, look down,
walk to the yellow crane, grasp it and put it back down.

Use --sync when the agent runs in lockstep: every command is then issued
inside a round the agent opened.`,
		Example: `  agentlink drive --addr 127.0.0.1:1338
  agentlink drive --network quic --tls-ca ca.pem --sync`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			handler, _, err := newLogHandler(o.logFormat, o.logLevel)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
			defer cancel()
			return o.run(ctx, handler, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.addr, "addr", o.addr, "address of the agent endpoint")
	f.StringVar(&o.network, "network", o.network, "stream network: tcp or quic")
	f.StringVar(&o.caFile, "tls-ca", o.caFile, "PEM certificate authority trusted for quic")
	f.StringVar(&o.serverName, "server-name", o.serverName, "expected name in the agent certificate")
	f.BoolVar(&o.sync, "sync", o.sync, "the agent runs in lockstep")
	f.StringVar(&o.version, "version", o.version, "controller version sent in the version check")
	f.DurationVar(&o.timeout, "timeout", o.timeout, "time allowed for the whole scenario")
	f.StringVar(&o.logLevel, "log-level", o.logLevel, "debug, info, warn or error")
	f.StringVar(&o.logFormat, "log-format", o.logFormat, "console or json")

	return cmd
}

func (o driveOptions) dialOptions(handler slog.Handler) ([]client.Option, error) {
	network, err := agentlink.ParseNetwork(o.network)
	if err != nil {
		return nil, err
	}
	opts := []client.Option{
		client.WithNetwork(network),
		client.WithLog(handler),
	}
	if network != agentlink.NetworkQUIC {
		return opts, nil
	}

	tlsConf := &tls.Config{ServerName: o.serverName}
	if o.caFile != "" {
		pem, err := os.ReadFile(o.caFile)
		if err != nil {
			return nil, fmt.Errorf("read ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("no certificate found in ca file")
		}
		tlsConf.RootCAs = pool
	}
	return append(opts, client.WithTLSConfig(tlsConf)), nil
}

func (o driveOptions) run(ctx context.Context, handler slog.Handler, out io.Writer) error {
	opts, err := o.dialOptions(handler)
	if err != nil {
		return err
	}
	c, err := client.Dial(ctx, o.addr, opts...)
	if err != nil {
		return err
	}
	defer c.Close()

	d := &driver{c: c, sync: o.sync, logger: slog.New(handler), out: out}
	if err := d.checkVersion(ctx, o.version); err != nil {
		return err
	}
	return d.play(ctx)
}

// driver issues commands one at a time and waits for each to end.
type driver struct {
	c      *client.Client
	sync   bool
	logger *slog.Logger
	out    io.Writer
}

type step struct {
	name  string
	issue func() (int32, error)
}

func (d *driver) checkVersion(ctx context.Context, version string) error {
	return d.round(ctx, func() error {
		remote, err := d.c.CheckVersion(ctx, version)
		if err != nil {
			return err
		}
		d.logger.Info("agent version checked", "version", remote)
		return nil
	})
}

func (d *driver) play(ctx context.Context) error {
	c := d.c
	if err := d.round(ctx, func() error { return c.SetSaccade(true) }); err != nil {
		return err
	}

	steps := []step{
		{"walk", func() (int32, error) { return c.Move(0, 2) }},
		{"turn", func() (int32, error) { return c.Turn(90) }},
		{"look down", func() (int32, error) { return c.MoveEyes(0, 0, -20) }},
		{"walk to the yellow crane", func() (int32, error) {
			return c.MoveTo(envelope.Vec3{X: 2.4, Z: 5.2}, 0)
		}},
		{"grasp", func() (int32, error) { return c.GraspID(sim.YellowCrane) }},
		{"release", c.Release},
	}

	for _, s := range steps {
		var id int32
		err := d.round(ctx, func() (err error) {
			id, err = s.issue()
			return err
		})
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		status, err := d.await(ctx, id)
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		c.Forget(id)
		fmt.Fprintf(d.out, "%-26s %s\n", s.name, status)
	}

	if pos, ok := c.GridPosition(); ok {
		fmt.Fprintf(d.out, "%-26s x=%.2f z=%.2f heading=%.1f\n", "position",
			pos.Position.X, pos.Position.Z, pos.Rotation.Y)
	}
	if n := len(c.Collisions()); n > 0 {
		fmt.Fprintf(d.out, "%-26s %d\n", "collisions", n)
	}
	return nil
}

// round runs fn inside a lockstep round, or right away asynchronously.
func (d *driver) round(ctx context.Context, fn func() error) error {
	if !d.sync {
		return fn()
	}
	if err := d.c.AwaitStartSync(ctx); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	return d.c.StopSync()
}

// await returns the final status of id. In lockstep the agent only
// advances between rounds, so each one is closed until the action ends.
func (d *driver) await(ctx context.Context, id int32) (envelope.StatusCode, error) {
	if !d.sync {
		return d.c.WaitForFinal(ctx, id)
	}
	for {
		if err := d.c.AwaitStartSync(ctx); err != nil {
			return 0, err
		}
		status, ok := d.c.Status(id)
		if err := d.c.StopSync(); err != nil {
			return 0, err
		}
		if ok && status.Terminal() {
			return status, nil
		}
	}
}

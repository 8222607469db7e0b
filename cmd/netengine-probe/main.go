/*
 * MIT License
 *
 * Copyright (c) 2022 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Command netengine-probe is a smoke-test CLI exercising ServerInstance,
// ClientInstance, and BroadcastInstance end to end against a loaded
// ProfileConfig, grounded on the teacher's cobra-based command layout. All
// three subcommands live in this file; their flags set addresses and message
// bodies, while the profile itself comes from --config or profile.Default.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/sabouaram/netengine/broadcast"
	"github.com/sabouaram/netengine/client"
	"github.com/sabouaram/netengine/enginelog"
	"github.com/sabouaram/netengine/packet"
	"github.com/sabouaram/netengine/profile"
	"github.com/sabouaram/netengine/server"
	"github.com/sabouaram/netengine/streamconn"
	"github.com/sabouaram/netengine/telemetry"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "netengine-probe",
		Short: "smoke-test CLI for the netengine server/client/broadcast instances",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "profile config file (yaml/json/toml)")

	root.AddCommand(serveCmd(), echoCmd(), beaconCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadProfile() profile.ProfileConfig {
	if configPath == "" {
		return profile.Default()
	}
	cfg, err := profile.Load(configPath)
	if err != nil {
		enginelog.Logger().WithError(err).Fatal("failed to load profile")
	}
	return cfg
}

func serveCmd() *cobra.Command {
	var tcpAddr, udpAddr string
	var maxClients uint64

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run a ServerInstance until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadProfile()
			counters := telemetry.New(prometheus.DefaultRegisterer, "probe-server")

			inst, err := server.New(0, cfg, tcpAddr, udpAddr, maxClients, nil, counters)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			enginelog.Instance("probe", 0).WithField("addr", tcpAddr).Info("serving")
			err = inst.Serve(ctx)
			_ = inst.Shutdown()
			return err
		},
	}
	cmd.Flags().StringVar(&tcpAddr, "tcp", ":9000", "TCP listen address")
	cmd.Flags().StringVar(&udpAddr, "udp", ":9001", "UDP listen address")
	cmd.Flags().Uint64Var(&maxClients, "max-clients", 0, "maximum concurrent clients (0 = unbounded)")
	return cmd
}

func echoCmd() *cobra.Command {
	var tcpAddr, udpAddr, message string

	cmd := &cobra.Command{
		Use:   "echo",
		Short: "connect as a ClientInstance and send one message",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadProfile()
			counters := telemetry.New(prometheus.DefaultRegisterer, "probe-client")

			inst := client.New(0, cfg, counters)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := inst.Connect(ctx, tcpAddr, udpAddr, nil); err != nil {
				return err
			}

			pkt := packet.New(len(message))
			_ = pkt.AddString([]byte(message), false)
			if err := inst.SendTCP(pkt, false, true); err != nil {
				return err
			}

			enginelog.Instance("probe", 0).Info("sent, status=" + statusString(inst))
			return inst.Shutdown()
		},
	}
	cmd.Flags().StringVar(&tcpAddr, "tcp", "localhost:9000", "server TCP address")
	cmd.Flags().StringVar(&udpAddr, "udp", "localhost:9001", "server UDP address")
	cmd.Flags().StringVar(&message, "message", "hello", "message body to send")
	return cmd
}

func statusString(inst *client.Instance) string {
	if inst.Status() == streamconn.StatusConnected {
		return "connected"
	}
	return "not-connected"
}

func beaconCmd() *cobra.Command {
	var localAddr, broadcastAddr, message string
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "beacon",
		Short: "run a BroadcastInstance announcing message periodically",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadProfile()
			counters := telemetry.New(prometheus.DefaultRegisterer, "probe-beacon")

			inst, err := broadcast.New(0, cfg, localAddr, broadcastAddr, counters)
			if err != nil {
				return err
			}
			defer func() { _ = inst.Close() }()

			pkt := packet.New(len(message))
			_ = pkt.AddString([]byte(message), false)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return inst.SendEvery(ctx, interval, pkt)
		},
	}
	cmd.Flags().StringVar(&localAddr, "local", ":9002", "local bind address")
	cmd.Flags().StringVar(&broadcastAddr, "broadcast", "255.255.255.255:9003", "broadcast target address")
	cmd.Flags().StringVar(&message, "message", "beacon", "announcement body")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "announcement interval")
	return cmd
}

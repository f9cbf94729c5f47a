// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"charm.land/lipgloss/v2"
	"github.com/spf13/cobra"

	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/outfox/core/log"
	"github.com/katzenpost/outfox/core/outfox"
	"github.com/katzenpost/outfox/internal/simnet"
	"github.com/katzenpost/outfox/relay/config"
)

var (
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type simulateFlags struct {
	width        int
	hops         int
	kemScheme    string
	payload      int
	messages     int
	size         int
	loss         float64
	delayMean    uint64
	maxDelay     uint64
	cover        float64
	paths        int
	dataShards   int
	parityShards int
	timeout      time.Duration
	logLevel     string
}

func newSimulateCommand() *cobra.Command {
	var f simulateFlags

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate an in-process network",
		Long: `Simulate builds a layered network of relays joined by an in-process
transport, sends multipath messages from random entry relays to random exit
relays, and reports delivery, per-relay counters and reputation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return simulate(cmd.OutOrStdout(), &f)
		},
	}
	fl := cmd.Flags()
	fl.IntVar(&f.width, "width", 3, "relays per layer")
	fl.IntVar(&f.hops, "hops", 3, "layers, and so hops per path")
	fl.StringVar(&f.kemScheme, "kem", outfox.DefaultKEMName, "KEM scheme name")
	fl.IntVar(&f.payload, "payload", outfox.DefaultPayloadLength, "packet payload length")
	fl.IntVar(&f.messages, "messages", 10, "messages to send")
	fl.IntVar(&f.size, "size", 1024, "message size in bytes")
	fl.Float64Var(&f.loss, "loss", 0, "probability a packet is lost between relays")
	fl.Uint64Var(&f.delayMean, "delay-mean", 5, "mean mixing delay in milliseconds")
	fl.Uint64Var(&f.maxDelay, "max-delay", 50, "maximum mixing delay in milliseconds")
	fl.Float64Var(&f.cover, "cover", 0, "cover traffic probability per tick, 0 disables")
	fl.IntVar(&f.paths, "paths", 3, "disjoint paths per message")
	fl.IntVar(&f.dataShards, "data-shards", 2, "data shards per message")
	fl.IntVar(&f.parityShards, "parity-shards", 1, "parity shards per message")
	fl.DurationVar(&f.timeout, "timeout", 30*time.Second, "time to wait for deliveries")
	fl.StringVar(&f.logLevel, "log-level", "", "log to stdout at this level")
	return cmd
}

func simulate(w io.Writer, f *simulateFlags) error {
	logBackend := log.NewDiscard()
	if f.logLevel != "" {
		var err error
		if logBackend, err = log.New("", f.logLevel, false); err != nil {
			return fmt.Errorf("invalid argument: %v", err)
		}
	}

	cfg := &simnet.Config{
		Width: f.width,
		Packet: config.Packet{
			KEMScheme:     f.kemScheme,
			MaxHops:       f.hops,
			PayloadLength: f.payload,
		},
		Mixing: config.Mixing{
			DelayMean:               f.delayMean,
			MaxDelay:                f.maxDelay,
			CoverTrafficProbability: f.cover,
			DisableCoverTraffic:     f.cover == 0,
		},
		Routing: config.Routing{
			Paths:        f.paths,
			DataShards:   f.dataShards,
			ParityShards: f.parityShards,
		},
		MinLatency: time.Millisecond,
		MaxLatency: 20 * time.Millisecond,
		Loss:       f.loss,
	}
	net, err := simnet.NewNetwork(cfg, logBackend)
	if err != nil {
		return err
	}
	defer net.Halt()

	rng := rand.NewMath()
	pending := make(map[string]bool)
	start := time.Now()
	var failed int
	for i := 0; i < f.messages; i++ {
		msg := make([]byte, f.size)
		if _, err := rand.Reader.Read(msg); err != nil {
			return err
		}
		src := net.Entries()[rng.Intn(len(net.Entries()))]
		dst := net.Exits()[rng.Intn(len(net.Exits()))]
		if _, err := net.Send(msg, src.ID(), dst.ID()); err != nil {
			fmt.Fprintln(w, failureStyle.Render("send failed: ")+err.Error())
			failed++
			continue
		}
		pending[string(msg)] = true
	}

	sent := len(pending)
	timeout := time.After(f.timeout)
wait:
	for len(pending) > 0 {
		select {
		case msg := <-net.Hub.Messages():
			delete(pending, string(msg))
		case <-timeout:
			break wait
		}
	}
	elapsed := time.Since(start)

	report(w, net, sent, sent-len(pending), failed, elapsed)
	return nil
}

func report(w io.Writer, net *simnet.Network, sent, delivered, failed int, elapsed time.Duration) {
	summary := fmt.Sprintf("%d/%d messages delivered in %v", delivered, sent, elapsed.Round(time.Millisecond))
	if delivered == sent {
		summary = successStyle.Render(summary)
	} else {
		summary = failureStyle.Render(summary)
	}
	if failed > 0 {
		summary += failureStyle.Render(fmt.Sprintf(", %d sends failed", failed))
	}
	hs := net.Hub.Stats()
	traffic := infoStyle.Render(fmt.Sprintf("dispatched %d  forwarded %d  lost %d  looped %d  discarded %d",
		hs.Dispatched, hs.Forwarded, hs.Lost, hs.Looped, hs.Discarded))

	var b strings.Builder
	fmt.Fprintf(&b, "%-8s %-5s %-16s %9s %7s %6s %9s %10s %6s\n",
		"ROLE", "LAYER", "ID", "PROCESSED", "DROPPED", "DECOYS", "DELIVERED", "LATENCY", "SCORE")
	for _, n := range net.Nodes() {
		st := n.Stats()
		info := n.Info()
		fmt.Fprintf(&b, "%-8s %-5d %-16v %9d %7d %6d %9d %10v %6.3f\n",
			info.Role, info.Layer, info.ID, st.Processed, st.Dropped, st.Decoys,
			st.Delivered, st.AverageLatency.Round(time.Microsecond), st.Reputation)
	}

	var top strings.Builder
	for i, rec := range net.Ledger.Top(5) {
		fmt.Fprintf(&top, "%d. %v %.3f\n", i+1, rec.ID, rec.Score)
	}

	fmt.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left,
		headerStyle.Render("Outfox simulation"),
		summary,
		traffic,
		"",
		boxStyle.Render(strings.TrimRight(b.String(), "\n")),
		headerStyle.Render("Top relays"),
		strings.TrimRight(top.String(), "\n"),
	))
}

// main.go - Outfox relay binary.
// Copyright (C) 2017  Yawning Angel.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/colorprofile"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outfox",
		Short: "Outfox mixnet relay",
		Long: `Outfox is a post-quantum mix network relay.

Packets carry one KEM ciphertext per hop.  Every relay decapsulates its
layer, checks the packet's integrity and replay state, waits out an
exponentially distributed mixing delay, and forwards the packet.  Exit
relays deliver the payload.  Senders split messages into erasure coded
shards travelling over disjoint paths, and relays are scored by a
reputation ledger that steers routing away from misbehaving nodes.`,
		Example: `  # Write a configuration for a mix in layer 2
  outfox genconfig -o mix.toml --identifier mix1 --role mix --layer 2 --datadir /var/lib/outfox

  # Generate the relay's key pair
  outfox genkey -f mix.toml

  # Run the relay
  outfox run -f mix.toml

  # Simulate a 3x4 network carrying 20 messages
  outfox simulate --width 4 --messages 20`,
		SilenceUsage: true,
	}

	cmd.AddCommand(
		newRunCommand(),
		newGenkeyCommand(),
		newGenconfigCommand(),
		newSimulateCommand(),
	)
	return cmd
}

func main() {
	rootCmd := newRootCommand()
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(versioninfo.Short()),
		fang.WithErrorHandler(errorHandlerWithUsage(rootCmd)),
	); err != nil {
		os.Exit(1)
	}
}

// errorHandlerWithUsage prints the error, followed by the usage for
// command line mistakes or a hint to --help otherwise.
func errorHandlerWithUsage(cmd *cobra.Command) fang.ErrorHandler {
	return func(w io.Writer, styles fang.Styles, err error) {
		_, _ = fmt.Fprintln(w, styles.ErrorHeader.String())
		_, _ = fmt.Fprintln(w, styles.ErrorText.Render(err.Error()+"."))
		_, _ = fmt.Fprintln(w)

		if isUsageError(err) {
			cmd.SetOut(colorprofile.NewWriter(w, os.Environ()))
			cmd.HelpFunc()(cmd, []string{})
			return
		}
		_, _ = fmt.Fprintln(w, lipgloss.JoinHorizontal(
			lipgloss.Left,
			styles.ErrorText.UnsetWidth().Render("Try"),
			styles.Program.Flag.Render("--help"),
			styles.ErrorText.UnsetWidth().UnsetMargins().UnsetTransform().PaddingLeft(1).Render("for usage."),
		))
		_, _ = fmt.Fprintln(w)
	}
}

func isUsageError(err error) bool {
	s := err.Error()
	for _, prefix := range []string{
		"flag needs an argument:",
		"unknown flag:",
		"unknown shorthand flag:",
		"unknown command",
		"invalid argument",
		"required flag",
		"accepts",
		"failed to load config file",
	} {
		if strings.Contains(s, prefix) {
			return true
		}
	}
	return false
}

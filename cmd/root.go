/*
 *
 * modpipe - a module fetch/cache/compile pipeline
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package cmd wires modpipe's cobra subcommands onto an
// internal/cmd.GlobalState, splitting "flag parsing" (here) from
// "process-external state" (internal/cmd).
package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go.modpipe.dev/modpipe/internal/cmd"
)

// NewRootCommand builds the modpipe root command with every subcommand
// attached, reading and writing through gs instead of the os package
// directly.
func NewRootCommand(gs *cmd.GlobalState) *cobra.Command {
	root := &cobra.Command{
		Use:           "modpipe",
		Short:         "Resolve, cache, fetch, and compile ECMAScript/TypeScript module graphs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			noColor, _ := c.Flags().GetBool("no-color")
			verbose, _ := c.Flags().GetBool("verbose")
			if noColor {
				gs.Flags.NoColor = true
				if formatter, ok := gs.Logger.Formatter.(*logrus.TextFormatter); ok {
					formatter.DisableColors = true
				}
			}
			if verbose {
				gs.Flags.Verbose = true
				gs.Logger.SetLevel(logrus.DebugLevel)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&gs.Flags.ConfigFilePath, "config", gs.Flags.ConfigFilePath, "path to a JSON or YAML config file")
	root.PersistentFlags().Bool("no-color", gs.Flags.NoColor, "disable colored output")
	root.PersistentFlags().Bool("verbose", gs.Flags.Verbose, "enable debug-level logging")

	root.SetArgs(argsAfterBinary(gs.CmdArgs))
	root.SetOut(gs.Stdout)
	root.SetErr(gs.Stderr)

	root.AddCommand(getRunCmd(gs), getCacheCmd(gs))
	return root
}

func argsAfterBinary(args []string) []string {
	if len(args) <= 1 {
		return nil
	}
	return args[1:]
}

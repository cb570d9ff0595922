// Package cmd provides the CLI entrypoint for the SQL gateway, mirroring
// the teacher's cmd/run.go / cmd/command.go layering: a single root command
// with license/version-style scaffolding stripped down to what this domain
// needs (spec.md's "the CLI launcher" is an out-of-scope collaborator; only
// the `run` subcommand lives here).
package cmd

import (
	"github.com/spf13/cobra"
)

const brand = "SQL Gateway"

// RootCommand assembles the gateway's cobra command tree.
func RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "flightgw",
		Short: brand,
	}
	root.AddCommand(runCommand())
	return root
}

// Package cli provides the command-line interface of azula.
// It wires configuration loading, address resolution, the scan engine, the
// console output and the post-scan scripts into Cobra commands.
package cli

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	noConfig bool
	verbose  bool
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// errAborted is returned once the reason for stopping was already shown to
// the user.
var errAborted = stderrors.New("aborted")

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "azula",
	Short: "Fast port scanner",
	Long: `Azula finds open TCP and UDP ports on many hosts quickly. It keeps a
large, bounded number of probes in flight, resolves hostnames, CIDR blocks and
host list files, and hands the hosts it finds to nmap or your own scripts.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// versionCmd prints the build information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "azula %s\n", getVersion())
	},
}

// Execute runs the root command and exits with status 1 on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !stderrors.Is(err, errAborted) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is $HOME/.azula.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&noConfig, "no-config", "n", false, "ignore the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(newScanCmd())
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/xrdc/cmd/file"
	"github.com/ValentinKolb/xrdc/cmd/util"
	"github.com/ValentinKolb/xrdc/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "xrdc",
		Short: "client for root:// data servers",
		Long: fmt.Sprintf(`xrdc (v%s)

A client for the root:// file access protocol, following redirections
between load balancers and data servers and caching what it reads.`, Version),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			return common.InitLoggers(level)
		},
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of xrdc",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("xrdc v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(file.FileCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "warning", util.WrapString("log level (debug, info, warning, error)"))
	key = "metrics"
	RootCmd.PersistentFlags().Bool(key, false, util.WrapString("print the collected metrics to stderr before exiting"))
	key = "config"
	RootCmd.PersistentFlags().String(key, "", util.WrapString("optional config file (yaml, toml or json)"))
	_ = viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(key))

	// the file commands set up their client in their own pre run hook
	cobra.EnableTraverseRunHooks = true
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Command coordinatord runs a gridmesh coordinator node.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coordinatord",
		Short: "Gridmesh compute marketplace coordinator",
		Long: `coordinatord runs the gridmesh coordination core: the job ledger,
stake registry, worker directory, dispatcher, and settlement engine,
with an HTTP API and Prometheus metrics.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "path to config file (YAML)")
	viper.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))
	viper.SetEnvPrefix("GRIDMESH")
	viper.AutomaticEnv()

	cmd.AddCommand(startCmd())
	cmd.AddCommand(versionCmd())
	cmd.AddCommand(genTokenCmd())

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the coordinator version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

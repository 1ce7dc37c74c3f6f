package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	leasecmd "github.com/Alijeyrad/keystone_backend/cmd/lease"
	schedulecmd "github.com/Alijeyrad/keystone_backend/cmd/schedule"
	systemcmd "github.com/Alijeyrad/keystone_backend/cmd/system"
	workercmd "github.com/Alijeyrad/keystone_backend/cmd/worker"
)

var (
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "keystone",
	Short: "Keystone scheduling and lease signing backend.",
	Long: `Keystone books provider appointments against weekly availability and
produces, resolves and e-signs property lease documents.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file path")

	rootCmd.AddCommand(systemcmd.NewSystemCommand())
	rootCmd.AddCommand(workercmd.NewWorkerCommand())
	rootCmd.AddCommand(schedulecmd.NewScheduleCommand())
	rootCmd.AddCommand(leasecmd.NewLeaseCommand())
}

package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const Version = "1.0.0"

var cfgFile string

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "fleetd",
	Short: "Autonomous payment provider fleet controller",
	Long: `Fleetd keeps a fleet of payment provider integrations (M-Pesa, MTN MoMo,
Airtel Money, Paystack, ...) healthy without operator intervention. It
monitors provider health, breaks circuits on repeated failures, heals and
fails over unhealthy providers, predicts degradations before they happen,
tunes per-provider settings and scales processing capacity with load.`,
	Version: Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./fleetd.yaml)")
}

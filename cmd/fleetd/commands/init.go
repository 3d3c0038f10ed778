package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a starter configuration file",
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().String("output", "fleetd.yaml", "Output path")
	initCmd.Flags().Bool("force", false, "Overwrite an existing file")
}

const sampleConfig = `# fleetd configuration
autonomous:
  version: "1.0.0"
  self_healing_enabled: true
  predictive_enabled: true
  optimization_enabled: true
  scaling_enabled: true
  health:
    check_interval: 30s
    check_timeout: 10s
  scaling:
    min_instances: 2
    max_instances: 10
    target_per_instance: 100
    # schedule_file: ./traffic-schedule.yaml

api:
  enabled: true
  listen_addr: ":8090"

logging:
  level: info
  encoding: json
  # output_path: ./logs/fleetd.log

store:
  enabled: true
  path: ./data/fleetd.db

metrics:
  enabled: true

providers:
  - name: mpesa
    base_url: https://sandbox.safaricom.co.ke
    environment: sandbox
    timeout: 45s
  - name: mtn
    base_url: https://sandbox.momodeveloper.mtn.com
    environment: sandbox
  - name: paystack
    base_url: https://api.paystack.co
    environment: sandbox
    timeout: 20s

backups:
  mpesa: [mtn]
  mtn: [mpesa]
`

func runInit(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	force, _ := cmd.Flags().GetBool("force")

	if _, err := os.Stat(output); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", output)
	}
	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(output, []byte(sampleConfig), 0o644); err != nil {
		return err
	}

	fmt.Printf("Wrote %s\n", output)
	return nil
}

package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show fleet status",
	Long:  `Display provider health, breaker states and instance count from a running controller.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().String("api-url", "http://localhost:8090", "Admin API URL")
	statusCmd.Flags().String("format", "table", "Output format (table, json, yaml)")
	statusCmd.Flags().Bool("watch", false, "Watch status")
	statusCmd.Flags().Duration("interval", 5*time.Second, "Watch interval")
}

func runStatus(cmd *cobra.Command, args []string) error {
	apiURL, _ := cmd.Flags().GetString("api-url")
	format, _ := cmd.Flags().GetString("format")
	watch, _ := cmd.Flags().GetBool("watch")
	interval, _ := cmd.Flags().GetDuration("interval")

	if watch {
		for {
			fmt.Print("\033[H\033[2J")
			if err := displayStatus(apiURL, format); err != nil {
				return err
			}
			time.Sleep(interval)
		}
	}
	return displayStatus(apiURL, format)
}

func displayStatus(apiURL, format string) error {
	status, err := fetchStatus(apiURL)
	if err != nil {
		return fmt.Errorf("failed to fetch status: %w", err)
	}

	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	case "yaml":
		data, err := yaml.Marshal(status)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	default:
		return displayTable(status)
	}
}

// fleetStatus mirrors the admin API /status payload.
type fleetStatus struct {
	Running   bool   `json:"running" yaml:"running"`
	Version   string `json:"version" yaml:"version"`
	Uptime    string `json:"uptime" yaml:"uptime"`
	Instances int    `json:"instances" yaml:"instances"`
	Providers int    `json:"providers" yaml:"providers"`

	Health struct {
		Status    string `json:"status" yaml:"status"`
		Providers []struct {
			Provider            string        `json:"provider" yaml:"provider"`
			Status              string        `json:"status" yaml:"status"`
			ResponseTime        time.Duration `json:"response_time" yaml:"response_time"`
			LastChecked         time.Time     `json:"last_checked" yaml:"last_checked"`
			ConsecutiveFailures int           `json:"consecutive_failures" yaml:"consecutive_failures"`
		} `json:"providers" yaml:"providers"`
	} `json:"health" yaml:"health"`

	Breakers []struct {
		Name  string `json:"name" yaml:"name"`
		State string `json:"state" yaml:"state"`
	} `json:"breakers" yaml:"breakers"`
}

type statusEnvelope struct {
	Success bool        `json:"success"`
	Data    fleetStatus `json:"data"`
	Error   string      `json:"error"`
}

func fetchStatus(apiURL string) (*fleetStatus, error) {
	resp, err := http.Get(apiURL + "/api/v1/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("admin API returned status %d", resp.StatusCode)
	}

	var env statusEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, fmt.Errorf("admin API error: %s", env.Error)
	}
	return &env.Data, nil
}

func displayTable(status *fleetStatus) error {
	fmt.Printf("Fleet Status - %s\n\n", time.Now().Format("2006-01-02 15:04:05"))

	fmt.Println("Overview:")
	fmt.Printf("  Running    : %v\n", status.Running)
	fmt.Printf("  Version    : %s\n", status.Version)
	fmt.Printf("  Uptime     : %s\n", status.Uptime)
	fmt.Printf("  Fleet      : %s overall\n", statusMarker(status.Health.Status))
	fmt.Printf("  Providers  : %d\n", status.Providers)
	fmt.Printf("  Instances  : %d\n", status.Instances)

	if len(status.Health.Providers) > 0 {
		fmt.Println("\nProviders:")
		for _, p := range status.Health.Providers {
			fmt.Printf("  - %-10s %s latency=%s failures=%d checked %s\n",
				p.Provider,
				statusMarker(p.Status),
				p.ResponseTime,
				p.ConsecutiveFailures,
				humanize.Time(p.LastChecked),
			)
		}
	}

	if len(status.Breakers) > 0 {
		fmt.Println("\nCircuit Breakers:")
		for _, b := range status.Breakers {
			fmt.Printf("  - %-10s %s\n", b.Name, b.State)
		}
	}
	return nil
}

func statusMarker(status string) string {
	switch status {
	case "healthy":
		return "[OK] healthy"
	case "degraded":
		return "[WARN] degraded"
	case "unhealthy":
		return "[CRIT] unhealthy"
	default:
		return "[N/A] " + status
	}
}

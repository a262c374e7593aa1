package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/softdim/softdim/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running daemon's status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	port := viper.GetInt("server_port")
	if port <= 0 {
		configMgr, err := config.NewManager(GetConfigFile())
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		port = configMgr.Get().ServerPort
	}

	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/status", port))
	if err != nil {
		return fmt.Errorf("daemon not reachable on port %d: %w", port, err)
	}
	defer resp.Body.Close()

	var status map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to decode status: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(status)
}

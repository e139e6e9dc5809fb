package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"beacon/internal/broker"
	"beacon/internal/dispatch"
	"beacon/internal/logger"
	"beacon/internal/store"
)

var (
	brokerConfigPath    string
	brokerDBPath        string
	brokerAddr          string
	brokerDebugFlag     bool
	brokerVerboseStatus bool
)

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Start the Beacon broker daemon",
	Long: `The Beacon broker holds a persistent websocket session for every
connected device, authenticates devices against the device registry, and
exposes an HTTP API for dispatching commands to them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadBrokerConfiguration()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		logger.SetSilentMode(false)
		logger.Setup(config.Logging.Level, config.Logging.Format)

		log := logger.New()
		log.Info().
			Str("config_file", brokerConfigPath).
			Str("db_path", config.Database.Path).
			Str("address", config.Server.Address).
			Str("execute_timeout", config.Session.ExecuteTimeout).
			Bool("require_auth", config.Security.RequireAuth).
			Msg("Starting Beacon broker daemon")

		st, err := store.Open(config.Database.Path)
		if err != nil {
			log.Error().Err(err).Msg("Failed to open device store")
			return fmt.Errorf("failed to open device store: %w", err)
		}
		defer st.Close()

		server := broker.NewServer(config, st)

		errChan := make(chan error, 1)
		go func() {
			if err := server.Start(); err != nil {
				errChan <- fmt.Errorf("broker server error: %w", err)
			}
		}()

		// Handle graceful shutdown
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received shutdown signal")
		case err := <-errChan:
			log.Error().Err(err).Msg("Server error")
			return err
		}

		log.Info().Msg("Shutting down broker")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Stop(ctx); err != nil {
			log.Error().Err(err).Msg("Error stopping broker")
		}

		log.Info().Msg("Broker daemon stopped")
		return nil
	},
}

var brokerInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize broker with default configuration",
	Long:  `Initialize the broker by creating a default configuration file and the device database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := brokerConfigPath
		if configPath == "" {
			configPath = "beacon.yml"
		}

		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			cmd.Printf("Creating default configuration: %s\n", configPath)
			config := broker.NewDefaultConfig()
			if brokerDBPath != "" {
				config.Database.Path = brokerDBPath
			}
			if brokerAddr != "" {
				config.Server.Address = brokerAddr
			}

			if err := broker.SaveConfig(config, configPath); err != nil {
				return fmt.Errorf("failed to save config file: %w", err)
			}
			cmd.Printf("✓ Configuration file created: %s\n", configPath)
		} else {
			cmd.Printf("✓ Configuration file already exists: %s\n", configPath)
		}

		config, err := broker.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		cmd.Printf("Initializing device database: %s\n", config.Database.Path)
		st, err := store.Open(config.Database.Path)
		if err != nil {
			return fmt.Errorf("failed to initialize device database: %w", err)
		}
		defer st.Close()

		cmd.Printf("\n✅ Broker initialization complete!\n")
		cmd.Printf("Configuration: %s\n", configPath)
		cmd.Printf("Start the broker with: beacon broker -c %s\n", configPath)
		cmd.Printf("Provision a device with: beacon device create <name>\n")
		cmd.Printf("Health endpoint: http://localhost%s/api/v1/health\n", config.Server.Address)

		return nil
	},
}

var brokerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check broker daemon status",
	Long:  `Check the status of the running broker daemon via its HTTP API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return checkBrokerStatus(cmd)
	},
}

// loadBrokerConfiguration loads configuration from file and applies CLI flag overrides
func loadBrokerConfiguration() (*broker.Config, error) {
	var config *broker.Config
	var err error

	configPath := brokerConfigPath
	if configPath == "" {
		configPath = "beacon.yml"
	}

	if _, statErr := os.Stat(configPath); statErr == nil {
		config, err = broker.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else if !os.IsNotExist(statErr) {
		return nil, fmt.Errorf("failed to check config file: %w", statErr)
	}

	if config == nil {
		config = broker.NewDefaultConfig()
	}

	// Apply CLI flag overrides (if flags were explicitly set)
	if brokerDBPath != "" {
		config.Database.Path = brokerDBPath
	}
	if brokerAddr != "" {
		config.Server.Address = brokerAddr
	}
	if brokerDebugFlag {
		config.Logging.Level = "debug"
	}

	return config, nil
}

// checkBrokerStatus queries the running daemon's status and health endpoints.
func checkBrokerStatus(cmd *cobra.Command) error {
	config, err := loadBrokerConfiguration()
	if err != nil {
		cmd.Printf("⚠ Warning: Could not load configuration: %v\n", err)
		cmd.Printf("Using default settings\n\n")
		config = broker.NewDefaultConfig()
	}

	apiAddr := config.Server.Address
	if !strings.HasPrefix(apiAddr, "http://") && !strings.HasPrefix(apiAddr, "https://") {
		apiAddr = "http://localhost" + apiAddr
	}

	client := dispatch.NewClient(apiAddr)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, statusErr := client.Status(ctx)
	health, healthErr := client.Health(ctx)

	if brokerVerboseStatus {
		return displayVerboseStatus(cmd, apiAddr, status, health, statusErr, healthErr)
	}
	return displayCompactStatus(cmd, apiAddr, status, health, statusErr, healthErr)
}

// displayCompactStatus displays a user-friendly compact status
func displayCompactStatus(cmd *cobra.Command, apiAddr string, status *dispatch.StatusResponse, health *dispatch.HealthResponse, statusErr, healthErr error) error {
	if statusErr != nil || healthErr != nil {
		cmd.Printf("Broker Status: ✗ OFFLINE\n")
		if statusErr != nil {
			cmd.Printf("Connection Error: %v\n", statusErr)
		}
		return nil
	}

	cmd.Printf("Broker Status: ✓ RUNNING\n")
	cmd.Printf("API Address: %s\n", apiAddr)
	cmd.Printf("Version: %s\n", status.Version)
	cmd.Printf("Uptime: %s\n", status.Uptime)
	cmd.Printf("Connected Devices: %d\n", status.ConnectedDevices)
	for _, session := range status.Sessions {
		cmd.Printf("  %s  %s  connected %s\n", session.DeviceID, session.RemoteAddr, session.ConnectedAt)
	}

	for component, state := range health.Components {
		icon := "✓"
		if state != "healthy" {
			icon = "✗"
		}
		cmd.Printf("%s: %s %s\n", titleCase(component), icon, titleCase(state))
	}

	return nil
}

// displayVerboseStatus displays detailed JSON status information
func displayVerboseStatus(cmd *cobra.Command, apiAddr string, status *dispatch.StatusResponse, health *dispatch.HealthResponse, statusErr, healthErr error) error {
	result := map[string]interface{}{
		"online":      statusErr == nil && healthErr == nil,
		"api_address": apiAddr,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}

	if statusErr != nil {
		result["status_error"] = statusErr.Error()
	} else {
		result["status"] = status
	}

	if healthErr != nil {
		result["health_error"] = healthErr.Error()
	} else {
		result["health"] = health
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

// titleCase converts a string to title case (capitalize first letter)
func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

func init() {
	brokerCmd.Flags().StringVarP(&brokerConfigPath, "config", "c", "", "path to configuration file (default: beacon.yml)")
	brokerCmd.Flags().StringVar(&brokerDBPath, "db", "", "path to device database")
	brokerCmd.Flags().StringVar(&brokerAddr, "addr", "", "HTTP listen address")
	brokerCmd.Flags().BoolVar(&brokerDebugFlag, "debug", false, "enable debug logging")

	brokerInitCmd.Flags().StringVarP(&brokerConfigPath, "config", "c", "", "path to configuration file (default: beacon.yml)")
	brokerInitCmd.Flags().StringVar(&brokerDBPath, "db", "", "path to device database")
	brokerInitCmd.Flags().StringVar(&brokerAddr, "addr", "", "HTTP listen address")

	brokerStatusCmd.Flags().StringVarP(&brokerConfigPath, "config", "c", "", "path to configuration file (default: beacon.yml)")
	brokerStatusCmd.Flags().StringVar(&brokerAddr, "addr", "", "HTTP listen address")
	brokerStatusCmd.Flags().BoolVar(&brokerVerboseStatus, "json", false, "output status as JSON")

	brokerCmd.AddCommand(brokerInitCmd)
	brokerCmd.AddCommand(brokerStatusCmd)
}

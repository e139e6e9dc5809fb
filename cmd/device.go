package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"beacon/internal/device"
	"beacon/internal/logger"
	"beacon/internal/proto"
	"beacon/internal/store"
)

var (
	deviceDBPath    string
	deviceBrokerURL string
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Manage and simulate devices",
	Long: `Provision device identities in the broker's database, list and remove
them, and run a local device simulator against a broker.`,
}

var deviceCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Provision a new device identity",
	Long: `Create a new device record and print its identity and secret.
The secret is shown once and cannot be recovered; store it with the device.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openDeviceStore()
		if err != nil {
			return err
		}
		defer st.Close()

		record, secret, err := st.CreateDevice(args[0])
		if err != nil {
			return fmt.Errorf("failed to create device: %w", err)
		}

		cmd.Printf("✓ Device created\n")
		cmd.Printf("Name:      %s\n", record.Name)
		cmd.Printf("Device ID: %s\n", record.ID)
		cmd.Printf("Secret:    %s\n", secret)
		cmd.Println("IMPORTANT: The secret is shown only once. Store it securely on the device.")
		return nil
	},
}

var deviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List provisioned devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openDeviceStore()
		if err != nil {
			return err
		}
		defer st.Close()

		devices, err := st.ListDevices()
		if err != nil {
			return fmt.Errorf("failed to list devices: %w", err)
		}

		if len(devices) == 0 {
			cmd.Println("No devices provisioned")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DEVICE ID\tNAME\tCREATED\tLAST CONNECTED")
		for _, d := range devices {
			lastConnected := "never"
			if !d.LastConnected.IsZero() {
				lastConnected = d.LastConnected.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				d.ID, d.Name, d.CreatedAt.Format("2006-01-02 15:04:05"), lastConnected)
		}
		return w.Flush()
	},
}

var deviceDeleteCmd = &cobra.Command{
	Use:   "delete <device-id>",
	Short: "Remove a provisioned device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := proto.ParseDeviceID(args[0])
		if err != nil {
			return fmt.Errorf("invalid device ID: %w", err)
		}

		st, err := openDeviceStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.DeleteDevice(id); err != nil {
			return fmt.Errorf("failed to delete device: %w", err)
		}

		cmd.Printf("✓ Device %s deleted\n", id)
		return nil
	},
}

var deviceRunCmd = &cobra.Command{
	Use:   "run <device-id> <secret>",
	Short: "Run a device simulator",
	Long: `Connect to a broker as the given device and answer commands with a
simulated light: on/off, brightness and open/close state.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := proto.ParseDeviceID(args[0])
		if err != nil {
			return fmt.Errorf("invalid device ID: %w", err)
		}

		logger.SetSilentMode(false)
		log := logger.New()

		simulator := device.NewSimulator()
		client := device.NewClient(deviceBrokerURL, id, args[1], simulator)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigChan
			log.Info().Msg("Received shutdown signal")
			cancel()
		}()

		if err := client.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect to broker: %w", err)
		}
		defer client.Close()

		log.Info().
			Str("device_id", id.String()).
			Str("broker_url", deviceBrokerURL).
			Msg("Device simulator connected")

		if err := client.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("device session ended: %w", err)
		}
		return nil
	},
}

func openDeviceStore() (*store.Store, error) {
	st, err := store.Open(deviceDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open device database: %w", err)
	}
	return st, nil
}

func init() {
	deviceCmd.PersistentFlags().StringVar(&deviceDBPath, "db", "beacon.db", "path to device database")
	deviceRunCmd.Flags().StringVar(&deviceBrokerURL, "broker", "http://localhost:8080", "broker base URL")

	deviceCmd.AddCommand(deviceCreateCmd)
	deviceCmd.AddCommand(deviceListCmd)
	deviceCmd.AddCommand(deviceDeleteCmd)
	deviceCmd.AddCommand(deviceRunCmd)
}

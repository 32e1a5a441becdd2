package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List available input devices",
	Long: `List the audio input devices of the configured backend. The name shown
can be used as audio.device in the config file; an empty device means the
system default.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := openBackend()
		if err != nil {
			return err
		}
		defer backend.Terminate()

		devices, err := backend.Devices()
		if err != nil {
			return fmt.Errorf("failed to list devices: %w", err)
		}

		fmt.Printf("Input devices (%s, %d found):\n", backend.Type(), len(devices))
		for i, d := range devices {
			marker := " "
			if d.IsDefault {
				marker = "*"
			}
			fmt.Printf(" %s %d. %s (%d ch, %.0f Hz)\n", marker, i+1, d.Name, d.MaxInputChannels, d.DefaultSampleRate)
		}
		if cfg.Audio.Device != "" {
			fmt.Printf("\nConfigured device: %s\n", cfg.Audio.Device)
		}
		return nil
	},
}

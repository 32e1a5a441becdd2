package cmd

import (
	"fmt"

	"github.com/audiolibrelab/micrecorder/internal/service"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play [file.wav]",
	Short: "Play a recording",
	Long: `Play a saved recording with the first available system player
(aplay, ffplay, mpv or vlc). Without arguments the latest recording is played.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recordings := service.NewRecordings(cfg.Output.Directory)
		path, err := recordings.Resolve(firstArg(args))
		if err != nil {
			return err
		}

		fmt.Printf("Playing: %s\n", path)
		if err := recordings.Play(path); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		return nil
	},
}

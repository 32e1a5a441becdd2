package cmd

import (
	"fmt"

	"github.com/audiolibrelab/micrecorder/internal/service"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info [file.wav]",
	Short: "Show the header of a recording",
	Long: `Display format and duration of a WAV file. A bare file name is looked up
in the output directory; without arguments the latest recording is shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := service.NewRecordings(cfg.Output.Directory).Inspect(firstArg(args))
		if err != nil {
			return err
		}

		fmt.Printf("file:        %s\n", info.Path)
		fmt.Printf("sample_rate: %d Hz\n", info.SampleRate)
		fmt.Printf("channels:    %d\n", info.Channels)
		fmt.Printf("bit_depth:   %d\n", info.BitDepth)
		fmt.Printf("samples:     %d\n", info.Samples)
		fmt.Printf("data_bytes:  %d\n", info.DataBytes)
		fmt.Printf("duration:    %s\n", info.Duration)
		return nil
	},
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

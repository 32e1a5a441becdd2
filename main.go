package main

import "github.com/audiolibrelab/micrecorder/cmd"

func main() {
	cmd.Execute()
}

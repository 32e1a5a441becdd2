package play

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// players in order of preference. aplay handles WAV natively, which is all
// the recorder writes.
var players = []string{"aplay", "ffplay", "mpv", "vlc"}

type Player struct {
	lookPath func(string) (string, error)
}

func New() *Player {
	return &Player{lookPath: exec.LookPath}
}

// Play blocks until the recording at path has finished playing.
func (p *Player) Play(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("audio file not found: %s", path)
	}

	player, err := p.findAudioPlayer()
	if err != nil {
		return fmt.Errorf("no suitable audio player found: %w", err)
	}

	cmd, err := command(player, path)
	if err != nil {
		return err
	}

	slog.Info("Playing recording", "path", path, "player", player)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}

	slog.Debug("Playback completed", "path", path)
	return nil
}

func command(player, path string) (*exec.Cmd, error) {
	switch player {
	case "aplay":
		return exec.Command("aplay", "-q", path), nil
	case "ffplay":
		return exec.Command("ffplay", "-nodisp", "-autoexit", "-loglevel", "error", path), nil
	case "mpv":
		return exec.Command("mpv", "--no-video", path), nil
	case "vlc":
		return exec.Command("vlc", "--play-and-exit", path), nil
	}
	return nil, fmt.Errorf("unsupported player: %s", player)
}

func (p *Player) findAudioPlayer() (string, error) {
	for _, player := range players {
		if _, err := p.lookPath(player); err == nil {
			return player, nil
		}
	}

	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(players, ", "))
}

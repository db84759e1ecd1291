package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/koscakluka/ema-relay/core/audio"
	"github.com/koscakluka/ema-relay/core/audio/miniaudio"
	"github.com/koscakluka/ema-relay/core/audio/portaudio"
	"github.com/koscakluka/ema-relay/core/client"
	"github.com/koscakluka/ema-relay/core/transcript"
	"github.com/koscakluka/ema-relay/internal/config"
	"github.com/koscakluka/ema-relay/internal/tui"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/koscakluka/ema-relay/cmd/voicechat"

var logger = otelslog.NewLogger(scopeName)

func main() {
	cfg, err := config.LoadClient(".env")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	assembler := transcript.NewAssembler()
	assembler.AddStatus(transcript.ConnectingStatus)

	var (
		playback *audio.PlaybackBuffer
		device   audio.CaptureDevice
	)
	if !cfg.DisableAudio {
		audioClient, err := miniaudio.NewClient()
		if err != nil {
			logger.Warn("Audio unavailable, continuing with text only", "error", err)
			assembler.AddStatus(fmt.Sprintf("Audio unavailable: %v", err))
		} else {
			defer audioClient.Close()
			playback = audio.NewPlaybackBuffer(audioClient.OpenPlaybackSink,
				audio.WithMaxQueuedChunks(cfg.MaxQueued))
			defer playback.Close()

			switch cfg.CaptureBackend {
			case config.CaptureBackendPortaudio:
				device = portaudio.NewCaptureDevice(0)
			default:
				device = audioClient.CaptureDevice()
			}
		}
	}

	var program *tea.Program
	opts := []client.Option{
		client.WithAssembler(assembler),
		client.WithOnUpdate(func() { program.Send(tui.TranscriptUpdated{}) }),
	}
	if playback != nil {
		opts = append(opts, client.WithPlayback(playback))
	}

	relayClient, err := client.Dial(ctx, cfg.RelayURL, opts...)
	if err != nil {
		log.Fatalf("Failed to connect to relay: %v", err)
	}
	defer relayClient.Close()

	program = tea.NewProgram(tui.New(assembler, relayClient.SendText),
		tea.WithAltScreen(),
		tea.WithContext(ctx))

	if device != nil {
		capture := audio.NewCaptureStreamer(audio.WithFrameDuration(cfg.FrameDuration))
		if err := capture.Start(ctx, device, func(chunk []byte) {
			if err := relayClient.SendAudio(chunk); err != nil {
				logger.Debug("Failed to send captured audio", "error", err)
			}
		}); err != nil {
			logger.Warn("Microphone unavailable", "error", err)
			assembler.AddStatus(fmt.Sprintf("Microphone unavailable: %v", err))
		} else {
			defer func() {
				if err := capture.Stop(); err != nil {
					logger.Warn("Failed to stop capture", "error", err)
				}
			}()
		}
	}

	go func() {
		err := relayClient.Run(ctx)
		program.Send(tui.SessionEnded{Err: err})
	}()

	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		log.Printf("Terminal UI failed: %v", err)
	}
}

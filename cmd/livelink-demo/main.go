// Package main provides a minimal CLI demo for livelink sessions.
//
// It connects a live session to the relay, streams microphone audio and
// optional screen frames, and plays the synthesized replies.
//
// Usage:
//
//	go run ./cmd/livelink-demo -endpoint ws://localhost:8080/v1/live -project my-project
//
// Environment variables (a .env file is honored):
//
//	LIVELINK_ENDPOINT   - Relay websocket URL
//	LIVELINK_PROJECT_ID - Project the session bills against
//
// Controls:
//
//	/audio          - Toggle microphone streaming
//	/screen         - Toggle screen sharing
//	/voice <name>   - Switch the synthesis voice
//	q               - Quit the demo
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	livelink "github.com/livelink-dev/livelink/sdk"
)

func main() {
	_ = godotenv.Load()

	endpoint := flag.String("endpoint", os.Getenv("LIVELINK_ENDPOINT"), "relay websocket URL")
	project := flag.String("project", os.Getenv("LIVELINK_PROJECT_ID"), "project id")
	voice := flag.String("voice", "", "synthesis voice")
	model := flag.String("model", "", "model override")
	instructions := flag.String("instructions", "", "system instructions")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if *endpoint == "" {
		log.Fatal("LIVELINK_ENDPOINT (or -endpoint) required")
	}
	if *project == "" {
		log.Fatal("LIVELINK_PROJECT_ID (or -project) required")
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	fmt.Println("╔════════════════════════════════════════════════════════════╗")
	fmt.Println("║                  livelink Live Demo                        ║")
	fmt.Println("╠════════════════════════════════════════════════════════════╣")
	fmt.Println("║  Speak naturally once the microphone is on.                ║")
	fmt.Println("║                                                            ║")
	fmt.Println("║  Commands:                                                 ║")
	fmt.Println("║    /audio          Toggle microphone                       ║")
	fmt.Println("║    /screen         Toggle screen share                     ║")
	fmt.Println("║    /voice <name>   Switch voice                            ║")
	fmt.Println("║    q               Quit                                    ║")
	fmt.Println("╚════════════════════════════════════════════════════════════╝")
	fmt.Println()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()
	}()

	client := livelink.NewClient(
		livelink.WithEndpoint(*endpoint),
		livelink.WithLogger(logger),
	)
	session := client.Live.NewSession(livelink.SessionConfig{
		ProjectID:           *project,
		Model:               *model,
		SystemInstructions:  *instructions,
		Voice:               *voice,
		InputTranscription:  true,
		OutputTranscription: true,
	})

	out, err := newSpeaker()
	if err != nil {
		log.Fatalf("Failed to init speaker: %v", err)
	}
	playback := livelink.NewPlayback(out, livelink.PlaybackConfig{
		SampleRate: sampleRate,
		Logger:     logger,
	})
	defer playback.Destroy()

	coord := livelink.NewCoordinator(session, logger)
	coord.Manage(livelink.NewAudioProducer(session, livelink.AudioProducerOptions{Logger: logger}))
	coord.Manage(livelink.NewScreenProducer(session, livelink.ScreenProducerOptions{Logger: logger}))

	coord.OnConnectionChange(func(connected bool) {
		if connected {
			fmt.Printf("[SESSION] connected (id %s)\n", session.SessionID())
		} else {
			fmt.Println("[SESSION] disconnected")
		}
	})
	coord.OnAudioStreamChange(func(active bool) {
		fmt.Printf("[MIC] active=%v\n", active)
	})
	coord.OnScreenShareChange(func(active bool) {
		fmt.Printf("[SCREEN] active=%v\n", active)
	})

	session.OnEvent(func(event livelink.InboundEvent) {
		switch e := event.(type) {
		case livelink.AudioEvent:
			playback.Enqueue(e.Data)
		case livelink.InterruptedEvent:
			playback.Interrupt()
		case livelink.TextEvent:
			fmt.Printf("[MODEL] %s\n", e.Text)
		case livelink.InputTranscriptionEvent:
			if e.Finished {
				fmt.Printf("[YOU] %s\n", e.Text)
			}
		case livelink.OutputTranscriptionEvent:
			if e.Finished {
				fmt.Printf("[MODEL SAID] %s\n", e.Text)
			}
		case livelink.ServerErrorEvent:
			fmt.Printf("\n[ERROR] %s: %s\n", e.Code, e.Message)
		}
	})

	if err := coord.Connect(ctx); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer coord.Disconnect()

	fmt.Println("Type /audio to start talking, or 'q' to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if strings.ToLower(input) == "q" {
			break
		}

		switch {
		case input == "/audio":
			if _, err := coord.ToggleAudio(); err != nil {
				fmt.Printf("[ERROR] audio: %v\n", err)
			}
		case input == "/screen":
			if _, err := coord.ToggleScreen(); err != nil {
				fmt.Printf("[ERROR] screen: %v\n", err)
			}
		case strings.HasPrefix(input, "/voice "):
			name := strings.TrimSpace(strings.TrimPrefix(input, "/voice "))
			if err := coord.SetConfig(livelink.ConfigUpdate{Voice: &name}); err != nil {
				fmt.Printf("[ERROR] voice: %v\n", err)
			} else {
				fmt.Printf("[CONFIG] voice set to %s\n", name)
			}
		default:
			fmt.Println("[INFO] Commands: /audio, /screen, /voice <name>, q")
		}
	}
}

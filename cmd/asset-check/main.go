// Asset Check - verify the kiosk's identity store, audio clips and
// microphone before going live.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-concierge/internal/config"
	"github.com/teslashibe/go-concierge/internal/log"
	"github.com/teslashibe/go-concierge/pkg/audioio"
	"github.com/teslashibe/go-concierge/pkg/dialogue"
	"github.com/teslashibe/go-concierge/pkg/identity"
	"github.com/teslashibe/go-concierge/pkg/playback"
	"github.com/teslashibe/go-concierge/pkg/speech"
)

func main() {
	configPath := flag.String("config", "", "Config file")
	play := flag.Bool("play", false, "Play every clip that was found")
	listen := flag.Duration("listen", 0, "Recognize speech for this long and show keyword matches")
	flag.Parse()

	fmt.Println("🔎 Concierge asset check")
	fmt.Println("========================")

	log.Init("warn")
	logger := log.L()

	path, explicit := config.Path(*configPath)
	cfg, err := config.LoadOrDefault(path, explicit)
	if err != nil {
		fmt.Printf("❌ Config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	failed := false

	fmt.Printf("\n👥 Identity store %s\n", cfg.Identity.Store)
	store, err := identity.Load(cfg.Identity.Store, logger)
	if err != nil {
		fmt.Printf("   ❌ %v\n", err)
		os.Exit(1)
	}
	for _, rec := range store.Records() {
		status := "✅"
		if _, err := store.ReferenceImage(rec); err != nil {
			status = "❌ reference image unreadable"
			failed = true
		}
		fmt.Printf("   %-10s %-6s %s\n", rec.DisplayKey, rec.Kind, status)
	}

	assets := playback.Assets{Dir: cfg.Audio.AssetDir}
	keywords := dialogue.KeywordTable(cfg.Dialogue.Keywords)
	names := []string{cfg.Dialogue.AskPrompt, cfg.Dialogue.RetryPrompt}
	names = append(names, keywords.Responses()...)
	for _, rec := range store.Records() {
		if rec.GreetingAudio == "" {
			fmt.Printf("   ⚠️  %s has no greeting clip\n", rec.DisplayKey)
			failed = true
			continue
		}
		names = append(names, rec.GreetingAudio)
	}

	fmt.Printf("\n🔊 Audio clips in %s\n", assets.Dir)
	missing := playback.CheckAssets(assets, logger, names...)
	absent := make(map[string]bool, len(missing))
	for _, name := range missing {
		absent[name] = true
		fmt.Printf("   ❌ %s\n", name)
	}
	fmt.Printf("   %d missing\n", len(missing))
	failed = failed || len(missing) > 0

	if *play {
		player, err := playback.NewExecPlayer(assets, cfg.Audio.Command, logger)
		if err != nil {
			fmt.Printf("❌ Player: %v\n", err)
			os.Exit(1)
		}
		seen := make(map[string]bool)
		for _, name := range names {
			if absent[name] || seen[name] || ctx.Err() != nil {
				continue
			}
			seen[name] = true
			fmt.Printf("   ▶️  %s... ", name)
			if err := player.Play(ctx, name); err != nil {
				fmt.Printf("❌ %v\n", err)
				failed = true
				continue
			}
			fmt.Println("✅")
		}
	}

	if *listen > 0 {
		if !checkSpeech(ctx, cfg, keywords, *listen) {
			failed = true
		}
	}

	if failed {
		os.Exit(1)
	}
	fmt.Println("\n✅ All good")
}

// checkSpeech prints what the recognizer hears for d and the keyword each
// utterance would match.
func checkSpeech(ctx context.Context, cfg *config.Config, keywords dialogue.KeywordTable, d time.Duration) bool {
	fmt.Printf("\n🎤 Listening on %s for %s (say a product name)\n", cfg.Speech.URL, d)

	src, err := audioio.NewSource(cfg.Audio.Capture, log.L())
	if err != nil {
		fmt.Printf("   ❌ Microphone: %v\n", err)
		return false
	}
	defer src.Close()

	rec := speech.NewVosk(speech.VoskConfig{URL: cfg.Speech.URL, Logger: log.L()}, src)
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	stream, err := rec.Listen(ctx)
	if err != nil {
		fmt.Printf("   ❌ Recognizer: %v\n", err)
		return false
	}
	defer stream.Close()

	for {
		select {
		case <-ctx.Done():
			return true
		case u, ok := <-stream.Utterances():
			if !ok {
				if err := stream.Err(); err != nil {
					fmt.Printf("   ❌ %v\n", err)
					return false
				}
				return true
			}
			if kw, ok := keywords.Match(u.Text); ok {
				fmt.Printf("   👂 %q → %s (%s)\n", u.Text, kw.Phrase, kw.Response)
			} else {
				fmt.Printf("   👂 %q → no keyword\n", u.Text)
			}
		}
	}
}

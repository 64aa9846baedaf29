// Package main provides the interactive player entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/chzyer/readline"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/soundbed/segue/internal/infra/beepchan"
	"github.com/soundbed/segue/internal/infra/config"
	"github.com/soundbed/segue/internal/infra/logger"
	"github.com/soundbed/segue/pkg/curve"
	"github.com/soundbed/segue/pkg/playback"
	"github.com/soundbed/segue/pkg/track"
)

var (
	app        = kingpin.New("segue-player", "Two-lane crossfade player")
	configPath = app.Flag("config", "Path to config file").Default("config/player.yaml").Envar("SEGUE_CONFIG").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// curves command
	curvesCmd = app.Command("curves", "List registered fade curves and exit")

	// gen-tone command
	genToneCmd  = app.Command("gen-tone", "Write a stereo test tone as a WAV file")
	toneOut     = genToneCmd.Flag("out", "Output WAV path").Default("tone.wav").String()
	toneFreq    = genToneCmd.Flag("freq", "Tone frequency in Hz").Default("220").Float64()
	toneSeconds = genToneCmd.Flag("seconds", "Tone length in seconds").Default("30").Float64()
	toneRate    = genToneCmd.Flag("rate", "Sample rate").Default("44100").Int()
)

func init() {
	// play command (default) - no need to store the command
	app.Command("play", "Start the interactive player (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Handle curves command
	if command == curvesCmd.FullCommand() {
		printCurves()
		return
	}

	// Initialize logger
	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	// Override with command-line flags if specified
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	// Handle gen-tone command
	if command == genToneCmd.FullCommand() {
		if err := writeTone(*toneOut, *toneFreq, *toneSeconds, *toneRate); err != nil {
			zlog.Fatal().Msgf("Failed to write tone: %v", err)
		}
		fmt.Printf("Wrote %.0fHz tone (%.1fs) to %s\n", *toneFreq, *toneSeconds, *toneOut)
		return
	}

	// Load config
	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	// Run player (defer ensures shutdown hook is called)
	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Player error: %v", err)
		os.Exit(1)
	}
}

// run executes the main player logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	if err := beepchan.Init(cfg.Audio.SampleRate, time.Duration(cfg.Audio.BufferMs)*time.Millisecond); err != nil {
		return errors.Wrap(err, "failed to open audio device")
	}

	laneA, err := beepchan.NewChannel()
	if err != nil {
		return err
	}
	laneB, err := beepchan.NewChannel()
	if err != nil {
		return err
	}

	engine, err := playback.NewEngine(cfg.EngineConfig(), laneA, laneB, beepchan.NewLoader())
	if err != nil {
		return errors.Wrap(err, "failed to create engine")
	}

	// Drain the notification stream until Close shuts it.
	eventsDone := make(chan struct{})
	go func() {
		defer close(eventsDone)
		for ev := range engine.Events() {
			printEvent(ev)
		}
	}()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:       "segue> ",
		AutoComplete: newCompleter(cfg),
	})
	if err != nil {
		engine.Close()
		<-eventsDone
		return errors.Wrap(err, "failed to open terminal")
	}
	defer rl.Close()

	// A signal from outside the terminal ends the session the same way
	// "quit" does: Close below fades nothing, it stops the lanes cold.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		zlog.Info().Msg("Received shutdown signal...")
		rl.Close()
	}()

	printTracks(cfg.Tracks())
	fmt.Println(`Type "help" for commands.`)

	repl(rl, engine, cfg)

	engine.Close()
	<-eventsDone
	zlog.Info().Msg("Player stopped")
	return nil
}

// repl reads commands until quit, EOF or a closed terminal.
func repl(rl *readline.Instance, engine *playback.Engine, cfg *config.Config) {
	ctx := context.Background()
	for {
		line, err := rl.Readline()
		if err != nil {
			// readline.ErrInterrupt on Ctrl-C, io.EOF on Ctrl-D or Close
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		var cmdErr error
		switch fields[0] {
		case "play":
			t, ok := argTrack(cfg, fields)
			if !ok {
				continue
			}
			cmdErr = engine.Play(ctx, t)
		case "next":
			t, ok := argTrack(cfg, fields)
			if !ok {
				continue
			}
			cmdErr = engine.TransitionTo(ctx, t)
		case "pause":
			cmdErr = engine.Pause(ctx)
		case "resume":
			cmdErr = engine.Resume(ctx)
		case "stop":
			cmdErr = engine.Stop(ctx)
		case "reset":
			cmdErr = engine.Reset(ctx)
		case "state":
			fmt.Println(engine.State())
		case "tracks":
			printTracks(cfg.Tracks())
		case "help":
			printHelp()
		case "quit", "exit":
			return
		default:
			fmt.Printf("Unknown command %q, try \"help\"\n", fields[0])
		}
		if cmdErr != nil {
			fmt.Printf("Error: %v\n", cmdErr)
		}
	}
}

// argTrack resolves the command argument to a session track, by number
// (1-based) or by id.
func argTrack(cfg *config.Config, fields []string) (track.Track, bool) {
	if len(fields) < 2 {
		fmt.Println("Usage: " + fields[0] + " <number|id>")
		return track.Track{}, false
	}
	arg := fields[1]
	tracks := cfg.Tracks()
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(tracks) {
			fmt.Printf("No track %d, have 1-%d\n", n, len(tracks))
			return track.Track{}, false
		}
		return tracks[n-1], true
	}
	t, ok := cfg.FindTrack(arg)
	if !ok {
		fmt.Printf("No track with id %q\n", arg)
		return track.Track{}, false
	}
	return t, true
}

func newCompleter(cfg *config.Config) *readline.PrefixCompleter {
	ids := func(string) []string {
		var out []string
		for _, t := range cfg.Tracks() {
			out = append(out, t.ID)
		}
		return out
	}
	return readline.NewPrefixCompleter(
		readline.PcItem("play", readline.PcItemDynamic(ids)),
		readline.PcItem("next", readline.PcItemDynamic(ids)),
		readline.PcItem("pause"),
		readline.PcItem("resume"),
		readline.PcItem("stop"),
		readline.PcItem("reset"),
		readline.PcItem("state"),
		readline.PcItem("tracks"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
}

func printEvent(ev playback.Event) {
	switch ev.Type {
	case playback.TransitionProgress:
		zlog.Debug().
			Str("transition_id", ev.TransitionID.String()).
			Bool("quick_finish_eligible", ev.QuickFinishEligible).
			Msgf("Fade %s -> %s: %.0f%%", ev.From.Title, ev.To.Title, ev.Progress*100)
	case playback.TransitionCommitted:
		zlog.Info().Msgf("Now playing %s (crossfade from %s done)", ev.To.Title, ev.From.Title)
	case playback.TransitionRolledBack:
		zlog.Info().Msgf("Crossfade to %s rolled back, staying on %s", ev.To.Title, ev.From.Title)
	case playback.TransitionFrozen:
		zlog.Info().Msgf("Crossfade %s -> %s paused at %.0f%%", ev.From.Title, ev.To.Title, ev.Progress*100)
	case playback.StateChanged:
		zlog.Info().Msgf("State: %s", ev.State)
	}
}

// printTracks prints the session track list.
func printTracks(tracks []track.Track) {
	fmt.Println("Session Tracks:")
	for i, t := range tracks {
		loop := ""
		if t.Loop {
			loop = " [loop]"
		}
		fmt.Printf("  %2d. %-24s - %s%s\n", i+1, t.Title, t.Location, loop)
	}
}

// printCurves prints registered fade curves with their edge gains.
func printCurves() {
	fmt.Println("Registered Curves:")
	for _, name := range curve.Names() {
		c, err := curve.New(name, nil)
		if err != nil {
			fmt.Printf("  %-12s - error: %v\n", name, err)
			continue
		}
		status := "ok"
		if err := curve.CheckContract(c); err != nil {
			status = err.Error()
		}
		outStart, inStart := curve.Pair(c, 0)
		outMid, inMid := curve.Pair(c, 0.5)
		fmt.Printf("  %-12s - midpoint out/in %.3f/%.3f, edges %.0f/%.0f [%s]\n",
			name, outMid, inMid, outStart, inStart, status)
	}
}

func printHelp() {
	fmt.Println(`Commands:
  play <n|id>    start or resume a track (crossfades when another is playing)
  next <n|id>    crossfade to a track
  pause          suspend playback (mid-fade pauses freeze the fade)
  resume         continue from where pause left off
  stop           fade out and finish
  reset          recover from a failed state
  state          print the current playback state
  tracks         list session tracks
  quit           exit`)
}

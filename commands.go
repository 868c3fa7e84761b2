package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/Conceptual-Machines/magda-bebop/internal/api"
	"github.com/Conceptual-Machines/magda-bebop/internal/builder"
	"github.com/Conceptual-Machines/magda-bebop/internal/config"
	"github.com/Conceptual-Machines/magda-bebop/internal/middleware"
	"github.com/Conceptual-Machines/magda-bebop/internal/midiio"
	"github.com/Conceptual-Machines/magda-bebop/internal/models"
	"github.com/Conceptual-Machines/magda-bebop/internal/solo"
	"github.com/Conceptual-Machines/magda-bebop/internal/theory"
)

const (
	shutdownTimeout = 10 * time.Second
	renderSteps     = 4 // ticks per beat in offline renders
	compOctave      = 3
	compVelocity    = 60
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "magda-bebop",
		Short: "Real-time bebop solo generator",
		Long: `magda-bebop listens to chords, retrieves similar melodic fragments
from a database built from MIDI files, and plays a bebop line that fits.`,
		SilenceUsage: true,
	}
	root.AddCommand(
		newServeCmd(),
		newBuildCmd(),
		newQueryCmd(),
		newInfoCmd(),
		newSeedCmd(),
		newRenderCmd(),
		newTokenCmd(),
		newLiveCmd(),
	)
	return root
}

// withApp loads configuration, wires the services and runs fn
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	initSentry(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, runServe)
		},
	}
}

func runServe(ctx context.Context, a *app) error {
	if err := a.loadIndex(ctx); err != nil {
		return fmt.Errorf("load melody index: %w", err)
	}
	go a.snapshots.RunGC(ctx)

	if a.cfg.WatchSourceDir {
		w := builder.NewWatcher(a.builder, a.cfg.MIDISourceDir, builder.DefaultDebounce)
		go func() {
			if err := w.Run(ctx); err != nil {
				log.Printf("Source watcher stopped: %v", err)
			}
		}()
	}

	manager := a.newManager(ctx)
	defer manager.StopAll()

	if a.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.SetupRouter(api.Deps{
		Builder:  a.builder,
		Sessions: manager,
		DB:       a.db,
		History:  a.history,
		Recorder: a.recorder,
	}, a.cfg, GetVersion())

	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("🚀 Starting server on port %s", a.cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build [directory]",
		Short: "Build the melody database from MIDI files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				dir := a.cfg.MIDISourceDir
				if len(args) == 1 {
					dir = args[0]
				}
				report, err := a.builder.BuildDatabase(ctx, dir)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			})
		},
	}
}

func newQueryCmd() *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "query <pitch> [pitch...]",
		Short: "Find fragments similar to a chord given as MIDI pitches",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pitches, err := parsePitches(args)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.loadIndex(ctx); err != nil {
					return err
				}
				results, err := a.builder.QuerySimilar(ctx, pitches, k)
				if err != nil {
					return err
				}
				return printJSON(cmd, results)
			})
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", solo.DefaultK, "number of results")
	return cmd
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Describe the saved melody index",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if _, err := a.builder.Restore(ctx); err != nil {
					return err
				}
				return printJSON(cmd, a.builder.Info())
			})
		},
	}
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed [directory]",
		Short: "Write the example MIDI files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := os.Getenv("MIDI_SOURCE_DIR")
			if len(args) == 1 {
				dir = args[0]
			}
			if dir == "" {
				dir = "./midi_files"
			}
			written, err := builder.Seed(dir)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]interface{}{"directory": dir, "written": written})
		},
	}
}

func newRenderCmd() *cobra.Command {
	var (
		chords        string
		beatsPerChord float64
		out           string
		theoryOnly    bool
		comp          bool
	)
	cmd := &cobra.Command{
		Use:     "render",
		Short:   "Render a solo over a chord progression to a MIDI file",
		Example: `  magda-bebop render --chords "Dm7,G7,Cmaj7,Cmaj7" --out solo.mid`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			symbols := splitChords(chords)
			if len(symbols) == 0 {
				return errors.New("--chords needs at least one chord symbol")
			}
			if beatsPerChord <= 0 {
				return errors.New("--beats must be positive")
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if !theoryOnly {
					if err := a.loadIndex(ctx); err != nil {
						return err
					}
				}
				cfg := a.cfg.Solo
				cfg.RAG = !theoryOnly

				sink := midiio.NewBufferSink()
				s, err := solo.NewSession(cfg, a.store, sink, solo.WithRecorder(a.recorder))
				if err != nil {
					return err
				}
				if err := renderProgression(ctx, s, symbols, beatsPerChord); err != nil {
					return err
				}
				var extra [][]models.NoteEvent
				if comp {
					track, err := compingTrack(symbols, beatsPerChord)
					if err != nil {
						return err
					}
					extra = append(extra, track)
				}

				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				if err := sink.WriteSMF(f, cfg.Tempo, extra...); err != nil {
					return err
				}
				return printJSON(cmd, map[string]interface{}{"file": out, "notes": len(sink.Notes())})
			})
		},
	}
	cmd.Flags().StringVar(&chords, "chords", "", "comma separated chord symbols")
	cmd.Flags().Float64Var(&beatsPerChord, "beats", 4, "beats per chord")
	cmd.Flags().StringVarP(&out, "out", "o", "solo.mid", "output MIDI file")
	cmd.Flags().BoolVar(&theoryOnly, "theory-only", false, "skip retrieval")
	cmd.Flags().BoolVar(&comp, "comp", true, "add a second track holding the chords")
	return cmd
}

// renderProgression drives s through the chords without a wall clock.
// Unknown chord symbols fail the render; retrieval timeouts do not.
func renderProgression(ctx context.Context, s *solo.Session, symbols []string, beatsPerChord float64) error {
	step := 1.0 / renderSteps
	for i, sym := range symbols {
		start := float64(i) * beatsPerChord
		// the chord change lands on the tick at its start beat
		s.Tick(ctx, start)
		err := s.OnChord(ctx, solo.ChordEvent{Symbol: sym, Timestamp: time.Now()})
		var timeout *solo.QueryTimeoutError
		if err != nil && !errors.As(err, &timeout) {
			return fmt.Errorf("chord %d (%s): %w", i+1, sym, err)
		}
		for b := start + step; b < start+beatsPerChord; b += step {
			s.Tick(ctx, b)
		}
	}
	return s.Stop()
}

// compingTrack holds each chord for its whole span, voiced below the solo
func compingTrack(symbols []string, beatsPerChord float64) ([]models.NoteEvent, error) {
	var notes []models.NoteEvent
	for i, sym := range symbols {
		pitches, err := theory.ChordToMIDI(sym, compOctave)
		if err != nil {
			return nil, fmt.Errorf("chord %d (%s): %w", i+1, sym, err)
		}
		for _, p := range pitches {
			notes = append(notes, models.NoteEvent{
				Pitch:         p,
				Velocity:      compVelocity,
				StartBeats:    float64(i) * beatsPerChord,
				DurationBeats: beatsPerChord,
			})
		}
	}
	return notes, nil
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for AUTH_MODE=jwt",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, err := middleware.IssueToken(cfg.JWTSecret, subject, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "performer", "token subject")
	cmd.Flags().StringVar(&role, "role", models.RolePerformer, `role claim ("admin" may rebuild)`)
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func parsePitches(args []string) ([]int, error) {
	var pitches []int
	for _, arg := range args {
		for _, field := range strings.FieldsFunc(arg, func(r rune) bool { return r == ',' || r == ' ' }) {
			p, err := strconv.Atoi(field)
			if err != nil || p < 0 || p > 127 {
				return nil, fmt.Errorf("invalid MIDI pitch %q", field)
			}
			pitches = append(pitches, p)
		}
	}
	return pitches, nil
}

func splitChords(s string) []string {
	var out []string
	for _, sym := range strings.Split(s, ",") {
		if sym = strings.TrimSpace(sym); sym != "" {
			out = append(out, sym)
		}
	}
	return out
}

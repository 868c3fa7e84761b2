package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"gitlab.com/gomidi/midi/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Conceptual-Machines/magda-bebop/internal/midiio"
	"github.com/Conceptual-Machines/magda-bebop/internal/solo"
)

const liveQueue = 256

var errInputClosed = errors.New("midi input closed")

func newLiveCmd() *cobra.Command {
	var (
		inName     string
		outName    string
		channel    uint8
		minNotes   int
		theoryOnly bool
		list       bool
	)
	cmd := &cobra.Command{
		Use:   "live",
		Short: "Play a solo over chords held on a MIDI keyboard",
		Long: `live listens on a MIDI input port, detects the chord being held and
plays the solo on a MIDI output port in time with the configured tempo.
Ports are only available in binaries built with -tags rtmidi.`,
		Example: `  magda-bebop live --in "Keystation 49" --out "IAC Driver Bus 1"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if list {
				fmt.Fprintf(cmd.OutOrStdout(), "inputs:\n%s\noutputs:\n%s\n", midi.GetInPorts(), midi.GetOutPorts())
				return nil
			}
			if inName == "" || outName == "" {
				return errors.New("--in and --out are required (see --list)")
			}
			if channel > 15 {
				return fmt.Errorf("--channel must be 0-15, got %d", channel)
			}
			defer midi.CloseDriver()

			return withApp(cmd, func(ctx context.Context, a *app) error {
				if !theoryOnly {
					if err := a.loadIndex(ctx); err != nil {
						return fmt.Errorf("load melody index: %w", err)
					}
				}

				in, err := midi.FindInPort(inName)
				if err != nil {
					return fmt.Errorf("input port %q: %w", inName, err)
				}
				out, err := midi.FindOutPort(outName)
				if err != nil {
					return fmt.Errorf("output port %q: %w", outName, err)
				}
				send, err := midi.SendTo(out)
				if err != nil {
					return fmt.Errorf("open output port %q: %w", outName, err)
				}
				sink, err := midiio.NewMessageSink(channel, send)
				if err != nil {
					return err
				}

				cfg := a.cfg.Solo
				cfg.RAG = !theoryOnly
				s, err := solo.NewSession(cfg, a.store, sink, solo.WithRecorder(a.recorder))
				if err != nil {
					return err
				}

				msgs := make(chan midi.Message, liveQueue)
				stop, err := midi.ListenTo(in, func(msg midi.Message, _ int32) {
					select {
					case msgs <- msg:
					default:
						log.Printf("Dropped MIDI message %s", msg)
					}
				}, midi.HandleError(func(err error) {
					log.Printf("MIDI input error: %v", err)
				}))
				if err != nil {
					return fmt.Errorf("listen on %q: %w", inName, err)
				}
				defer stop()

				log.Printf("🎹 Listening on %s, playing on %s (channel %d)", in, out, channel+1)
				detector := midiio.NewChordDetector(midiio.DefaultStableTime, minNotes)
				return runLive(ctx, s, detector, msgs, cfg.Tempo, cfg.Quantize)
			})
		},
	}
	cmd.Flags().StringVar(&inName, "in", "", "MIDI input port name")
	cmd.Flags().StringVar(&outName, "out", "", "MIDI output port name")
	cmd.Flags().Uint8Var(&channel, "channel", 0, "output channel (0-15)")
	cmd.Flags().IntVar(&minNotes, "min-notes", midiio.DefaultMinNotes, "keys that must be held to form a chord")
	cmd.Flags().BoolVar(&theoryOnly, "theory-only", false, "skip retrieval")
	cmd.Flags().BoolVar(&list, "list", false, "list MIDI ports and exit")
	return cmd
}

// runLive plays s over the chords detected in msgs on a wall clock at tempo.
// It returns nil once msgs is closed or ctx is done.
func runLive(ctx context.Context, s *solo.Session, detector *midiio.ChordDetector, msgs <-chan midi.Message, tempo float64, subdivision int) error {
	chords := make(chan solo.ChordEvent, 4)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := detector.Run(gctx, msgs, chords); err != nil {
			return err
		}
		return errInputClosed
	})
	g.Go(func() error {
		return s.Run(gctx, solo.StartClock(gctx, tempo, subdivision), chords)
	})

	err := g.Wait()
	if errors.Is(err, errInputClosed) || ctx.Err() != nil {
		return nil
	}
	return err
}

//go:build rtmidi

package main

// The system MIDI driver needs cgo and the platform MIDI headers.
import _ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/leandrodaf/midi2/internal/logger"
	"github.com/leandrodaf/midi2/sdk/contracts"
	"github.com/leandrodaf/midi2/sdk/filter"
	"github.com/leandrodaf/midi2/sdk/midi"
	"github.com/leandrodaf/midi2/sdk/ump"
)

func main() {
	log := logger.NewZapLogger()

	rt, err := midi.NewRuntime(
		contracts.WithLogger(log),
		contracts.WithLogLevel(contracts.InfoLevel),
		contracts.WithClientName("midi2 example"),
		contracts.WithRules(contracts.Rule{
			Match:  contracts.RuleMatch{Name: "Keyboard-.*", Direction: "input"},
			Action: contracts.ActionAutoOpen,
			Alias:  "keys",
		}),
	)
	if err != nil {
		log.Error("Failed to start MIDI runtime", log.Field().Error("error", err))
		return
	}
	defer rt.Stop()

	snapshot := rt.Endpoints()
	fmt.Printf("Known endpoints: %d\n", len(snapshot.Endpoints))
	for _, e := range snapshot.Endpoints {
		fmt.Printf("  %-10s %-8s %s\n", e.Info.ID, e.Info.Direction, e.Info.Name)
	}

	// Watch registry changes: auto-opened ports show up here.
	go func() {
		for change := range rt.Notifications() {
			if change.Err != nil {
				log.Warn("rule failure", log.Field().Error("error", change.Err))
				continue
			}
			log.Info("registry change",
				log.Field().Int("kind", int(change.Kind)),
				log.Field().String("endpoint", change.Endpoint.Name))
		}
	}()

	// When the rule above bound a keyboard, attach a note-only stream to it.
	if port, err := rt.Open("keys"); err == nil {
		notes := filter.NewMask().WithMessageTypes(ump.TypeMIDI2Voice)
		err = rt.Subscribe(port, filter.Pipeline{notes.Stage()}, func(p ump.Packet) {
			log.Info("MIDI event",
				log.Field().String("packet", p.String()),
				log.Field().Uint8("channel", p.Channel()))
		})
		if err != nil {
			log.Error("Failed to subscribe", log.Field().Error("error", err))
		}
	}

	fmt.Println("Running... Press Ctrl+C to exit.")
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	counters := rt.Counters()
	fmt.Printf("dropped=%d unknown=%d ruleFailures=%d\n",
		counters.PacketsDropped, counters.UnknownMessages, counters.RuleFailures)
}

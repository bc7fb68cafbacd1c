package midi

import (
	"github.com/leandrodaf/midi2/sdk/contracts"
)

// runtimeSink receives driver notifications. Every method runs on the OS
// notification thread: hot-plug degrades to a queued event, data degrades to
// ring pushes, and anything that cannot proceed degrades to a counter. No
// path here blocks, allocates or logs.
type runtimeSink struct {
	rt *Runtime
}

func (s runtimeSink) HotPlug(event contracts.HotPlugEvent) {
	s.rt.reg.Apply(event)
}

func (s runtimeSink) Deliver(port contracts.PortHandle, _ uint64, data []byte) {
	in, ok := s.rt.ingests.Load().(map[contracts.PortHandle]*ingest)[port]
	if !ok {
		s.rt.orphanData.Add(1)
		return
	}
	in.dec.Feed(data, in.emit)
}

func (s runtimeSink) DeliverWords(port contracts.PortHandle, _ uint64, words []uint32) {
	in, ok := s.rt.ingests.Load().(map[contracts.PortHandle]*ingest)[port]
	if !ok {
		s.rt.orphanData.Add(1)
		return
	}
	for _, w := range words {
		p, done := in.wdec.Push(w)
		if !done {
			continue
		}
		if !p.KnownType() {
			s.rt.unknownWords.Add(1)
			continue
		}
		in.ring.TryPush(p)
	}
}

package execution

import (
	"limit_go/internal/event"
)

// Mirror applies the price carried by a host command to the paper pools, so
// the engine reads the same price the host reported. Other commands are ignored.
func (p *PaperPool) Mirror(ev event.Event) error {
	switch e := ev.(type) {
	case *event.PoolInitializedEvent:
		if p.known(e.Key.ID()) {
			return p.SetPrice(e.Key.ID(), e.Tick)
		}
		return p.Initialize(e.Key, e.Tick)
	case *event.PriceUpdateEvent:
		if !p.known(e.Key.ID()) {
			return p.Initialize(e.Key, e.Tick)
		}
		return p.SetPrice(e.Key.ID(), e.Tick)
	}
	return nil
}

package pricefeed

import "github.com/sljivkov/pricestream/domain"

// history keeps the most recent events, newest first by arrival
type history struct {
	size  int
	items []domain.PriceUpdateEvent
}

func newHistory(size int) *history {
	return &history{
		size:  size,
		items: make([]domain.PriceUpdateEvent, 0, size),
	}
}

func (h *history) push(ev domain.PriceUpdateEvent) {
	if len(h.items) < h.size {
		h.items = append(h.items, domain.PriceUpdateEvent{})
	}

	copy(h.items[1:], h.items)
	h.items[0] = ev
}

func (h *history) snapshot() []domain.PriceUpdateEvent {
	out := make([]domain.PriceUpdateEvent, len(h.items))
	copy(out, h.items)

	return out
}

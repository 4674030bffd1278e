package masker

import "keyrecall/internal/store"

// MaskEvent redacts every textual field of an event before it is
// handed to storage. The symbol itself is masked too so a remapped or
// composed input can never smuggle a full identifier through.
func (m *Masker) MaskEvent(ev store.KeyEvent) store.KeyEvent {
	ev.Symbol = m.MaskText(ev.Symbol)
	if ev.WindowTitle != "" {
		ev.WindowTitle = m.MaskText(ev.WindowTitle)
	}
	if ev.Application != "" {
		ev.Application = m.MaskText(ev.Application)
	}
	return ev
}

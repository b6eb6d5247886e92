package usecase

import (
	"strings"
	"sync"
)

// IntakeDraft is the editable case text. Typed input appends; a recognized
// transcript replaces the whole draft.
type IntakeDraft struct {
	mu   sync.Mutex
	text string
}

func (d *IntakeDraft) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text
}

func (d *IntakeDraft) Set(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.text = text
}

// Append adds a typed line.
func (d *IntakeDraft) Append(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.text == "" {
		d.text = line
		return
	}
	d.text = strings.TrimRight(d.text, "\n") + "\n" + line
}

func (d *IntakeDraft) Clear() {
	d.Set("")
}

package ui

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Aman-CERP/docsearch/internal/index"
)

// BuildProgress draws ingestion progress from index progress events.
// Events may arrive from several backends at once.
type BuildProgress struct {
	mu    sync.Mutex
	w     *Writer
	total int
	every int
	done  map[string]int
	sum   int
}

// NewBuildProgress tracks chunks*backends item events. The line is
// redrawn every `every` events and on the last one.
func NewBuildProgress(w *Writer, chunks, backends, every int) *BuildProgress {
	return &BuildProgress{
		w:     w,
		total: chunks * backends,
		every: max(every, 1),
		done:  make(map[string]int),
	}
}

// Observe is an index.ProgressFunc.
func (p *BuildProgress) Observe(ev index.ProgressEvent) error {
	if ev.Type != index.EventItemDone {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	backend := ev.Metadata[index.MetaBackend]
	if backend == "" {
		backend = "index"
	}
	p.done[backend]++
	p.sum++

	if p.sum%p.every == 0 || p.sum == p.total {
		p.w.Progress(p.sum, p.total, p.summary())
	}
	return nil
}

// Done returns the number of item events seen.
func (p *BuildProgress) Done() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sum
}

func (p *BuildProgress) summary() string {
	names := make([]string, 0, len(p.done))
	for name := range p.done {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s %d", name, p.done[name])
	}
	return strings.Join(parts, "  ")
}

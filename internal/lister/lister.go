// Package lister prints the identifiers of hub models matching a filter.
package lister

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/takuphilchan/offgrid-t2i/internal/hub"
)

// DefaultFilter is used when the caller does not supply one.
const DefaultFilter = hub.TextToImage

// Source lists model records from a hub.
type Source interface {
	ListModels(ctx context.Context, opts hub.ListOptions) ([]hub.Model, error)
}

// Lister writes one identifier per line for each model the source returns.
type Lister struct {
	source Source
}

// New creates a lister backed by source.
func New(source Source) *Lister {
	return &Lister{source: source}
}

// IDs runs the listing and returns the identifiers in hub order.
func (l *Lister) IDs(ctx context.Context, opts hub.ListOptions) ([]string, error) {
	models, err := l.source.ListModels(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list models (filter=%q): %w", opts.Filter, err)
	}

	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.Identifier())
	}
	return ids, nil
}

// Run lists models with opts and writes their identifiers to w.
// Nothing is written unless the listing succeeds.
func (l *Lister) Run(ctx context.Context, w io.Writer, opts hub.ListOptions) error {
	ids, err := l.IDs(ctx, opts)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	for _, id := range ids {
		if _, err := fmt.Fprintln(bw, id); err != nil {
			return fmt.Errorf("write identifier: %w", err)
		}
	}
	return bw.Flush()
}

package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/dvloznov/multibank/internal/logger"
)

// Opener builds a fresh Store client.
type Opener func(ctx context.Context) (Store, error)

// Handle owns a lazily opened Store client. The client is built on first use
// and dropped after a transport failure so the next call reconnects. A Handle
// is constructed once per process and passed to the components that need it.
type Handle struct {
	mu      sync.Mutex
	open    Opener
	current Store
}

// NewHandle returns a Handle that opens clients with open.
func NewHandle(open Opener) *Handle {
	return &Handle{open: open}
}

func (h *Handle) get(ctx context.Context) (Store, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.current != nil {
		return h.current, nil
	}
	s, err := h.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("Handle: opening store: %w", err)
	}
	h.current = s
	return s, nil
}

// Reset closes and forgets the current client, if any.
func (h *Handle) Reset() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.current == nil {
		return nil
	}
	err := h.current.Close()
	h.current = nil
	return err
}

func (h *Handle) observe(ctx context.Context, err error) {
	if err == nil || !IsTransport(err) {
		return
	}
	log := logger.FromContext(ctx)
	log.Warn().Err(err).Msg("Store transport failure, dropping client")
	if cerr := h.Reset(); cerr != nil {
		log.Debug().Err(cerr).Msg("Closing failed store client")
	}
}

// Select implements Store.
func (h *Handle) Select(ctx context.Context, q Query) ([]Row, error) {
	s, err := h.get(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.Select(ctx, q)
	h.observe(ctx, err)
	return rows, err
}

// Insert implements Store.
func (h *Handle) Insert(ctx context.Context, table string, row Row) error {
	s, err := h.get(ctx)
	if err != nil {
		return err
	}
	err = s.Insert(ctx, table, row)
	h.observe(ctx, err)
	return err
}

// Update implements Store.
func (h *Handle) Update(ctx context.Context, table string, filters []Filter, values Row) (int64, error) {
	s, err := h.get(ctx)
	if err != nil {
		return 0, err
	}
	n, err := s.Update(ctx, table, filters, values)
	h.observe(ctx, err)
	return n, err
}

// Close implements Store.
func (h *Handle) Close() error {
	return h.Reset()
}

var _ Store = (*Handle)(nil)

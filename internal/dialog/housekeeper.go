package dialog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron"

	"github.com/Vovarama1992/amocrm-ai-bridge/internal/logger"
	"github.com/Vovarama1992/amocrm-ai-bridge/internal/store"
)

const (
	DefaultCleanupInterval = time.Hour
	DefaultInactivityDays  = 7

	cleanupTimeout = 30 * time.Second
)

// Housekeeper periodically marks idle conversations completed.
type Housekeeper struct {
	store          store.Store
	inactivityDays int
	interval       time.Duration
	log            *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

func NewHousekeeper(st store.Store, inactivityDays int, interval time.Duration, log *logger.Logger) *Housekeeper {
	if inactivityDays <= 0 {
		inactivityDays = DefaultInactivityDays
	}
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	return &Housekeeper{
		store:          st,
		inactivityDays: inactivityDays,
		interval:       interval,
		log:            log.With("component", "housekeeper"),
	}
}

// RunOnce performs a single cleanup pass.
func (h *Housekeeper) RunOnce(ctx context.Context) (int64, error) {
	n, err := h.store.MarkStaleConversationsCompleted(ctx, h.inactivityDays)
	if err != nil {
		h.log.Error("cleanup failed", "error", err)
		return 0, err
	}
	h.log.Debug("cleanup pass done", "completed", n)
	return n, nil
}

// Start schedules RunOnce every interval. Calling Start twice is a no-op.
func (h *Housekeeper) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return nil
	}

	c := cron.New()
	err := c.AddFunc("@every "+h.interval.String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		_, _ = h.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}
	c.Start()

	h.cron = c
	h.running = true
	h.log.Info("housekeeping started", "interval", h.interval.String())
	return nil
}

func (h *Housekeeper) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return
	}
	h.cron.Stop()
	h.cron = nil
	h.running = false
	h.log.Info("housekeeping stopped")
}

func (h *Housekeeper) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

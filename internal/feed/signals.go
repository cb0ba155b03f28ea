package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

// signalEvent is the JSON shape published to the signals channel by the
// strategy process.
type signalEvent struct {
	Exchange string            `json:"exchange"`
	Symbol   string            `json:"symbol"`
	State    string            `json:"state"`
	Options  map[string]string `json:"options,omitempty"`
}

// StateUpdater ingests a desired state for an instrument. Implemented by the
// pair state manager.
type StateUpdater interface {
	Update(ctx context.Context, exchange, symbol, state string, options map[string]string) error
}

// SignalFeeder subscribes to the signals channel on the bus and feeds each
// strategy signal into the pair state manager.
type SignalFeeder struct {
	bus     domain.SignalBus
	channel string
	manager StateUpdater
	logger  *slog.Logger
}

// NewSignalFeeder creates a SignalFeeder.
func NewSignalFeeder(bus domain.SignalBus, channel string, manager StateUpdater, logger *slog.Logger) *SignalFeeder {
	return &SignalFeeder{
		bus:     bus,
		channel: channel,
		manager: manager,
		logger:  logger.With(slog.String("component", "signal_feeder")),
	}
}

// Run subscribes and calls manager.Update for each signal until ctx ends.
func (f *SignalFeeder) Run(ctx context.Context) error {
	ch, err := f.bus.Subscribe(ctx, f.channel)
	if err != nil {
		return err
	}
	f.logger.Info("signal feeder started", slog.String("channel", f.channel))
	defer f.logger.Info("signal feeder stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			if err := f.handleMessage(ctx, data); err != nil {
				f.logger.Warn("signal dropped",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(data)),
				)
			}
		}
	}
}

func (f *SignalFeeder) handleMessage(ctx context.Context, data []byte) error {
	var ev signalEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	exchange := strings.TrimSpace(ev.Exchange)
	symbol := strings.TrimSpace(ev.Symbol)
	if exchange == "" || symbol == "" {
		return nil
	}
	return f.manager.Update(ctx, exchange, symbol, ev.State, ev.Options)
}

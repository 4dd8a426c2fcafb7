package service

import (
	"context"
	"errors"
	"log/slog"

	"vault_ledger/internal/domain"
	"vault_ledger/internal/repository"
)

// JournalSink appends events to the event repository. Redelivery of an
// already journaled event is not an error.
type JournalSink struct {
	events repository.EventRepository
}

func NewJournalSink(events repository.EventRepository) *JournalSink {
	return &JournalSink{events: events}
}

func (s *JournalSink) Name() string { return "journal" }

func (s *JournalSink) Handle(ctx context.Context, evt *domain.LedgerEvent) error {
	err := s.events.Save(ctx, evt)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil
	}
	return err
}

type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Handle(ctx context.Context, evt *domain.LedgerEvent) error {
	s.logger.InfoContext(ctx, "Ledger event",
		slog.String("event_id", evt.ID),
		slog.String("type", string(evt.Type)),
		slog.String("user", evt.User.Hex()),
		slog.String("asset", evt.Asset.Hex()),
		slog.String("amount", evt.Amount.String()),
		slog.String("unit_value", evt.UnitValue.String()))
	return nil
}

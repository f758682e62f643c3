package services

import (
	"context"
	"fmt"
	"log/slog"

	"cashtrack/internal/amqp"
	"cashtrack/internal/core"
	"cashtrack/internal/storage"
)

// TransactionService orchestrates ledger writes across SQLite and AMQP.
// Every committed transaction, manual or auto-disbursed, emits a ledger
// event; a missing or failing broker never fails the write.
type TransactionService struct {
	storage    *storage.SQLiteRepository
	amqpClient *amqp.Client
}

func NewTransactionService(storage *storage.SQLiteRepository, amqpClient *amqp.Client) *TransactionService {
	return &TransactionService{
		storage:    storage,
		amqpClient: amqpClient,
	}
}

// CreateTransaction validates and commits a transaction, then publishes a
// ledger event.
func (s *TransactionService) CreateTransaction(ctx context.Context, t core.Transaction) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}

	id, err := s.storage.InsertTransaction(ctx, t)
	if err != nil {
		return 0, fmt.Errorf("save transaction: %w", err)
	}

	if err := s.publishEvent(ctx, amqp.EventTransactionCreated, id, t); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			"transaction_id", id, "error", err)
		// The write succeeded; the event stream is best-effort.
	}

	return id, nil
}

// DeleteTransaction removes a transaction owned by the user and publishes a
// deletion event.
func (s *TransactionService) DeleteTransaction(ctx context.Context, userID, id int64) error {
	if err := s.storage.DeleteTransaction(ctx, userID, id); err != nil {
		return err
	}

	if err := s.publishEvent(ctx, amqp.EventTransactionDeleted, id, core.Transaction{UserID: userID}); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			"transaction_id", id, "error", err)
	}

	return nil
}

func (s *TransactionService) publishEvent(ctx context.Context, kind string, id int64, t core.Transaction) error {
	if s.amqpClient == nil {
		return nil
	}
	return s.amqpClient.PublishLedgerEvent(ctx, amqp.NewLedgerEvent(kind, id, t.UserID, string(t.Type), t.Amount.String(), t.Category))
}

// Close releases the storage and AMQP connections.
func (s *TransactionService) Close() error {
	var errs []error

	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}

	if s.amqpClient != nil {
		if err := s.amqpClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close transaction service: %v", errs)
	}

	return nil
}

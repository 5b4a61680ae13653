// recovery.go — восстановление после сбоя по журналу транзакций.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Oberon01/web-storage/internal/domain/model"
	"github.com/Oberon01/web-storage/internal/storage/wal"
)

// RecoveryResult — итог восстановления.
type RecoveryResult struct {
	// Committed — транзакции, доведённые до конца
	Committed int
	// RolledBack — транзакции, отменённые с очисткой blob-а
	RolledBack int
	// Failed — транзакции, оставленные в журнале из-за ошибки
	Failed int
}

// Recover обрабатывает транзакции, прерванные сбоем. Вызывается при старте
// до приёма запросов.
//
//   - file_create с существующей записью — загрузка завершилась, commit.
//   - file_create без записи — blob осиротел, удаляется, rollback.
//   - file_delete — удаление доводится до конца (blob и запись), commit.
//
// Ошибка хранилища оставляет транзакцию в журнале до следующего старта.
func (e *Engine) Recover(ctx context.Context) (RecoveryResult, error) {
	var res RecoveryResult
	if e.journal == nil {
		return res, nil
	}

	pending, err := e.journal.Pending()
	if err != nil {
		return res, err
	}

	var errs []error
	for _, tx := range pending {
		committed, err := e.recoverOne(ctx, tx)
		if err != nil {
			res.Failed++
			errs = append(errs, fmt.Errorf("транзакция %s: %w", tx.TransactionID, err))
			e.logger.Error("Не удалось восстановить транзакцию",
				slog.String("tx_id", tx.TransactionID),
				slog.String("operation", string(tx.Operation)),
				slog.String("error", err.Error()),
			)
			continue
		}
		if committed {
			res.Committed++
		} else {
			res.RolledBack++
		}
	}

	if len(pending) > 0 {
		e.logger.Info("Восстановление по журналу завершено",
			slog.Int("committed", res.Committed),
			slog.Int("rolled_back", res.RolledBack),
			slog.Int("failed", res.Failed),
		)
	}
	return res, errors.Join(errs...)
}

// recoverOne обрабатывает одну транзакцию. Возвращает true для commit.
func (e *Engine) recoverOne(ctx context.Context, tx *wal.Entry) (bool, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	switch tx.Operation {
	case wal.OpFileCreate:
		_, err := e.meta.Get(ctx, tx.FileID)
		switch {
		case err == nil:
			if ok, exErr := e.blobs.Exists(ctx, tx.Locator); exErr == nil && !ok {
				e.logger.Warn("Запись восстановлена, но blob отсутствует",
					slog.String("file_id", tx.FileID),
					slog.String("locator", tx.Locator),
				)
			}
			return true, e.journal.Commit(tx.TransactionID)

		case errors.Is(err, model.ErrNotFound):
			if err := e.blobs.Delete(ctx, tx.Locator); err != nil && !errors.Is(err, model.ErrNotFound) {
				return false, err
			}
			e.logger.Info("Удалён blob прерванной загрузки",
				slog.String("file_id", tx.FileID),
				slog.String("locator", tx.Locator),
			)
			return false, e.journal.Rollback(tx.TransactionID)

		default:
			return false, err
		}

	case wal.OpFileDelete:
		if err := e.blobs.Delete(ctx, tx.Locator); err != nil && !errors.Is(err, model.ErrNotFound) {
			e.logger.Warn("Ошибка удаления blob-а при восстановлении",
				slog.String("locator", tx.Locator),
				slog.String("error", err.Error()),
			)
		}
		if err := e.meta.Remove(ctx, tx.FileID); err != nil && !errors.Is(err, model.ErrNotFound) {
			return false, err
		}
		return true, e.journal.Commit(tx.TransactionID)

	default:
		e.logger.Warn("Неизвестная операция в журнале, транзакция отменена",
			slog.String("tx_id", tx.TransactionID),
			slog.String("operation", string(tx.Operation)),
		)
		return false, e.journal.Rollback(tx.TransactionID)
	}
}

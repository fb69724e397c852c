package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yohandry10/erp-sub001/internal/application/billing"
	"github.com/yohandry10/erp-sub001/internal/domain/repository"
)

var _ billing.TxRunner = (*TxRunner)(nil)

// TxRunner ejecuta callbacks dentro de una transacción PostgreSQL.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner construye el runner con el pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunDocument inicia una transacción con los repos de emisión atados a la tx
// y hace Commit o Rollback. La asignación del correlativo y el INSERT del
// comprobante viven siempre en la misma transacción.
func (r *TxRunner) RunDocument(ctx context.Context, fn func(
	docRepo repository.DocumentRepository,
	seriesRepo repository.SeriesRepository,
) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	docRepo := NewDocumentRepository(tx)
	seriesRepo := NewSeriesRepository(tx)

	if err := fn(docRepo, seriesRepo); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

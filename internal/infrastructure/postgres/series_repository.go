package postgres

import (
	"context"
	"fmt"

	"github.com/yohandry10/erp-sub001/internal/domain/repository"
)

var _ repository.SeriesRepository = (*SeriesRepo)(nil)

// SeriesRepo asigna correlativos por (tenant, serie). Pensado para correr
// dentro de la transacción de creación del comprobante: el UPDATE toma el
// row lock de la serie, así dos creaciones concurrentes se serializan en la
// base y jamás reciben el mismo número.
type SeriesRepo struct {
	q Querier
}

// NewSeriesRepository construye el adaptador. Pasar pool o tx (Querier).
func NewSeriesRepository(q Querier) *SeriesRepo {
	return &SeriesRepo{q: q}
}

// NextNumber devuelve el siguiente correlativo de la serie, creándola en 1 si
// no existe. El número asignado nunca se reutiliza, ni siquiera si la
// transacción que lo consumió terminó en rechazo.
func (r *SeriesRepo) NextNumber(ctx context.Context, tenantID, series string) (int64, error) {
	query := `
		INSERT INTO document_series (tenant_id, series, last_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (tenant_id, series)
		DO UPDATE SET last_number = document_series.last_number + 1
		RETURNING last_number`
	var number int64
	if err := r.q.QueryRow(ctx, query, tenantID, series).Scan(&number); err != nil {
		return 0, fmt.Errorf("next number %s/%s: %w", tenantID, series, err)
	}
	return number, nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/yohandry10/erp-sub001/internal/domain/entity"
	"github.com/yohandry10/erp-sub001/internal/domain/repository"
)

var _ repository.CompanyRepository = (*CompanyRepo)(nil)

// CompanyRepo implementación de CompanyRepository (usable con pool o tx).
type CompanyRepo struct {
	q Querier
}

// NewCompanyRepository construye el adaptador. Pasar pool o tx (Querier).
func NewCompanyRepository(q Querier) *CompanyRepo {
	return &CompanyRepo{q: q}
}

const companyColumns = `
	id, ruc, name, trade_name, address, ubigeo,
	COALESCE(sol_user, ''), COALESCE(sol_password, ''),
	created_at, updated_at`

// GetByID obtiene la empresa emisora por ID. Devuelve (nil, nil) si no existe.
func (r *CompanyRepo) GetByID(ctx context.Context, id string) (*entity.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE id = $1`
	return r.scanOne(ctx, query, id)
}

// GetByRUC obtiene la empresa emisora por RUC. Devuelve (nil, nil) si no existe.
func (r *CompanyRepo) GetByRUC(ctx context.Context, ruc string) (*entity.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE ruc = $1`
	return r.scanOne(ctx, query, ruc)
}

func (r *CompanyRepo) scanOne(ctx context.Context, query string, arg any) (*entity.Company, error) {
	var c entity.Company
	err := r.q.QueryRow(ctx, query, arg).Scan(
		&c.ID, &c.RUC, &c.Name, &c.TradeName, &c.Address, &c.Ubigeo,
		&c.SOLUser, &c.SOLPassword,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get company: %w", err)
	}
	return &c, nil
}

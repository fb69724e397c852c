package repository

import (
	"context"

	"github.com/yohandry10/erp-sub001/internal/domain/entity"
)

// DocumentRepository puerto de persistencia de comprobantes fiscales.
// La máquina de estados lo trata como un almacén por clave; no asume motor.
type DocumentRepository interface {
	GetByID(ctx context.Context, id string) (*entity.FiscalDocument, error)
	Create(ctx context.Context, doc *entity.FiscalDocument) error
	Update(ctx context.Context, doc *entity.FiscalDocument) error

	// GetByRelatedDocumentID busca la guía derivada de una factura.
	// Devuelve nil (sin error) si no existe.
	GetByRelatedDocumentID(ctx context.Context, relatedID string) (*entity.FiscalDocument, error)

	// AppendAttempt registra un intento de envío. Solo inserción; los intentos nunca se mutan.
	AppendAttempt(ctx context.Context, attempt *entity.SubmissionAttempt) error
	ListAttempts(ctx context.Context, documentID string) ([]*entity.SubmissionAttempt, error)
}

// SeriesRepository colaborador de numeración: asigna correlativos atómicos por
// (tenantID, series). El incremento debe ser atómico (UPDATE ... RETURNING o
// equivalente); es el único punto de exclusión mutua real del pipeline.
type SeriesRepository interface {
	NextNumber(ctx context.Context, tenantID, series string) (int64, error)
}

// CompanyRepository lectura de datos de registro del emisor.
type CompanyRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Company, error)
	GetByRUC(ctx context.Context, ruc string) (*entity.Company, error)
}

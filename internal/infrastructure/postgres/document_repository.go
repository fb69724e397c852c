package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/yohandry10/erp-sub001/internal/domain"
	"github.com/yohandry10/erp-sub001/internal/domain/entity"
	"github.com/yohandry10/erp-sub001/internal/domain/repository"
)

var _ repository.DocumentRepository = (*DocumentRepo)(nil)

// DocumentRepo implementación de DocumentRepository (usable con pool o tx).
type DocumentRepo struct {
	q Querier
}

// NewDocumentRepository construye el adaptador. Pasar pool o tx (Querier).
func NewDocumentRepository(q Querier) *DocumentRepo {
	return &DocumentRepo{q: q}
}

const documentColumns = `
	id, tenant_id, document_type, series, number,
	issuer_tax_id, recipient_tax_id, recipient_name, currency,
	taxable_base, tax, grand_total, state,
	signed_payload, content_hash, authority_reference_id, last_error,
	related_document_id, created_at, updated_at`

// Create persiste el comprobante y sus líneas. El índice único sobre
// related_document_id garantiza a lo sumo una derivación por documento origen;
// el de (tenant_id, series, number) respalda la unicidad del correlativo.
func (r *DocumentRepo) Create(ctx context.Context, doc *entity.FiscalDocument) error {
	query := `
		INSERT INTO fiscal_documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`
	_, err := r.q.Exec(ctx, query,
		doc.ID, doc.TenantID, doc.DocumentType, doc.Series, doc.Number,
		doc.IssuerTaxID, doc.RecipientTaxID, doc.RecipientName, doc.Currency,
		doc.Totals.TaxableBase, doc.Totals.Tax, doc.Totals.GrandTotal, doc.State,
		doc.SignedPayload, nullIfEmpty(doc.ContentHash), nullIfEmpty(doc.AuthorityReferenceID), nullIfEmpty(doc.LastError),
		nullIfEmpty(doc.RelatedDocumentID), doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// El índice de numeración nunca debería chocar: NextNumber asigna
			// dentro de la misma transacción. Si llega a chocar, es fatal.
			if strings.Contains(violatedConstraint(err), "number") {
				return fmt.Errorf("correlativo %s-%d ya asignado: %w", doc.Series, doc.Number, domain.ErrNumberConflict)
			}
			return fmt.Errorf("comprobante duplicado: %w", domain.ErrDuplicate)
		}
		return fmt.Errorf("insert fiscal document: %w", err)
	}
	for i, line := range doc.LineItems {
		if err := r.insertLine(ctx, doc.ID, i+1, line); err != nil {
			return err
		}
	}
	return nil
}

func (r *DocumentRepo) insertLine(ctx context.Context, documentID string, position int, line entity.LineItem) error {
	query := `
		INSERT INTO document_lines (document_id, position, code, description, quantity, unit_price, line_total, unit_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.q.Exec(ctx, query,
		documentID, position, nullIfEmpty(line.Code), line.Description,
		line.Quantity, line.UnitPrice, line.LineTotal, nullIfEmpty(line.UnitCode),
	)
	if err != nil {
		return fmt.Errorf("insert document line: %w", err)
	}
	return nil
}

// Update actualiza los campos mutables del comprobante. Las líneas son
// inmutables tras la creación.
func (r *DocumentRepo) Update(ctx context.Context, doc *entity.FiscalDocument) error {
	query := `
		UPDATE fiscal_documents
		SET state                  = $2,
		    signed_payload         = $3,
		    content_hash           = COALESCE($4, content_hash),
		    authority_reference_id = COALESCE($5, authority_reference_id),
		    last_error             = $6,
		    updated_at             = $7
		WHERE id = $1`
	tag, err := r.q.Exec(ctx, query,
		doc.ID, doc.State, doc.SignedPayload,
		nullIfEmpty(doc.ContentHash), nullIfEmpty(doc.AuthorityReferenceID),
		doc.LastError, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update fiscal document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID obtiene un comprobante completo por ID. Devuelve (nil, nil) si no existe.
func (r *DocumentRepo) GetByID(ctx context.Context, id string) (*entity.FiscalDocument, error) {
	query := `SELECT ` + documentColumns + ` FROM fiscal_documents WHERE id = $1`
	return r.scanOne(ctx, query, id)
}

// GetByRelatedDocumentID busca la derivación emitida a partir del documento
// origen. Devuelve (nil, nil) si no existe.
func (r *DocumentRepo) GetByRelatedDocumentID(ctx context.Context, relatedID string) (*entity.FiscalDocument, error) {
	query := `SELECT ` + documentColumns + ` FROM fiscal_documents WHERE related_document_id = $1`
	return r.scanOne(ctx, query, relatedID)
}

func (r *DocumentRepo) scanOne(ctx context.Context, query string, arg any) (*entity.FiscalDocument, error) {
	var doc entity.FiscalDocument
	var contentHash, referenceID, lastError, relatedID *string
	err := r.q.QueryRow(ctx, query, arg).Scan(
		&doc.ID, &doc.TenantID, &doc.DocumentType, &doc.Series, &doc.Number,
		&doc.IssuerTaxID, &doc.RecipientTaxID, &doc.RecipientName, &doc.Currency,
		&doc.Totals.TaxableBase, &doc.Totals.Tax, &doc.Totals.GrandTotal, &doc.State,
		&doc.SignedPayload, &contentHash, &referenceID, &lastError,
		&relatedID, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get fiscal document: %w", err)
	}
	doc.ContentHash = derefStr(contentHash)
	doc.AuthorityReferenceID = derefStr(referenceID)
	doc.LastError = derefStr(lastError)
	doc.RelatedDocumentID = derefStr(relatedID)

	lines, err := r.listLines(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	doc.LineItems = lines
	return &doc, nil
}

func (r *DocumentRepo) listLines(ctx context.Context, documentID string) ([]entity.LineItem, error) {
	query := `
		SELECT code, description, quantity, unit_price, line_total, unit_code
		FROM document_lines WHERE document_id = $1 ORDER BY position`
	rows, err := r.q.Query(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("list document lines: %w", err)
	}
	defer rows.Close()
	var lines []entity.LineItem
	for rows.Next() {
		var line entity.LineItem
		var code, unitCode *string
		if err := rows.Scan(&code, &line.Description, &line.Quantity, &line.UnitPrice, &line.LineTotal, &unitCode); err != nil {
			return nil, fmt.Errorf("scan line: %w", err)
		}
		line.Code = derefStr(code)
		line.UnitCode = derefStr(unitCode)
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// AppendAttempt registra un intento de envío. Los intentos nunca se mutan.
func (r *DocumentRepo) AppendAttempt(ctx context.Context, attempt *entity.SubmissionAttempt) error {
	query := `
		INSERT INTO submission_attempts (document_id, attempt_number, started_at, outcome, authority_code, authority_message)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.q.Exec(ctx, query,
		attempt.DocumentID, attempt.AttemptNumber, attempt.StartedAt,
		attempt.Outcome, nullIfEmpty(attempt.AuthorityCode), nullIfEmpty(attempt.AuthorityMessage),
	)
	if err != nil {
		return fmt.Errorf("insert submission attempt: %w", err)
	}
	return nil
}

// ListAttempts devuelve los intentos de envío en orden cronológico.
func (r *DocumentRepo) ListAttempts(ctx context.Context, documentID string) ([]*entity.SubmissionAttempt, error) {
	query := `
		SELECT document_id, attempt_number, started_at, outcome,
		       COALESCE(authority_code, ''), COALESCE(authority_message, '')
		FROM submission_attempts WHERE document_id = $1 ORDER BY attempt_number`
	rows, err := r.q.Query(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("list submission attempts: %w", err)
	}
	defer rows.Close()
	var list []*entity.SubmissionAttempt
	for rows.Next() {
		var a entity.SubmissionAttempt
		if err := rows.Scan(&a.DocumentID, &a.AttemptNumber, &a.StartedAt, &a.Outcome, &a.AuthorityCode, &a.AuthorityMessage); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		list = append(list, &a)
	}
	return list, rows.Err()
}

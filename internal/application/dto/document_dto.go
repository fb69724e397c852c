package dto

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/yohandry10/erp-sub001/internal/domain/entity"
)

// CreateDocumentRequest petición de creación de un comprobante en DRAFT.
// El correlativo lo asigna el pipeline; nunca lo elige el caller.
type CreateDocumentRequest struct {
	DocumentType      string              `json:"documentType"` // INVOICE, CREDIT_NOTE, DEBIT_NOTE, WAYBILL
	Series            string              `json:"series"`
	RecipientTaxID    string              `json:"recipientTaxId"`
	RecipientName     string              `json:"recipientName"`
	Currency          string              `json:"currency"`
	Items             []CreateItemRequest `json:"items"`
	RelatedDocumentID string              `json:"relatedDocumentId,omitempty"` // guías y notas: documento origen
}

// CreateItemRequest línea de detalle de la petición.
type CreateItemRequest struct {
	Code        string          `json:"code"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	UnitCode    string          `json:"unitCode,omitempty"`
}

// DocumentResponse representación del comprobante hacia el caller.
// El payload firmado no se expone entero; solo su hash.
type DocumentResponse struct {
	ID                   string          `json:"id"`
	TenantID             string          `json:"tenantId"`
	DocumentType         string          `json:"documentType"`
	Series               string          `json:"series"`
	Number               int64           `json:"number"`
	Name                 string          `json:"name"` // serie-correlativo, ej. F001-00000042
	IssuerTaxID          string          `json:"issuerTaxId"`
	RecipientTaxID       string          `json:"recipientTaxId"`
	RecipientName        string          `json:"recipientName"`
	Currency             string          `json:"currency"`
	TaxableBase          decimal.Decimal `json:"taxableBase"`
	Tax                  decimal.Decimal `json:"tax"`
	GrandTotal           decimal.Decimal `json:"grandTotal"`
	State                string          `json:"state"`
	ContentHash          string          `json:"contentHash,omitempty"`
	AuthorityReferenceID string          `json:"authorityReferenceId,omitempty"`
	LastError            string          `json:"lastError,omitempty"`
	RelatedDocumentID    string          `json:"relatedDocumentId,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

// AttemptResponse telemetría de un intento de envío.
type AttemptResponse struct {
	AttemptNumber    int       `json:"attemptNumber"`
	StartedAt        time.Time `json:"startedAt"`
	Outcome          string    `json:"outcome"`
	AuthorityCode    string    `json:"authorityCode,omitempty"`
	AuthorityMessage string    `json:"authorityMessage,omitempty"`
}

// ToDocumentResponse mapea la entidad al DTO.
func ToDocumentResponse(doc *entity.FiscalDocument) *DocumentResponse {
	if doc == nil {
		return nil
	}
	return &DocumentResponse{
		ID:                   doc.ID,
		TenantID:             doc.TenantID,
		DocumentType:         doc.DocumentType,
		Series:               doc.Series,
		Number:               doc.Number,
		Name:                 doc.Name(),
		IssuerTaxID:          doc.IssuerTaxID,
		RecipientTaxID:       doc.RecipientTaxID,
		RecipientName:        doc.RecipientName,
		Currency:             doc.Currency,
		TaxableBase:          doc.Totals.TaxableBase,
		Tax:                  doc.Totals.Tax,
		GrandTotal:           doc.Totals.GrandTotal,
		State:                doc.State,
		ContentHash:          doc.ContentHash,
		AuthorityReferenceID: doc.AuthorityReferenceID,
		LastError:            doc.LastError,
		RelatedDocumentID:    doc.RelatedDocumentID,
		CreatedAt:            doc.CreatedAt,
		UpdatedAt:            doc.UpdatedAt,
	}
}

// ToAttemptResponses mapea los intentos de envío al DTO.
func ToAttemptResponses(attempts []*entity.SubmissionAttempt) []AttemptResponse {
	out := make([]AttemptResponse, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, AttemptResponse{
			AttemptNumber:    a.AttemptNumber,
			StartedAt:        a.StartedAt,
			Outcome:          a.Outcome,
			AuthorityCode:    a.AuthorityCode,
			AuthorityMessage: a.AuthorityMessage,
		})
	}
	return out
}

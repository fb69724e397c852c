// Máquina de estados del comprobante fiscal: controla el ciclo
// DRAFT → SIGNED → SUBMITTED → {ACCEPTED | REJECTED}, registra cada intento de
// envío y publica el evento DocumentIssued exactamente una vez por transición
// terminal. Las transiciones de un mismo documento se serializan entre sí;
// documentos distintos avanzan en paralelo.

package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yohandry10/erp-sub001/internal/application/dto"
	"github.com/yohandry10/erp-sub001/internal/domain"
	"github.com/yohandry10/erp-sub001/internal/domain/entity"
	"github.com/yohandry10/erp-sub001/internal/domain/event"
	"github.com/yohandry10/erp-sub001/internal/domain/repository"
	"github.com/yohandry10/erp-sub001/internal/infrastructure/ose"
	"github.com/yohandry10/erp-sub001/pkg/config"
	"github.com/yohandry10/erp-sub001/pkg/logger"
	"github.com/yohandry10/erp-sub001/pkg/sunat"
)

// IGV vigente.
var igvRate = decimal.NewFromFloat(0.18)

// StateMachine controlador autoritativo del ciclo de vida de un comprobante.
// Tras la creación, nadie más muta el documento.
type StateMachine struct {
	txRunner    TxRunner
	docRepo     repository.DocumentRepository
	companyRepo repository.CompanyRepository
	xmlBuilder  *ose.XMLBuilderService
	signer      sunat.Signer
	submitter   ose.OSESubmitter
	publisher   Publisher
	retries     RetryNotifier
	oseCfg      config.OSEConfig
	maxAttempts int
	log         *logger.Logger
	locks       *keyedMutex
}

// NewStateMachine construye la máquina con todas sus dependencias.
func NewStateMachine(
	txRunner TxRunner,
	docRepo repository.DocumentRepository,
	companyRepo repository.CompanyRepository,
	xmlBuilder *ose.XMLBuilderService,
	signer sunat.Signer,
	submitter ose.OSESubmitter,
	publisher Publisher,
	retries RetryNotifier,
	oseCfg config.OSEConfig,
	retryCfg config.RetryConfig,
	log *logger.Logger,
) *StateMachine {
	if log == nil {
		log = logger.Nop()
	}
	return &StateMachine{
		txRunner:    txRunner,
		docRepo:     docRepo,
		companyRepo: companyRepo,
		xmlBuilder:  xmlBuilder,
		signer:      signer,
		submitter:   submitter,
		publisher:   publisher,
		retries:     retries,
		oseCfg:      oseCfg,
		maxAttempts: retryCfg.MaxAttempts,
		log:         log,
		locks:       newKeyedMutex(),
	}
}

// ── Create ────────────────────────────────────────────────────────────────────

// Create valida los datos, asigna atómicamente el siguiente correlativo de la
// serie y persiste el comprobante en DRAFT. La asignación del correlativo es
// el invariante más crítico del pipeline: dos creaciones concurrentes de la
// misma serie jamás reciben el mismo número.
func (m *StateMachine) Create(ctx context.Context, tenantID string, in dto.CreateDocumentRequest) (*entity.FiscalDocument, error) {
	if err := m.validateCreate(in); err != nil {
		return nil, err
	}
	company, err := m.companyRepo.GetByID(ctx, tenantID)
	if err != nil || company == nil {
		return nil, domain.ErrNotFound
	}

	// Guía derivada: el documento origen debe existir y ser una factura aceptada.
	if in.RelatedDocumentID != "" && in.DocumentType == entity.DocTypeWaybill {
		related, err := m.docRepo.GetByID(ctx, in.RelatedDocumentID)
		if err != nil || related == nil {
			return nil, fmt.Errorf("documento origen %s: %w", in.RelatedDocumentID, domain.ErrNotFound)
		}
		if related.DocumentType != entity.DocTypeInvoice || related.State != entity.StateAccepted {
			return nil, fmt.Errorf("documento origen no es una factura aceptada: %w", domain.ErrInvalidInput)
		}
	}

	now := time.Now()
	doc := &entity.FiscalDocument{
		ID:                uuid(),
		TenantID:          tenantID,
		DocumentType:      in.DocumentType,
		Series:            in.Series,
		IssuerTaxID:       company.RUC,
		RecipientTaxID:    in.RecipientTaxID,
		RecipientName:     in.RecipientName,
		Currency:          currencyOrDefault(in.Currency),
		State:             entity.StateDraft,
		RelatedDocumentID: in.RelatedDocumentID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	doc.LineItems, doc.Totals = buildLines(in.Items, in.DocumentType)

	err = m.txRunner.RunDocument(ctx, func(
		docRepo repository.DocumentRepository,
		seriesRepo repository.SeriesRepository,
	) error {
		number, err := seriesRepo.NextNumber(ctx, tenantID, in.Series)
		if err != nil {
			return fmt.Errorf("asignar correlativo: %w", err)
		}
		doc.Number = number
		if err := docRepo.Create(ctx, doc); err != nil {
			if errors.Is(err, domain.ErrDuplicate) && in.RelatedDocumentID != "" {
				// Índice único sobre related_document_id: otra derivación ganó la carrera.
				return domain.ErrDuplicate
			}
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNumberConflict) {
			m.log.Error().Err(err).Str("series", in.Series).Msg("conflicto de numeración de serie")
		}
		return nil, err
	}

	m.log.Info().
		Str("document_id", doc.ID).
		Str("type", doc.DocumentType).
		Str("name", doc.Name()).
		Msg("comprobante creado en DRAFT")
	return doc, nil
}

func (m *StateMachine) validateCreate(in dto.CreateDocumentRequest) error {
	switch in.DocumentType {
	case entity.DocTypeInvoice, entity.DocTypeCreditNote, entity.DocTypeDebitNote, entity.DocTypeWaybill:
	default:
		return fmt.Errorf("tipo de documento %q: %w", in.DocumentType, domain.ErrInvalidInput)
	}
	if in.Series == "" || in.RecipientTaxID == "" || in.RecipientName == "" {
		return domain.ErrInvalidInput
	}
	if len(in.RecipientTaxID) == 11 {
		if err := sunat.ValidateRUC(in.RecipientTaxID); err != nil {
			return fmt.Errorf("%s: %w", err.Error(), domain.ErrInvalidInput)
		}
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("sin líneas de detalle: %w", domain.ErrInvalidInput)
	}
	for _, item := range in.Items {
		if item.Description == "" {
			return fmt.Errorf("línea sin descripción: %w", domain.ErrInvalidInput)
		}
		if !item.Quantity.IsPositive() {
			return fmt.Errorf("cantidad debe ser positiva: %w", domain.ErrInvalidInput)
		}
		if item.UnitPrice.IsNegative() {
			return fmt.Errorf("precio unitario negativo: %w", domain.ErrInvalidInput)
		}
	}
	if in.Currency != "" && !sunat.ValidCurrencyCodes[in.Currency] {
		return fmt.Errorf("moneda %q: %w", in.Currency, domain.ErrInvalidInput)
	}
	return nil
}

// buildLines calcula totales por línea y los totales del comprobante.
// Las guías no llevan montos imponibles.
func buildLines(items []dto.CreateItemRequest, docType string) ([]entity.LineItem, entity.Totals) {
	lines := make([]entity.LineItem, 0, len(items))
	base := decimal.Zero
	for _, item := range items {
		lineTotal := item.Quantity.Mul(item.UnitPrice).Round(2)
		lines = append(lines, entity.LineItem{
			Code:        item.Code,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   lineTotal,
			UnitCode:    item.UnitCode,
		})
		base = base.Add(lineTotal)
	}
	if docType == entity.DocTypeWaybill {
		return lines, entity.Totals{TaxableBase: decimal.Zero, Tax: decimal.Zero, GrandTotal: decimal.Zero}
	}
	tax := base.Mul(igvRate).Round(2)
	return lines, entity.Totals{
		TaxableBase: base,
		Tax:         tax,
		GrandTotal:  base.Add(tax),
	}
}

// ── Sign ──────────────────────────────────────────────────────────────────────

// Sign construye el payload canónico, lo firma y transiciona DRAFT→SIGNED.
// Idempotente: en SIGNED o posterior devuelve el estado actual sin re-firmar.
// Si el material de llaves no está disponible, el documento no cambia de estado.
func (m *StateMachine) Sign(ctx context.Context, documentID string) (*entity.FiscalDocument, error) {
	unlock := m.locks.lock(documentID)
	defer unlock()

	doc, err := m.load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.State == entity.StateVoid {
		return nil, domain.ErrInvalidTransition
	}
	// Idempotencia real: estado avanzado Y payload presente. Un rechazo por
	// error técnico durante la firma deja REJECTED sin payload; ese documento
	// debe poder firmarse de nuevo o quedaría irrecuperable.
	if entity.StateAtLeast(doc.State, entity.StateSigned) && len(doc.SignedPayload) > 0 {
		return doc, nil // ya firmado: no-op
	}

	company, err := m.companyRepo.GetByID(ctx, doc.TenantID)
	if err != nil || company == nil {
		return nil, domain.ErrNotFound
	}

	xmlBytes, err := m.xmlBuilder.Build(&ose.BuildContext{Document: doc, Company: company})
	if err != nil {
		return nil, m.markError(ctx, doc, "xml-build", err)
	}

	cert, err := ose.LoadSigningCert(m.oseCfg)
	if err != nil {
		doc.LastError = "firma no disponible: " + err.Error()
		doc.UpdatedAt = time.Now()
		_ = m.docRepo.Update(ctx, doc)
		return nil, fmt.Errorf("%s: %w", err.Error(), domain.ErrSigningUnavailable)
	}

	result, err := m.signer.Sign(xmlBytes, cert)
	if err != nil {
		if errors.Is(err, domain.ErrSigningUnavailable) {
			doc.LastError = err.Error()
			doc.UpdatedAt = time.Now()
			_ = m.docRepo.Update(ctx, doc)
			return nil, err
		}
		return nil, m.markError(ctx, doc, "xml-sign", err)
	}

	// SignedPayload cambia ⇒ ContentHash se recalcula; ambos quedan inmutables en ACCEPTED.
	doc.SignedPayload = result.SignedXML
	doc.ContentHash = result.ContentHash
	doc.State = entity.StateSigned
	doc.LastError = ""
	doc.UpdatedAt = time.Now()
	if err := m.docRepo.Update(ctx, doc); err != nil {
		return nil, fmt.Errorf("persistir SIGNED: %w", err)
	}

	m.log.Info().
		Str("document_id", doc.ID).
		Str("content_hash", doc.ContentHash).
		Msg("comprobante firmado")
	return doc, nil
}

// ── Submit / Resubmit ─────────────────────────────────────────────────────────

// Submit envía el payload firmado al OSE. Requiere estado ≥ SIGNED. En fallo
// de transporte el documento vuelve a SIGNED y se agenda un reintento; en
// rechazo de la autoridad pasa a REJECTED sin reintento.
func (m *StateMachine) Submit(ctx context.Context, documentID string) (*entity.FiscalDocument, error) {
	unlock := m.locks.lock(documentID)
	defer unlock()
	return m.submitLocked(ctx, documentID)
}

// Resubmit reenvío manual del operador: reutiliza el payload firmado existente
// (nunca re-firma, la autoridad jamás recibe dos artefactos distintos para el
// mismo correlativo) y cancela atómicamente cualquier reintento pendiente.
// Desde REJECTED re-entra a SIGNED antes de enviar.
func (m *StateMachine) Resubmit(ctx context.Context, documentID string) (*entity.FiscalDocument, error) {
	unlock := m.locks.lock(documentID)
	defer unlock()

	m.retries.Cancel(documentID)

	doc, err := m.load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.State == entity.StateRejected {
		// SIGNED implica payload firmado: un rechazo técnico sin payload debe
		// firmarse de nuevo, no re-entrar.
		if len(doc.SignedPayload) == 0 {
			return nil, fmt.Errorf("documento sin payload firmado, debe firmarse de nuevo: %w", domain.ErrInvalidTransition)
		}
		doc.State = entity.StateSigned
		doc.UpdatedAt = time.Now()
		if err := m.docRepo.Update(ctx, doc); err != nil {
			return nil, fmt.Errorf("re-entrar a SIGNED: %w", err)
		}
	}
	return m.submitLocked(ctx, documentID)
}

// submitLocked núcleo del envío; el caller ya sostiene el lock del documento.
func (m *StateMachine) submitLocked(ctx context.Context, documentID string) (*entity.FiscalDocument, error) {
	doc, err := m.load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if entity.IsTerminalState(doc.State) {
		return doc, nil // ya resuelto: no-op idempotente
	}
	if !entity.StateAtLeast(doc.State, entity.StateSigned) || len(doc.SignedPayload) == 0 {
		return nil, fmt.Errorf("documento sin firmar: %w", domain.ErrInvalidTransition)
	}

	// La firma se valida antes de tocar la red.
	if !m.signer.Validate(doc.SignedPayload) {
		return nil, m.markError(ctx, doc, "pre-submit", fmt.Errorf("payload firmado no pasa la validación de firma"))
	}

	company, err := m.companyRepo.GetByID(ctx, doc.TenantID)
	if err != nil || company == nil {
		return nil, domain.ErrNotFound
	}

	attempts, err := m.docRepo.ListAttempts(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("listar intentos: %w", err)
	}
	attemptNumber := len(attempts) + 1

	doc.State = entity.StateSubmitted
	doc.UpdatedAt = time.Now()
	if err := m.docRepo.Update(ctx, doc); err != nil {
		return nil, fmt.Errorf("persistir SUBMITTED: %w", err)
	}

	startedAt := time.Now()
	result := m.submitter.Submit(ctx, doc.SignedPayload, m.metaFor(doc, company))

	attempt := &entity.SubmissionAttempt{
		DocumentID:       doc.ID,
		AttemptNumber:    attemptNumber,
		StartedAt:        startedAt,
		Outcome:          outcomeFor(result),
		AuthorityCode:    result.AuthorityCode,
		AuthorityMessage: result.AuthorityMessage,
	}
	if err := m.docRepo.AppendAttempt(ctx, attempt); err != nil {
		m.log.Error().Err(err).Str("document_id", doc.ID).Msg("no se pudo registrar el intento de envío")
	}

	switch result.Kind {
	case ose.ResultAccepted:
		doc.State = entity.StateAccepted
		doc.AuthorityReferenceID = result.ReferenceID
		doc.LastError = ""
		doc.UpdatedAt = time.Now()
		if err := m.docRepo.Update(ctx, doc); err != nil {
			return nil, fmt.Errorf("persistir ACCEPTED: %w", err)
		}
		m.publishIssued(doc, event.OutcomeAccepted)
		m.log.Info().
			Str("document_id", doc.ID).
			Str("reference_id", result.ReferenceID).
			Int("attempt", attemptNumber).
			Msg("comprobante aceptado por la autoridad")
		return doc, nil

	case ose.ResultRejected:
		doc.State = entity.StateRejected
		doc.LastError = fmt.Sprintf("[%s] %s", result.AuthorityCode, result.AuthorityMessage)
		doc.UpdatedAt = time.Now()
		if err := m.docRepo.Update(ctx, doc); err != nil {
			return nil, fmt.Errorf("persistir REJECTED: %w", err)
		}
		// Rechazo de negocio: terminal salvo corrección manual; sin reintentos.
		m.publishIssued(doc, event.OutcomeRejected)
		m.log.Warn().
			Str("document_id", doc.ID).
			Str("authority_code", result.AuthorityCode).
			Msg("comprobante rechazado por la autoridad")
		return doc, nil

	default: // ose.ResultFault
		// Fallo de transporte: el documento queda SIGNED (el correlativo no se
		// consume) y se agenda reintento hasta el tope configurado.
		doc.State = entity.StateSigned
		doc.LastError = fmt.Sprintf("[%s] %s", result.AuthorityCode, result.AuthorityMessage)
		doc.UpdatedAt = time.Now()
		if err := m.docRepo.Update(ctx, doc); err != nil {
			return nil, fmt.Errorf("persistir SIGNED tras fallo: %w", err)
		}
		if attemptNumber >= m.maxAttempts {
			m.log.Error().
				Str("document_id", doc.ID).
				Int("attempts", attemptNumber).
				Msg("reintentos agotados; el comprobante queda SIGNED para reenvío manual")
			return doc, domain.ErrRetriesExhausted
		}
		m.retries.ScheduleRetry(doc.ID, attemptNumber)
		m.log.Warn().
			Str("document_id", doc.ID).
			Int("attempt", attemptNumber).
			Str("cause", result.AuthorityMessage).
			Msg("fallo de transporte; reintento agendado")
		return doc, nil
	}
}

// ── Void ──────────────────────────────────────────────────────────────────────

// Void anulación por el operador. Detiene atómicamente cualquier reintento
// pendiente antes de transicionar, para que un timer rezagado no reviva un
// documento anulado. No aplica sobre documentos ya aceptados.
func (m *StateMachine) Void(ctx context.Context, documentID string) (*entity.FiscalDocument, error) {
	unlock := m.locks.lock(documentID)
	defer unlock()

	m.retries.Cancel(documentID)

	doc, err := m.load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.State == entity.StateAccepted {
		return nil, fmt.Errorf("un comprobante aceptado se anula con comunicación de baja, no con void: %w", domain.ErrInvalidTransition)
	}
	if doc.State == entity.StateVoid {
		return doc, nil
	}
	doc.State = entity.StateVoid
	doc.UpdatedAt = time.Now()
	if err := m.docRepo.Update(ctx, doc); err != nil {
		return nil, fmt.Errorf("persistir VOID: %w", err)
	}
	m.log.Info().Str("document_id", doc.ID).Msg("comprobante anulado")
	return doc, nil
}

// ── QueryStatus ───────────────────────────────────────────────────────────────

// QueryStatus consulta idempotente al OSE. Solo refresca AuthorityReferenceID
// (y resuelve un SUBMITTED pendiente); no tiene otros efectos de estado.
func (m *StateMachine) QueryStatus(ctx context.Context, documentID string) (*ose.GatewayResult, error) {
	unlock := m.locks.lock(documentID)
	defer unlock()

	doc, err := m.load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	company, err := m.companyRepo.GetByID(ctx, doc.TenantID)
	if err != nil || company == nil {
		return nil, domain.ErrNotFound
	}

	result := m.submitter.QueryStatus(ctx, m.metaFor(doc, company))
	if result.Kind == ose.ResultAccepted {
		changed := false
		promoted := false
		if result.ReferenceID != "" && doc.AuthorityReferenceID != result.ReferenceID {
			doc.AuthorityReferenceID = result.ReferenceID
			changed = true
		}
		if doc.State == entity.StateSubmitted || doc.State == entity.StateSigned {
			doc.State = entity.StateAccepted
			changed = true
			promoted = true
		}
		if changed {
			doc.UpdatedAt = time.Now()
			if err := m.docRepo.Update(ctx, doc); err != nil {
				return nil, fmt.Errorf("refrescar estado: %w", err)
			}
			// El evento sale solo con la transición ya persistida; si el update
			// falla, la siguiente consulta volverá a intentar la promoción.
			if promoted {
				m.publishIssued(doc, event.OutcomeAccepted)
			}
		}
	}
	return result, nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

func (m *StateMachine) load(ctx context.Context, documentID string) (*entity.FiscalDocument, error) {
	doc, err := m.docRepo.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, domain.ErrNotFound
	}
	return doc, nil
}

// GetDocument lectura directa para handlers y CLI.
func (m *StateMachine) GetDocument(ctx context.Context, documentID string) (*entity.FiscalDocument, error) {
	return m.load(ctx, documentID)
}

// ListAttempts lectura de la telemetría de intentos.
func (m *StateMachine) ListAttempts(ctx context.Context, documentID string) ([]*entity.SubmissionAttempt, error) {
	return m.docRepo.ListAttempts(ctx, documentID)
}

// markError deja el documento marcado explícitamente (REJECTED con mensaje
// técnico) en vez de un estado rancio: el operador siempre puede encontrarlo
// y reenviarlo.
func (m *StateMachine) markError(ctx context.Context, doc *entity.FiscalDocument, step string, cause error) error {
	doc.State = entity.StateRejected
	doc.LastError = fmt.Sprintf("error técnico en %s: %v", step, cause)
	doc.UpdatedAt = time.Now()
	if err := m.docRepo.Update(ctx, doc); err != nil {
		m.log.Error().Err(err).Str("document_id", doc.ID).Msg("no se pudo persistir el estado de error")
	}
	m.log.Error().Err(cause).Str("document_id", doc.ID).Str("step", step).Msg("error en el pipeline de emisión")
	return fmt.Errorf("%s: %w", step, cause)
}

func (m *StateMachine) metaFor(doc *entity.FiscalDocument, company *entity.Company) ose.DocumentMeta {
	solUser, solPassword := company.SOLUser, company.SOLPassword
	if solUser == "" {
		solUser, solPassword = m.oseCfg.SOLUser, m.oseCfg.SOLPassword
	}
	return ose.DocumentMeta{
		IssuerRUC:   doc.IssuerTaxID,
		TypeCode:    ose.TypeCodeFor(doc.DocumentType),
		Series:      doc.Series,
		Number:      doc.Number,
		SOLUser:     solUser,
		SOLPassword: solPassword,
	}
}

func (m *StateMachine) publishIssued(doc *entity.FiscalDocument, outcome string) {
	m.publisher.Publish(event.TopicDocumentIssued, event.DocumentIssued{
		DocumentID:     doc.ID,
		TenantID:       doc.TenantID,
		DocumentType:   doc.DocumentType,
		Outcome:        outcome,
		GrandTotal:     doc.Totals.GrandTotal,
		RecipientTaxID: doc.RecipientTaxID,
		IssuedAt:       time.Now(),
	})
}

func outcomeFor(result *ose.GatewayResult) string {
	switch result.Kind {
	case ose.ResultAccepted:
		return entity.AttemptSuccess
	case ose.ResultFault:
		if result.AuthorityCode == "TIMEOUT" {
			return entity.AttemptTimeout
		}
		return entity.AttemptFailure
	default:
		return entity.AttemptFailure
	}
}

func currencyOrDefault(currency string) string {
	if currency == "" {
		return sunat.CurrencyPEN
	}
	return currency
}

var _ Submitter = submitterFunc(nil)

// submitterFunc adapta Submit al puerto que consume el planificador.
type submitterFunc func(ctx context.Context, documentID string) error

func (f submitterFunc) Submit(ctx context.Context, documentID string) error {
	return f(ctx, documentID)
}

// AsSubmitter expone la operación Submit como puerto para el planificador de reintentos.
func (m *StateMachine) AsSubmitter() Submitter {
	return submitterFunc(func(ctx context.Context, documentID string) error {
		_, err := m.Submit(ctx, documentID)
		return err
	})
}

package derivation_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yohandry10/erp-sub001/internal/application/billing"
	"github.com/yohandry10/erp-sub001/internal/application/derivation"
	"github.com/yohandry10/erp-sub001/internal/application/dto"
	"github.com/yohandry10/erp-sub001/internal/domain"
	"github.com/yohandry10/erp-sub001/internal/domain/entity"
	"github.com/yohandry10/erp-sub001/internal/domain/event"
	"github.com/yohandry10/erp-sub001/internal/domain/repository"
	"github.com/yohandry10/erp-sub001/internal/infrastructure/eventbus"
	"github.com/yohandry10/erp-sub001/internal/infrastructure/ose"
	"github.com/yohandry10/erp-sub001/pkg/config"
)

const (
	testTenantID = "00000000-0000-0000-0000-000000000001"
	testRUC      = "20131312955"
)

// ──────────────────────────────────────────────────────────────────────────────
// Dobles mínimos para armar la máquina real detrás del motor
// ──────────────────────────────────────────────────────────────────────────────

type memDocRepo struct {
	mu       sync.Mutex
	docs     map[string]*entity.FiscalDocument
	byRelat  map[string]string
	attempts map[string][]*entity.SubmissionAttempt
}

func newMemDocRepo() *memDocRepo {
	return &memDocRepo{
		docs:     make(map[string]*entity.FiscalDocument),
		byRelat:  make(map[string]string),
		attempts: make(map[string][]*entity.SubmissionAttempt),
	}
}

func (r *memDocRepo) GetByID(_ context.Context, id string) (*entity.FiscalDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, nil
	}
	cp := *doc
	return &cp, nil
}

func (r *memDocRepo) Create(_ context.Context, doc *entity.FiscalDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if doc.RelatedDocumentID != "" {
		if _, exists := r.byRelat[doc.RelatedDocumentID]; exists {
			return domain.ErrDuplicate
		}
		r.byRelat[doc.RelatedDocumentID] = doc.ID
	}
	cp := *doc
	r.docs[doc.ID] = &cp
	return nil
}

func (r *memDocRepo) Update(_ context.Context, doc *entity.FiscalDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *doc
	r.docs[doc.ID] = &cp
	return nil
}

func (r *memDocRepo) GetByRelatedDocumentID(_ context.Context, relatedID string) (*entity.FiscalDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byRelat[relatedID]
	if !ok {
		return nil, nil
	}
	cp := *r.docs[id]
	return &cp, nil
}

func (r *memDocRepo) AppendAttempt(_ context.Context, a *entity.SubmissionAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.attempts[a.DocumentID] = append(r.attempts[a.DocumentID], &cp)
	return nil
}

func (r *memDocRepo) ListAttempts(_ context.Context, documentID string) ([]*entity.SubmissionAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*entity.SubmissionAttempt(nil), r.attempts[documentID]...), nil
}

type memSeriesRepo struct {
	mu      sync.Mutex
	numbers map[string]int64
}

func (r *memSeriesRepo) NextNumber(_ context.Context, tenantID, series string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.numbers == nil {
		r.numbers = make(map[string]int64)
	}
	key := tenantID + "/" + series
	r.numbers[key]++
	return r.numbers[key], nil
}

type memTxRunner struct {
	docs   *memDocRepo
	series *memSeriesRepo
}

func (r *memTxRunner) RunDocument(ctx context.Context, fn func(
	docRepo repository.DocumentRepository,
	seriesRepo repository.SeriesRepository,
) error) error {
	return fn(r.docs, r.series)
}

type memCompanyRepo struct{ company *entity.Company }

func (r *memCompanyRepo) GetByID(context.Context, string) (*entity.Company, error) {
	return r.company, nil
}
func (r *memCompanyRepo) GetByRUC(context.Context, string) (*entity.Company, error) {
	return r.company, nil
}

// okSubmitter acepta todo lo que recibe.
type okSubmitter struct{}

func (okSubmitter) Submit(context.Context, []byte, ose.DocumentMeta) *ose.GatewayResult {
	return &ose.GatewayResult{Kind: ose.ResultAccepted, AuthorityCode: "0", ReferenceID: "R-OK"}
}

func (okSubmitter) QueryStatus(context.Context, ose.DocumentMeta) *ose.GatewayResult {
	return &ose.GatewayResult{Kind: ose.ResultAccepted, AuthorityCode: "0", ReferenceID: "R-OK"}
}

type noopNotifier struct{}

func (noopNotifier) ScheduleRetry(string, int) {}
func (noopNotifier) Cancel(string) bool        { return false }

// ──────────────────────────────────────────────────────────────────────────────
// Armado: máquina real + bus real + motor de derivación
// ──────────────────────────────────────────────────────────────────────────────

type rig struct {
	machine *billing.StateMachine
	docs    *memDocRepo
	bus     *eventbus.Bus
}

func newRig(t *testing.T, threshold string, defaultRequire bool) *rig {
	t.Helper()
	docs := newMemDocRepo()
	bus := eventbus.New(nil)
	machine := billing.NewStateMachine(
		&memTxRunner{docs: docs, series: &memSeriesRepo{}},
		docs,
		&memCompanyRepo{company: &entity.Company{ID: testTenantID, RUC: testRUC, Name: "DEMO PERU S.A.C.", Ubigeo: "150101"}},
		ose.NewXMLBuilderService(),
		ose.NewDigitalSignatureService(),
		okSubmitter{},
		bus,
		noopNotifier{},
		config.OSEConfig{AllowDemoSigning: true},
		config.RetryConfig{MaxAttempts: 3},
		nil,
	)
	engine := derivation.NewEngine(config.DerivationConfig{
		AmountThreshold: threshold,
		DefaultRequire:  defaultRequire,
		WeightDivisor:   "100",
	}, machine, docs, nil)
	engine.Start(bus)
	return &rig{machine: machine, docs: docs, bus: bus}
}

// issueInvoice emite una factura hasta ACCEPTED por el pipeline completo.
func (r *rig) issueInvoice(t *testing.T, unitPrice float64) *entity.FiscalDocument {
	t.Helper()
	ctx := context.Background()
	doc, err := r.machine.Create(ctx, testTenantID, dto.CreateDocumentRequest{
		DocumentType:   entity.DocTypeInvoice,
		Series:         "F001",
		RecipientTaxID: testRUC,
		RecipientName:  "CLIENTE DEMO S.A.C.",
		Items: []dto.CreateItemRequest{
			{Description: "Mercadería", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromFloat(unitPrice)},
		},
	})
	require.NoError(t, err)
	_, err = r.machine.Sign(ctx, doc.ID)
	require.NoError(t, err)
	final, err := r.machine.Submit(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, entity.StateAccepted, final.State)
	return final
}

// ──────────────────────────────────────────────────────────────────────────────
// Reglas
// ──────────────────────────────────────────────────────────────────────────────

func TestAmountThresholdRule_EstrictamenteMayor(t *testing.T) {
	rule := derivation.AmountThresholdRule{Threshold: decimal.NewFromInt(500)}

	_, matched := rule.Evaluate(event.DocumentIssued{GrandTotal: decimal.NewFromInt(500)})
	assert.False(t, matched, "igual al umbral no dispara")

	req, matched := rule.Evaluate(event.DocumentIssued{GrandTotal: decimal.NewFromFloat(500.01)})
	assert.True(t, matched)
	assert.True(t, req)
}

func TestDefaultRule_DecideTodo(t *testing.T) {
	req, matched := derivation.DefaultRule{Require: true}.Evaluate(event.DocumentIssued{})
	assert.True(t, matched)
	assert.True(t, req)

	req, matched = derivation.DefaultRule{Require: false}.Evaluate(event.DocumentIssued{})
	assert.True(t, matched)
	assert.False(t, req)
}

// ──────────────────────────────────────────────────────────────────────────────
// Motor end-to-end (bus real, máquina real, OSE doble)
// ──────────────────────────────────────────────────────────────────────────────

func TestEngine_FacturaSobreElUmbral_EmiteGuia(t *testing.T) {
	r := newRig(t, "500.00", false)

	// 2 × 300.00 = 600.00 + IGV = 708.00 > 500.00
	invoice := r.issueInvoice(t, 300.00)
	r.bus.Close() // drena la entrega del evento

	waybill, err := r.docs.GetByRelatedDocumentID(context.Background(), invoice.ID)
	require.NoError(t, err)
	require.NotNil(t, waybill, "debe existir la guía derivada")

	assert.Equal(t, entity.DocTypeWaybill, waybill.DocumentType)
	assert.Equal(t, entity.StateAccepted, waybill.State, "la guía recorre el pipeline completo")
	assert.Equal(t, invoice.ID, waybill.RelatedDocumentID)
	assert.Equal(t, invoice.RecipientTaxID, waybill.RecipientTaxID)
	require.Len(t, waybill.LineItems, 1)
	assert.True(t, waybill.LineItems[0].Quantity.Equal(decimal.NewFromInt(2)), "copia las cantidades de la factura")
}

func TestEngine_FacturaBajoElUmbral_NoDeriva(t *testing.T) {
	r := newRig(t, "500.00", false)

	// 2 × 100.00 = 200.00 + IGV = 236.00 < 500.00
	invoice := r.issueInvoice(t, 100.00)
	r.bus.Close()

	waybill, err := r.docs.GetByRelatedDocumentID(context.Background(), invoice.ID)
	require.NoError(t, err)
	assert.Nil(t, waybill)
}

func TestEngine_CatchAllActivado_TodaFacturaDeriva(t *testing.T) {
	r := newRig(t, "500.00", true)

	invoice := r.issueInvoice(t, 100.00) // bajo el umbral, pero el catch-all exige
	r.bus.Close()

	waybill, err := r.docs.GetByRelatedDocumentID(context.Background(), invoice.ID)
	require.NoError(t, err)
	require.NotNil(t, waybill)
}

func TestEngine_EventoDuplicado_UnaSolaGuia(t *testing.T) {
	r := newRig(t, "500.00", false)

	invoice := r.issueInvoice(t, 300.00)

	// Redelivery del mismo evento (entrega al menos una vez)
	r.bus.Publish(event.TopicDocumentIssued, event.DocumentIssued{
		DocumentID:     invoice.ID,
		TenantID:       invoice.TenantID,
		DocumentType:   invoice.DocumentType,
		Outcome:        event.OutcomeAccepted,
		GrandTotal:     invoice.Totals.GrandTotal,
		RecipientTaxID: invoice.RecipientTaxID,
	})
	r.bus.Close()

	r.docs.mu.Lock()
	var waybills int
	for _, doc := range r.docs.docs {
		if doc.DocumentType == entity.DocTypeWaybill {
			waybills++
		}
	}
	r.docs.mu.Unlock()
	assert.Equal(t, 1, waybills, "la derivación es idempotente por documento origen")
}

func TestEngine_IgnoraGuiasYRechazos(t *testing.T) {
	r := newRig(t, "0.01", false) // umbral mínimo: todo lo que pase derivaría

	r.bus.Publish(event.TopicDocumentIssued, event.DocumentIssued{
		DocumentID:   "doc-guia",
		TenantID:     testTenantID,
		DocumentType: entity.DocTypeWaybill, // las guías jamás derivan en cascada
		Outcome:      event.OutcomeAccepted,
		GrandTotal:   decimal.NewFromInt(1000),
	})
	r.bus.Publish(event.TopicDocumentIssued, event.DocumentIssued{
		DocumentID:   "doc-rechazado",
		TenantID:     testTenantID,
		DocumentType: entity.DocTypeInvoice,
		Outcome:      event.OutcomeRejected, // los rechazos no derivan
		GrandTotal:   decimal.NewFromInt(1000),
	})
	r.bus.Close()

	r.docs.mu.Lock()
	defer r.docs.mu.Unlock()
	assert.Empty(t, r.docs.docs, "ningún evento debió producir documentos")
}

package billing_test

import (
	"context"
	"crypto/tls"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yohandry10/erp-sub001/internal/application/billing"
	"github.com/yohandry10/erp-sub001/internal/application/dto"
	"github.com/yohandry10/erp-sub001/internal/domain"
	"github.com/yohandry10/erp-sub001/internal/domain/entity"
	"github.com/yohandry10/erp-sub001/internal/domain/event"
	"github.com/yohandry10/erp-sub001/internal/domain/repository"
	"github.com/yohandry10/erp-sub001/internal/infrastructure/ose"
	"github.com/yohandry10/erp-sub001/pkg/config"
	"github.com/yohandry10/erp-sub001/pkg/sunat"
)

// ──────────────────────────────────────────────────────────────────────────────
// Dobles de test
// ──────────────────────────────────────────────────────────────────────────────

const (
	testTenantID = "00000000-0000-0000-0000-000000000001"
	testRUC      = "20131312955" // RUC válido (mod 11)
)

type fakeDocRepo struct {
	mu          sync.Mutex
	docs        map[string]*entity.FiscalDocument
	byRelat     map[string]string
	attempts    map[string][]*entity.SubmissionAttempt
	failUpdates int
}

func newFakeDocRepo() *fakeDocRepo {
	return &fakeDocRepo{
		docs:     make(map[string]*entity.FiscalDocument),
		byRelat:  make(map[string]string),
		attempts: make(map[string][]*entity.SubmissionAttempt),
	}
}

func (r *fakeDocRepo) GetByID(_ context.Context, id string) (*entity.FiscalDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, nil
	}
	cp := *doc
	return &cp, nil
}

func (r *fakeDocRepo) Create(_ context.Context, doc *entity.FiscalDocument) error {
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

func (r *fakeDocRepo) Update(_ context.Context, doc *entity.FiscalDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdates > 0 {
		r.failUpdates--
		return errors.New("conexión a la base de datos perdida")
	}
	if _, ok := r.docs[doc.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *doc
	r.docs[doc.ID] = &cp
	return nil
}

func (r *fakeDocRepo) failNextUpdates(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failUpdates = n
}

func (r *fakeDocRepo) GetByRelatedDocumentID(_ context.Context, relatedID string) (*entity.FiscalDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byRelat[relatedID]
	if !ok {
		return nil, nil
	}
	cp := *r.docs[id]
	return &cp, nil
}

func (r *fakeDocRepo) AppendAttempt(_ context.Context, attempt *entity.SubmissionAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *attempt
	r.attempts[attempt.DocumentID] = append(r.attempts[attempt.DocumentID], &cp)
	return nil
}

func (r *fakeDocRepo) ListAttempts(_ context.Context, documentID string) ([]*entity.SubmissionAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*entity.SubmissionAttempt(nil), r.attempts[documentID]...), nil
}

type fakeSeriesRepo struct {
	mu      sync.Mutex
	numbers map[string]int64
}

func (r *fakeSeriesRepo) NextNumber(_ context.Context, tenantID, series string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.numbers == nil {
		r.numbers = make(map[string]int64)
	}
	key := tenantID + "/" + series
	r.numbers[key]++
	return r.numbers[key], nil
}

type fakeTxRunner struct {
	docs   *fakeDocRepo
	series *fakeSeriesRepo
}

func (r *fakeTxRunner) RunDocument(ctx context.Context, fn func(
	docRepo repository.DocumentRepository,
	seriesRepo repository.SeriesRepository,
) error) error {
	return fn(r.docs, r.series)
}

type fakeCompanyRepo struct{ company *entity.Company }

func (r *fakeCompanyRepo) GetByID(context.Context, string) (*entity.Company, error) {
	return r.company, nil
}
func (r *fakeCompanyRepo) GetByRUC(context.Context, string) (*entity.Company, error) {
	return r.company, nil
}

// fakeSubmitter devuelve los resultados programados en orden; el último se repite.
type fakeSubmitter struct {
	mu      sync.Mutex
	results []*ose.GatewayResult
	calls   int
}

func (s *fakeSubmitter) next() *ose.GatewayResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	s.calls++
	return s.results[idx]
}

func (s *fakeSubmitter) Submit(context.Context, []byte, ose.DocumentMeta) *ose.GatewayResult {
	return s.next()
}

func (s *fakeSubmitter) QueryStatus(context.Context, ose.DocumentMeta) *ose.GatewayResult {
	return s.next()
}

func (s *fakeSubmitter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakePublisher struct {
	mu     sync.Mutex
	events []event.DocumentIssued
}

func (p *fakePublisher) Publish(_ string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev, ok := payload.(event.DocumentIssued); ok {
		p.events = append(p.events, ev)
	}
}

func (p *fakePublisher) published() []event.DocumentIssued {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]event.DocumentIssued(nil), p.events...)
}

type fakeNotifier struct {
	mu        sync.Mutex
	scheduled []int
	cancels   []string
}

func (n *fakeNotifier) ScheduleRetry(_ string, attemptNumber int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.scheduled = append(n.scheduled, attemptNumber)
}

func (n *fakeNotifier) Cancel(documentID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancels = append(n.cancels, documentID)
	return false
}

// brokenSigner falla las primeras n firmas y después delega en el servicio real.
type brokenSigner struct {
	mu       sync.Mutex
	failures int
	real     sunat.Signer
}

func (s *brokenSigner) Sign(xmlBytes []byte, cert tls.Certificate) (*sunat.SignedResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("llave privada corrupta")
	}
	return s.real.Sign(xmlBytes, cert)
}

func (s *brokenSigner) Validate(signedXML []byte) bool {
	return s.real.Validate(signedXML)
}

// ──────────────────────────────────────────────────────────────────────────────
// Armado
// ──────────────────────────────────────────────────────────────────────────────

type fixture struct {
	machine   *billing.StateMachine
	docs      *fakeDocRepo
	submitter *fakeSubmitter
	publisher *fakePublisher
	notifier  *fakeNotifier
}

func newFixture(t *testing.T, results []*ose.GatewayResult, maxAttempts int) *fixture {
	t.Helper()
	docs := newFakeDocRepo()
	series := &fakeSeriesRepo{}
	submitter := &fakeSubmitter{results: results}
	publisher := &fakePublisher{}
	notifier := &fakeNotifier{}
	company := &entity.Company{
		ID:      testTenantID,
		RUC:     testRUC,
		Name:    "DEMO PERU S.A.C.",
		Address: "AV. EJEMPLO 123, LIMA",
		Ubigeo:  "150101",
	}
	machine := billing.NewStateMachine(
		&fakeTxRunner{docs: docs, series: series},
		docs,
		&fakeCompanyRepo{company: company},
		ose.NewXMLBuilderService(),
		ose.NewDigitalSignatureService(),
		submitter,
		publisher,
		notifier,
		config.OSEConfig{AllowDemoSigning: true},
		config.RetryConfig{MaxAttempts: maxAttempts},
		nil,
	)
	return &fixture{machine: machine, docs: docs, submitter: submitter, publisher: publisher, notifier: notifier}
}

func invoiceRequest() dto.CreateDocumentRequest {
	return dto.CreateDocumentRequest{
		DocumentType:   entity.DocTypeInvoice,
		Series:         "F001",
		RecipientTaxID: testRUC,
		RecipientName:  "CLIENTE DEMO S.A.C.",
		Items: []dto.CreateItemRequest{
			{Description: "Servicio de consultoría", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromFloat(150.00)},
		},
	}
}

func accepted() *ose.GatewayResult {
	return &ose.GatewayResult{Kind: ose.ResultAccepted, AuthorityCode: "0", AuthorityMessage: "aceptado", ReferenceID: "R-001"}
}

func rejected() *ose.GatewayResult {
	return &ose.GatewayResult{Kind: ose.ResultRejected, AuthorityCode: "2324", AuthorityMessage: "RUC del receptor no existe"}
}

func fault() *ose.GatewayResult {
	return &ose.GatewayResult{Kind: ose.ResultFault, AuthorityCode: "CONNECTION", AuthorityMessage: "connection refused"}
}

// ──────────────────────────────────────────────────────────────────────────────
// Create
// ──────────────────────────────────────────────────────────────────────────────

func TestCreate_AsignaCorrelativoYCalculaTotales(t *testing.T) {
	f := newFixture(t, []*ose.GatewayResult{accepted()}, 3)

	doc, err := f.machine.Create(context.Background(), testTenantID, invoiceRequest())
	require.NoError(t, err)

	assert.Equal(t, entity.StateDraft, doc.State)
	assert.Equal(t, int64(1), doc.Number)
	assert.Equal(t, "F001-00000001", doc.Name())
	// 2 × 150.00 = 300.00 base, IGV 18% = 54.00, total 354.00
	assert.True(t, doc.Totals.TaxableBase.Equal(decimal.NewFromFloat(300.00)), "base imponible")
	assert.True(t, doc.Totals.Tax.Equal(decimal.NewFromFloat(54.00)), "IGV")
	assert.True(t, doc.Totals.GrandTotal.Equal(decimal.NewFromFloat(354.00)), "importe total")
}

func TestCreate_RechazaDatosInvalidos(t *testing.T) {
	f := newFixture(t, []*ose.GatewayResult{accepted()}, 3)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*dto.CreateDocumentRequest)
	}{
		{"tipo desconocido", func(r *dto.CreateDocumentRequest) { r.DocumentType = "TICKET" }},
		{"sin serie", func(r *dto.CreateDocumentRequest) { r.Series = "" }},
		{"RUC con dígito verificador inválido", func(r *dto.CreateDocumentRequest) { r.RecipientTaxID = "20131312954" }},
		{"sin líneas", func(r *dto.CreateDocumentRequest) { r.Items = nil }},
		{"cantidad cero", func(r *dto.CreateDocumentRequest) { r.Items[0].Quantity = decimal.Zero }},
		{"precio negativo", func(r *dto.CreateDocumentRequest) { r.Items[0].UnitPrice = decimal.NewFromInt(-1) }},
		{"moneda desconocida", func(r *dto.CreateDocumentRequest) { r.Currency = "ARS" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := invoiceRequest()
			tc.mutate(&req)
			_, err := f.machine.Create(ctx, testTenantID, req)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestCreate_CorrelativosUnicosBajoConcurrencia(t *testing.T) {
	f := newFixture(t, []*ose.GatewayResult{accepted()}, 3)

	const n = 30
	numbers := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc, err := f.machine.Create(context.Background(), testTenantID, invoiceRequest())
			require.NoError(t, err)
			numbers <- doc.Number
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[int64]bool)
	for num := range numbers {
		assert.False(t, seen[num], "correlativo %d repetido", num)
		seen[num] = true
	}
	assert.Len(t, seen, n)
}

// ──────────────────────────────────────────────────────────────────────────────
// Sign
// ──────────────────────────────────────────────────────────────────────────────

func TestSign_TransicionaYEsIdempotente(t *testing.T) {
	f := newFixture(t, []*ose.GatewayResult{accepted()}, 3)
	ctx := context.Background()

	doc, err := f.machine.Create(ctx, testTenantID, invoiceRequest())
	require.NoError(t, err)

	signed, err := f.machine.Sign(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StateSigned, signed.State)
	assert.NotEmpty(t, signed.SignedPayload)
	assert.Len(t, signed.ContentHash, 64, "SHA-256 en hex")

	// Segunda firma: no-op, el payload y el hash no cambian
	again, err := f.machine.Sign(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, signed.ContentHash, again.ContentHash)
}

func TestSign_SinMaterialDeLlaves_QuedaEnDraft(t *testing.T) {
	f := newFixture(t, []*ose.GatewayResult{accepted()}, 3)
	// Máquina sin firma demo ni certificado configurado
	docs := f.docs
	machine := billing.NewStateMachine(
		&fakeTxRunner{docs: docs, series: &fakeSeriesRepo{}},
		docs,
		&fakeCompanyRepo{company: &entity.Company{ID: testTenantID, RUC: testRUC, Name: "DEMO"}},
		ose.NewXMLBuilderService(),
		ose.NewDigitalSignatureService(),
		f.submitter, f.publisher, f.notifier,
		config.OSEConfig{}, // sin CertPath y sin AllowDemoSigning
		config.RetryConfig{MaxAttempts: 3},
		nil,
	)
	ctx := context.Background()

	doc, err := machine.Create(ctx, testTenantID, invoiceRequest())
	require.NoError(t, err)

	_, err = machine.Sign(ctx, doc.ID)
	assert.ErrorIs(t, err, domain.ErrSigningUnavailable)

	current, err := machine.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StateDraft, current.State, "el documento no debe cambiar de estado")
	assert.NotEmpty(t, current.LastError)
}

func TestSign_FalloTecnico_PermiteRefirmarYReenviar(t *testing.T) {
	f := newFixture(t, []*ose.GatewayResult{accepted()}, 3)
	signer := &brokenSigner{failures: 1, real: ose.NewDigitalSignatureService()}
	machine := billing.NewStateMachine(
		&fakeTxRunner{docs: f.docs, series: &fakeSeriesRepo{}},
		f.docs,
		&fakeCompanyRepo{company: &entity.Company{ID: testTenantID, RUC: testRUC, Name: "DEMO"}},
		ose.NewXMLBuilderService(),
		signer,
		f.submitter, f.publisher, f.notifier,
		config.OSEConfig{AllowDemoSigning: true},
		config.RetryConfig{MaxAttempts: 3},
		nil,
	)
	ctx := context.Background()

	doc, err := machine.Create(ctx, testTenantID, invoiceRequest())
	require.NoError(t, err)

	// Primera firma: error técnico → REJECTED con el error registrado, sin payload
	_, err = machine.Sign(ctx, doc.ID)
	require.Error(t, err)

	current, err := machine.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StateRejected, current.State)
	assert.Empty(t, current.SignedPayload)
	assert.Contains(t, current.LastError, "error técnico")

	// Reenviar sin payload no debe dejar un SIGNED sin firma
	_, err = machine.Resubmit(ctx, doc.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	current, _ = machine.GetDocument(ctx, doc.ID)
	assert.Equal(t, entity.StateRejected, current.State, "la re-entrada a SIGNED exige payload firmado")

	// El operador re-firma: ahora el signer funciona y el documento avanza
	signed, err := machine.Sign(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StateSigned, signed.State)
	assert.NotEmpty(t, signed.SignedPayload)
	assert.Len(t, signed.ContentHash, 64)

	final, err := machine.Submit(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StateAccepted, final.State)
}

// ──────────────────────────────────────────────────────────────────────────────
// Submit
// ──────────────────────────────────────────────────────────────────────────────

// emit crea y firma una factura lista para enviar.
func emit(t *testing.T, f *fixture) *entity.FiscalDocument {
	t.Helper()
	ctx := context.Background()
	doc, err := f.machine.Create(ctx, testTenantID, invoiceRequest())
	require.NoError(t, err)
	signed, err := f.machine.Sign(ctx, doc.ID)
	require.NoError(t, err)
	return signed
}

func TestSubmit_Aceptado_PublicaEventoUnaVez(t *testing.T) {
	f := newFixture(t, []*ose.GatewayResult{accepted()}, 3)
	doc := emit(t, f)

	final, err := f.machine.Submit(context.Background(), doc.ID)
	require.NoError(t, err)

	assert.Equal(t, entity.StateAccepted, final.State)
	assert.Equal(t, "R-001", final.AuthorityReferenceID)

	attempts, _ := f.machine.ListAttempts(context.Background(), doc.ID)
	require.Len(t, attempts, 1)
	assert.Equal(t, entity.AttemptSuccess, attempts[0].Outcome)

	events := f.publisher.published()
	require.Len(t, events, 1, "exactamente un DocumentIssued por transición terminal")
	assert.Equal(t, event.OutcomeAccepted, events[0].Outcome)
	assert.Equal(t, doc.ID, events[0].DocumentID)

	// Reenviar un documento aceptado es no-op
	again, err := f.machine.Submit(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StateAccepted, again.State)
	assert.Len(t, f.publisher.published(), 1, "sin evento duplicado")
}

func TestSubmit_RechazoDeAutoridad_NoReintenta(t *testing.T) {
	f := newFixture(t, []*ose.GatewayResult{rejected()}, 3)
	doc := emit(t, f)

	final, err := f.machine.Submit(context.Background(), doc.ID)
	require.NoError(t, err)

	assert.Equal(t, entity.StateRejected, final.State)
	assert.Contains(t, final.LastError, "2324")
	assert.Empty(t, f.notifier.scheduled, "un rechazo de negocio no agenda reintentos")

	events := f.publisher.published()
	require.Len(t, events, 1)
	assert.Equal(t, event.OutcomeRejected, events[0].Outcome)

	attempts, _ := f.machine.ListAttempts(context.Background(), doc.ID)
	require.Len(t, attempts, 1)
	assert.Equal(t, entity.AttemptFailure, attempts[0].Outcome)
}

func TestSubmit_FalloDeTransporte_VuelveASignedYAgenda(t *testing.T) {
	f := newFixture(t, []*ose.GatewayResult{fault()}, 3)
	doc := emit(t, f)

	final, err := f.machine.Submit(context.Background(), doc.ID)
	require.NoError(t, err)

	assert.Equal(t, entity.StateSigned, final.State, "el fallo de transporte no es terminal")
	assert.Equal(t, []int{1}, f.notifier.scheduled)
	assert.Empty(t, f.publisher.published(), "sin evento en fallo de transporte")
}

func TestSubmit_DosFallosYLuegoExito_TresIntentosRegistrados(t *testing.T) {
	f := newFixture(t, []*ose.GatewayResult{fault(), fault(), accepted()}, 5)
	doc := emit(t, f)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.machine.Submit(ctx, doc.ID)
		require.NoError(t, err)
	}

	final, err := f.machine.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StateAccepted, final.State)

	attempts, _ := f.machine.ListAttempts(ctx, doc.ID)
	require.Len(t, attempts, 3)
	assert.Equal(t, entity.AttemptFailure, attempts[0].Outcome)
	assert.Equal(t, entity.AttemptFailure, attempts[1].Outcome)
	assert.Equal(t, entity.AttemptSuccess, attempts[2].Outcome)
	for i, a := range attempts {
		assert.Equal(t, i+1, a.AttemptNumber)
	}
}

func TestSubmit_ReintentosAgotados_QuedaSignedSinEvento(t *testing.T) {
	f := newFixture(t, []*ose.GatewayResult{fault()}, 2)
	doc := emit(t, f)
	ctx := context.Background()

	_, err := f.machine.Submit(ctx, doc.ID)
	require.NoError(t, err)

	_, err = f.machine.Submit(ctx, doc.ID)
	assert.ErrorIs(t, err, domain.ErrRetriesExhausted)

	final, _ := f.machine.GetDocument(ctx, doc.ID)
	assert.Equal(t, entity.StateSigned, final.State, "queda a la espera de reenvío manual")
	assert.Empty(t, f.publisher.published())
	assert.Equal(t, []int{1}, f.notifier.scheduled, "el segundo fallo ya no agenda")
}

func TestSubmit_SinFirmar_EsTransicionInvalida(t *testing.T) {
	f := newFixture(t, []*ose.GatewayResult{accepted()}, 3)
	doc, err := f.machine.Create(context.Background(), testTenantID, invoiceRequest())
	require.NoError(t, err)

	_, err = f.machine.Submit(context.Background(), doc.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Zero(t, f.submitter.callCount(), "no debe tocar la red")
}

// ──────────────────────────────────────────────────────────────────────────────
// Resubmit / Void
// ──────────────────────────────────────────────────────────────────────────────

func TestResubmit_ReutilizaElPayloadFirmado(t *testing.T) {
	f := newFixture(t, []*ose.GatewayResult{rejected(), accepted()}, 3)
	doc := emit(t, f)
	ctx := context.Background()

	_, err := f.machine.Submit(ctx, doc.ID)
	require.NoError(t, err)
	hashAfterReject, _ := f.machine.GetDocument(ctx, doc.ID)
	require.Equal(t, entity.StateRejected, hashAfterReject.State)

	final, err := f.machine.Resubmit(ctx, doc.ID)
	require.NoError(t, err)

	assert.Equal(t, entity.StateAccepted, final.State)
	assert.Equal(t, hashAfterReject.ContentHash, final.ContentHash,
		"el reenvío jamás re-firma: mismo artefacto ante la autoridad")
	assert.Contains(t, f.notifier.cancels, doc.ID, "cancela cualquier reintento pendiente")
}

func TestVoid_AnulaNoAceptadosYCancelaReintentos(t *testing.T) {
	f := newFixture(t, []*ose.GatewayResult{accepted()}, 3)
	doc, err := f.machine.Create(context.Background(), testTenantID, invoiceRequest())
	require.NoError(t, err)

	final, err := f.machine.Void(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StateVoid, final.State)
	assert.Contains(t, f.notifier.cancels, doc.ID)

	// Void de nuevo: no-op
	again, err := f.machine.Void(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StateVoid, again.State)
}

func TestVoid_RechazaDocumentoAceptado(t *testing.T) {
	f := newFixture(t, []*ose.GatewayResult{accepted()}, 3)
	doc := emit(t, f)

	_, err := f.machine.Submit(context.Background(), doc.ID)
	require.NoError(t, err)

	_, err = f.machine.Void(context.Background(), doc.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

// ──────────────────────────────────────────────────────────────────────────────
// QueryStatus
// ──────────────────────────────────────────────────────────────────────────────

func TestQueryStatus_PublicaSoloConLaTransicionPersistida(t *testing.T) {
	f := newFixture(t, []*ose.GatewayResult{accepted()}, 3)
	doc := emit(t, f) // SIGNED
	ctx := context.Background()

	// Si la promoción a ACCEPTED no se puede persistir, no debe salir evento
	f.docs.failNextUpdates(1)
	_, err := f.machine.QueryStatus(ctx, doc.ID)
	require.Error(t, err)
	assert.Empty(t, f.publisher.published(), "sin evento mientras el estado almacenado siga SIGNED")

	current, _ := f.machine.GetDocument(ctx, doc.ID)
	assert.Equal(t, entity.StateSigned, current.State)

	// La siguiente consulta persiste la promoción y publica exactamente una vez
	result, err := f.machine.QueryStatus(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, ose.ResultAccepted, result.Kind)

	current, _ = f.machine.GetDocument(ctx, doc.ID)
	assert.Equal(t, entity.StateAccepted, current.State)

	events := f.publisher.published()
	require.Len(t, events, 1)
	assert.Equal(t, event.OutcomeAccepted, events[0].Outcome)
}

// ──────────────────────────────────────────────────────────────────────────────
// Guías derivadas (precondiciones de creación)
// ──────────────────────────────────────────────────────────────────────────────

func TestCreate_GuiaExigeFacturaAceptada(t *testing.T) {
	f := newFixture(t, []*ose.GatewayResult{accepted()}, 3)
	ctx := context.Background()

	invoice := emit(t, f) // SIGNED, aún no aceptada

	waybill := dto.CreateDocumentRequest{
		DocumentType:      entity.DocTypeWaybill,
		Series:            "T001",
		RecipientTaxID:    testRUC,
		RecipientName:     "CLIENTE DEMO S.A.C.",
		Items:             []dto.CreateItemRequest{{Description: "Bulto", Quantity: decimal.NewFromInt(1)}},
		RelatedDocumentID: invoice.ID,
	}
	_, err := f.machine.Create(ctx, testTenantID, waybill)
	assert.ErrorIs(t, err, domain.ErrInvalidInput, "la factura origen aún no está aceptada")

	_, err = f.machine.Submit(ctx, invoice.ID)
	require.NoError(t, err)

	doc, err := f.machine.Create(ctx, testTenantID, waybill)
	require.NoError(t, err)
	assert.Equal(t, decimal.Zero.String(), doc.Totals.GrandTotal.String(), "las guías no llevan montos")

	// Segunda guía para la misma factura: duplicado
	_, err = f.machine.Create(ctx, testTenantID, waybill)
	assert.ErrorIs(t, err, domain.ErrDuplicate)
}

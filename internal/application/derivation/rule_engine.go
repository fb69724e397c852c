// Motor de derivación: escucha los eventos DocumentIssued y, cuando una
// factura aceptada lo amerita según las reglas, emite automáticamente la guía
// de remisión derivada por el mismo pipeline (crear → firmar → enviar).

package derivation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yohandry10/erp-sub001/internal/application/billing"
	"github.com/yohandry10/erp-sub001/internal/application/dto"
	"github.com/yohandry10/erp-sub001/internal/domain"
	"github.com/yohandry10/erp-sub001/internal/domain/entity"
	"github.com/yohandry10/erp-sub001/internal/domain/event"
	"github.com/yohandry10/erp-sub001/internal/domain/repository"
	"github.com/yohandry10/erp-sub001/internal/infrastructure/eventbus"
	"github.com/yohandry10/erp-sub001/pkg/config"
	"github.com/yohandry10/erp-sub001/pkg/logger"
	"github.com/yohandry10/erp-sub001/pkg/sunat"
)

// DefaultWaybillSeries serie por omisión para guías derivadas.
const DefaultWaybillSeries = "T001"

// subscriberName identifica la suscripción del motor en el bus de eventos.
const subscriberName = "derivation-engine"

// EventBus suscripción mínima que el motor necesita del bus.
type EventBus interface {
	Subscribe(topic, name string, handler eventbus.Handler)
}

// Engine evalúa las reglas de derivación sobre cada factura aceptada y emite
// la guía correspondiente. La deduplicación es doble: consulta previa por
// documento origen y, ante una carrera, el índice único de persistencia.
type Engine struct {
	rules         []Rule
	machine       *billing.StateMachine
	docRepo       repository.DocumentRepository
	waybillSeries string
	weightDivisor decimal.Decimal
	log           *logger.Logger
}

// NewEngine construye el motor con las reglas derivadas de la configuración:
// umbral de importe primero, catch-all configurable al final.
func NewEngine(
	cfg config.DerivationConfig,
	machine *billing.StateMachine,
	docRepo repository.DocumentRepository,
	log *logger.Logger,
) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	threshold, err := decimal.NewFromString(cfg.AmountThreshold)
	if err != nil {
		log.Warn().Str("value", cfg.AmountThreshold).Msg("umbral de derivación inválido; usando 500.00")
		threshold = decimal.NewFromInt(500)
	}
	divisor, err := decimal.NewFromString(cfg.WeightDivisor)
	if err != nil || divisor.IsZero() {
		divisor = decimal.NewFromInt(100)
	}
	return &Engine{
		rules: []Rule{
			AmountThresholdRule{Threshold: threshold},
			DefaultRule{Require: cfg.DefaultRequire},
		},
		machine:       machine,
		docRepo:       docRepo,
		waybillSeries: DefaultWaybillSeries,
		weightDivisor: divisor,
		log:           log,
	}
}

// Start suscribe el motor al tópico de documentos emitidos.
func (e *Engine) Start(bus EventBus) {
	bus.Subscribe(event.TopicDocumentIssued, subscriberName, e.handle)
}

func (e *Engine) handle(payload any) {
	ev, ok := payload.(event.DocumentIssued)
	if !ok {
		return
	}
	// Solo facturas aceptadas derivan; guías y notas nunca, o el pipeline
	// derivaría en cascada.
	if ev.DocumentType != entity.DocTypeInvoice || ev.Outcome != event.OutcomeAccepted {
		return
	}

	require, ruleName := evaluate(e.rules, ev)
	if !require {
		e.log.Debug().
			Str("document_id", ev.DocumentID).
			Str("rule", ruleName).
			Msg("sin derivación requerida")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := e.derive(ctx, ev, ruleName); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			// Evento re-entregado o carrera perdida: la guía ya existe.
			e.log.Debug().Str("document_id", ev.DocumentID).Msg("derivación ya emitida")
			return
		}
		e.log.Error().
			Err(err).
			Str("document_id", ev.DocumentID).
			Msg("no se pudo emitir la guía derivada")
	}
}

// derive emite la guía para la factura del evento. Idempotente respecto al
// documento origen: a lo sumo una guía por factura.
func (e *Engine) derive(ctx context.Context, ev event.DocumentIssued, ruleName string) error {
	existing, err := e.docRepo.GetByRelatedDocumentID(ctx, ev.DocumentID)
	if err != nil {
		return fmt.Errorf("consultar derivación previa: %w", err)
	}
	if existing != nil {
		return domain.ErrDuplicate
	}

	source, err := e.machine.GetDocument(ctx, ev.DocumentID)
	if err != nil {
		return fmt.Errorf("cargar factura origen: %w", err)
	}

	waybill, err := e.machine.Create(ctx, ev.TenantID, dto.CreateDocumentRequest{
		DocumentType:      entity.DocTypeWaybill,
		Series:            e.waybillSeries,
		RecipientTaxID:    source.RecipientTaxID,
		RecipientName:     source.RecipientName,
		Currency:          source.Currency,
		Items:             e.waybillItems(source),
		RelatedDocumentID: source.ID,
	})
	if err != nil {
		return err
	}

	e.log.Info().
		Str("source_id", source.ID).
		Str("waybill_id", waybill.ID).
		Str("waybill", waybill.Name()).
		Str("rule", ruleName).
		Msg("guía derivada creada")

	if _, err := e.machine.Sign(ctx, waybill.ID); err != nil {
		return fmt.Errorf("firmar guía derivada: %w", err)
	}
	if _, err := e.machine.Submit(ctx, waybill.ID); err != nil {
		// Los fallos de transporte ya quedaron en manos del planificador de
		// reintentos; solo se propaga lo irrecuperable.
		if errors.Is(err, domain.ErrRetriesExhausted) {
			return nil
		}
		return fmt.Errorf("enviar guía derivada: %w", err)
	}
	return nil
}

// waybillItems copia las líneas de la factura origen. Si la factura no trae
// detalle aprovechable, cae a una sola línea cuyo peso se estima como
// total / divisor, con mínimo 1.
func (e *Engine) waybillItems(source *entity.FiscalDocument) []dto.CreateItemRequest {
	if len(source.LineItems) > 0 {
		items := make([]dto.CreateItemRequest, 0, len(source.LineItems))
		for _, line := range source.LineItems {
			items = append(items, dto.CreateItemRequest{
				Code:        line.Code,
				Description: line.Description,
				Quantity:    line.Quantity,
				UnitPrice:   decimal.Zero, // las guías no llevan precios
				UnitCode:    line.UnitCode,
			})
		}
		return items
	}
	weight := source.Totals.GrandTotal.Div(e.weightDivisor).Round(2)
	if weight.LessThan(decimal.NewFromInt(1)) {
		weight = decimal.NewFromInt(1)
	}
	return []dto.CreateItemRequest{{
		Description: "Mercadería según " + source.Name(),
		Quantity:    weight,
		UnitPrice:   decimal.Zero,
		UnitCode:    sunat.UnitKilogram,
	}}
}

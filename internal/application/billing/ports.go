package billing

import (
	"context"

	"github.com/yohandry10/erp-sub001/internal/domain/repository"
)

// TxRunner ejecuta una función dentro de una transacción que incluye los repos
// de documentos y numeración. La asignación de correlativo y la inserción del
// documento deben confirmar o abortar juntas.
type TxRunner interface {
	RunDocument(ctx context.Context, fn func(
		docRepo repository.DocumentRepository,
		seriesRepo repository.SeriesRepository,
	) error) error
}

// Publisher puerto de publicación de eventos de ciclo de vida.
// Lo satisface el bus en proceso; para tests se inyecta un doble.
type Publisher interface {
	Publish(topic string, payload interface{})
}

// RetryNotifier puerto hacia el planificador de reintentos. La máquina de
// estados lo notifica en fallos de transporte y lo cancela en acciones de
// operador (void, reenvío manual).
type RetryNotifier interface {
	ScheduleRetry(documentID string, attemptNumber int)
	// Cancel descarta el reintento pendiente; reporta si había uno.
	Cancel(documentID string) bool
}

// Submitter operación de envío que el planificador re-invoca al vencer un
// timer de reintento. La implementa la máquina de estados.
type Submitter interface {
	Submit(ctx context.Context, documentID string) error
}

// Planificador de reintentos con backoff exponencial. Solo agenda reenvíos
// tras fallos de transporte; los rechazos de negocio de la autoridad nunca
// pasan por aquí.

package billing

import (
	"context"
	"sync"
	"time"

	"github.com/yohandry10/erp-sub001/pkg/config"
	"github.com/yohandry10/erp-sub001/pkg/logger"
)

// RetryScheduler agenda reenvíos automáticos con espera base*2^intentos,
// acotada por el máximo configurado. A lo sumo un timer vivo por documento.
type RetryScheduler struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	submitter   Submitter
	log         *logger.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
	wg     sync.WaitGroup
}

// NewRetryScheduler construye el planificador. El submitter se inyecta después
// con SetSubmitter porque la máquina de estados se construye apuntando al
// planificador (dependencia mutua resuelta en el arranque).
func NewRetryScheduler(cfg config.RetryConfig, log *logger.Logger) *RetryScheduler {
	if log == nil {
		log = logger.Nop()
	}
	return &RetryScheduler{
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		maxAttempts: cfg.MaxAttempts,
		log:         log,
		timers:      make(map[string]*time.Timer),
	}
}

// SetSubmitter conecta el destino de los reenvíos. Debe llamarse antes de que
// venza el primer timer.
func (s *RetryScheduler) SetSubmitter(submitter Submitter) {
	s.mu.Lock()
	s.submitter = submitter
	s.mu.Unlock()
}

// Delay espera antes del reintento que sigue a attemptNumber intentos fallidos.
func (s *RetryScheduler) Delay(attemptNumber int) time.Duration {
	delay := s.baseDelay
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= s.maxDelay {
			return s.maxDelay
		}
	}
	if delay > s.maxDelay {
		return s.maxDelay
	}
	return delay
}

// ScheduleRetry agenda un reenvío del documento tras el backoff que corresponde
// a attemptNumber intentos consumidos. Reagendar un documento ya agendado
// reemplaza el timer anterior.
func (s *RetryScheduler) ScheduleRetry(documentID string, attemptNumber int) {
	if attemptNumber >= s.maxAttempts {
		s.log.Warn().
			Str("document_id", documentID).
			Int("attempts", attemptNumber).
			Msg("tope de reintentos alcanzado; no se agenda reenvío")
		return
	}

	delay := s.Delay(attemptNumber)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if prev, ok := s.timers[documentID]; ok {
		prev.Stop()
	}
	s.timers[documentID] = time.AfterFunc(delay, func() {
		s.fire(documentID, attemptNumber)
	})
	s.log.Info().
		Str("document_id", documentID).
		Int("attempt", attemptNumber).
		Dur("delay", delay).
		Msg("reintento agendado")
}

// Cancel descarta el reintento pendiente del documento, si existe. Devuelve
// true si había un timer vivo.
func (s *RetryScheduler) Cancel(documentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer, ok := s.timers[documentID]
	if !ok {
		return false
	}
	timer.Stop()
	delete(s.timers, documentID)
	return true
}

// Stop detiene todos los timers pendientes y espera los reenvíos en vuelo.
func (s *RetryScheduler) Stop() {
	s.mu.Lock()
	s.closed = true
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *RetryScheduler) fire(documentID string, attemptNumber int) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.timers, documentID)
	submitter := s.submitter
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	if submitter == nil {
		s.log.Error().Str("document_id", documentID).Msg("planificador sin submitter conectado")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := submitter.Submit(ctx, documentID); err != nil {
		// El reenvío ya dejó su huella (intento registrado, estado actualizado);
		// si corresponde otro reintento, la máquina de estados lo agendó.
		s.log.Warn().
			Err(err).
			Str("document_id", documentID).
			Int("prev_attempts", attemptNumber).
			Msg("reenvío automático fallido")
	}
}

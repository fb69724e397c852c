// Bus de eventos en proceso: fan-out asíncrono con entrega al menos una vez
// durante la vida del proceso. Cada suscriptor drena su propia cola en su
// propio goroutine, de modo que un suscriptor lento o caído no bloquea ni al
// publicador ni a los demás suscriptores. No hay durabilidad entre procesos:
// la idempotencia de los consumidores es la que protege contra duplicados.

package eventbus

import (
	"sync"

	"github.com/yohandry10/erp-sub001/pkg/logger"
)

// Handler procesa un evento entregado por el bus. Un pánico en el handler se
// recupera y se loguea; no tumba al resto de suscriptores.
type Handler func(payload interface{})

// subscriber cola propia + goroutine de drenado.
type subscriber struct {
	topic string
	name  string
	ch    chan interface{}
}

// Bus implementación en proceso del bus de eventos.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]*subscriber
	wg     sync.WaitGroup
	closed bool
	log    *logger.Logger
}

// New construye el bus. El registro de suscriptores se arma en el arranque
// con Subscribe antes de publicar.
func New(log *logger.Logger) *Bus {
	if log == nil {
		log = logger.Nop()
	}
	return &Bus{
		subs: make(map[string][]*subscriber),
		log:  log,
	}
}

// Subscribe registra un handler para un topic. name identifica al suscriptor en los logs.
func (b *Bus) Subscribe(topic, name string, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	sub := &subscriber{
		topic: topic,
		name:  name,
		ch:    make(chan interface{}, 64),
	}
	b.subs[topic] = append(b.subs[topic], sub)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for payload := range sub.ch {
			b.dispatch(sub, fn, payload)
		}
	}()
}

// dispatch invoca el handler aislando pánicos.
func (b *Bus) dispatch(sub *subscriber, fn Handler, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("topic", sub.topic).
				Str("subscriber", sub.name).
				Interface("panic", r).
				Msg("pánico en suscriptor del bus")
		}
	}()
	fn(payload)
}

// Publish entrega el payload a cada suscriptor del topic y retorna de inmediato.
// Si la cola de un suscriptor está llena, el envío se completa en un goroutine
// auxiliar: el publicador nunca se bloquea.
func (b *Bus) Publish(topic string, payload interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs[topic] {
		select {
		case sub.ch <- payload:
		default:
			s := sub
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				defer func() { recover() }() // canal cerrado durante el drenaje final
				s.ch <- payload
			}()
		}
	}
}

// Close cierra las colas y espera a que los suscriptores terminen de drenar.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	b.mu.Unlock()
	b.wg.Wait()
}

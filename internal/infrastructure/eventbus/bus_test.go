package eventbus_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yohandry10/erp-sub001/internal/infrastructure/eventbus"
)

func TestPublish_EntregaATodosLosSuscriptoresDelTopic(t *testing.T) {
	bus := eventbus.New(nil)

	var a, b, other int32
	bus.Subscribe("document.issued", "sub-a", func(interface{}) { atomic.AddInt32(&a, 1) })
	bus.Subscribe("document.issued", "sub-b", func(interface{}) { atomic.AddInt32(&b, 1) })
	bus.Subscribe("otro.topic", "sub-c", func(interface{}) { atomic.AddInt32(&other, 1) })

	for i := 0; i < 5; i++ {
		bus.Publish("document.issued", i)
	}
	bus.Close()

	assert.EqualValues(t, 5, atomic.LoadInt32(&a))
	assert.EqualValues(t, 5, atomic.LoadInt32(&b))
	assert.Zero(t, atomic.LoadInt32(&other), "el fan-out respeta el topic")
}

func TestPublish_SuscriptorLentoNoBloqueaAlPublicador(t *testing.T) {
	bus := eventbus.New(nil)

	release := make(chan struct{})
	var processed int32
	bus.Subscribe("t", "lento", func(interface{}) {
		<-release
		atomic.AddInt32(&processed, 1)
	})

	// Más mensajes que la capacidad de la cola del suscriptor
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			bus.Publish("t", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("el publicador quedó bloqueado por un suscriptor lento")
	}

	close(release)
	bus.Close()
	assert.EqualValues(t, 200, atomic.LoadInt32(&processed), "nada se pierde durante la vida del proceso")
}

func TestDispatch_PanicoAisladoPorSuscriptor(t *testing.T) {
	bus := eventbus.New(nil)

	var healthy int32
	bus.Subscribe("t", "panico", func(interface{}) { panic("handler roto") })
	bus.Subscribe("t", "sano", func(interface{}) { atomic.AddInt32(&healthy, 1) })

	bus.Publish("t", 1)
	bus.Publish("t", 2)
	bus.Close()

	assert.EqualValues(t, 2, atomic.LoadInt32(&healthy), "el pánico de un suscriptor no afecta al resto")
}

func TestClose_EsperaElDrenajeYEsIdempotente(t *testing.T) {
	bus := eventbus.New(nil)

	var mu sync.Mutex
	var got []int
	bus.Subscribe("t", "sub", func(p interface{}) {
		time.Sleep(time.Millisecond)
		mu.Lock()
		got = append(got, p.(int))
		mu.Unlock()
	})

	for i := 0; i < 10; i++ {
		bus.Publish("t", i)
	}
	bus.Close()
	bus.Close() // idempotente

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, got, 10, "Close espera a que la cola se drene")
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got, "orden de publicación por suscriptor")
}

func TestPublish_DespuesDeClose_NoEntregaNiPaniquea(t *testing.T) {
	bus := eventbus.New(nil)

	var count int32
	bus.Subscribe("t", "sub", func(interface{}) { atomic.AddInt32(&count, 1) })
	bus.Close()

	bus.Publish("t", 1) // descartado en silencio
	assert.Zero(t, atomic.LoadInt32(&count))
}

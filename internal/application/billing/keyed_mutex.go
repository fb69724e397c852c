package billing

import (
	"sync"

	guuid "github.com/google/uuid"
)

// keyedMutex serializa las transiciones de un mismo documento sin bloquear
// documentos distintos. Las entradas se liberan cuando nadie las sostiene,
// así el mapa no crece con el histórico de documentos.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*lockEntry)}
}

// lock adquiere el candado de key y devuelve la función que lo libera.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// uuid genera el identificador de un documento nuevo.
func uuid() string {
	return guuid.NewString()
}

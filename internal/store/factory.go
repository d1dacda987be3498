package store

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// ErrUnknownKind is returned by OpenKind for a type no opener was registered for.
var ErrUnknownKind = errors.New("unknown store type")

// Opener builds the store for one kind from its configuration.
type Opener func(Config) (Store, error)

var kinds = struct {
	sync.RWMutex
	m map[string]Opener
}{m: map[string]Opener{}}

// RegisterKind makes kind (and its aliases, see NormalizeType) openable.
// Registering a kind twice replaces the opener.
func RegisterKind(kind string, open Opener) {
	kinds.Lock()
	defer kinds.Unlock()
	kinds.m[NormalizeType(kind)] = open
}

// OpenKind opens cfg with the opener registered for cfg.Type.
func OpenKind(cfg Config) (Store, error) {
	kind := NormalizeType(cfg.Type)
	kinds.RLock()
	open, ok := kinds.m[kind]
	kinds.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (supported: %s)", ErrUnknownKind, cfg.Type, strings.Join(Kinds(), ", "))
	}
	return open(cfg)
}

// Kinds lists the registered store types in order.
func Kinds() []string {
	kinds.RLock()
	defer kinds.RUnlock()
	out := make([]string, 0, len(kinds.m))
	for k := range kinds.m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

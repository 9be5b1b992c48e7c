package harness

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/tether/internal/mutation"
)

var (
	errRemoteOffline   = errors.New("remote offline")
	errProviderOffline = errors.New("provider offline")
)

// simRemote is a scripted stand-in for the remote data service. It records
// every call and applies writes only while online.
type simRemote struct {
	mu     sync.Mutex
	online bool
	calls  []RemoteCall
}

func (r *simRemote) setOnline(online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.online = online
}

func (r *simRemote) write(_ context.Context, actorID string, op mutation.Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, RemoteCall{
		Operation: string(op.Type),
		ActorID:   actorID,
		Key:       op.IdempotencyKey,
		Applied:   r.online,
	})
	if !r.online {
		return errRemoteOffline
	}
	return nil
}

func (r *simRemote) snapshot() []RemoteCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RemoteCall, len(r.calls))
	copy(out, r.calls)
	return out
}

// simProvider is a scripted text-generation provider.
type simProvider struct {
	mu     sync.Mutex
	online bool
	calls  int
}

func (p *simProvider) setOnline(online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = online
}

func (p *simProvider) generate(_ context.Context, prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if !p.online {
		return "", errProviderOffline
	}
	return "re: " + prompt, nil
}

func (p *simProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

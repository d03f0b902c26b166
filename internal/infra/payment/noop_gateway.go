package payment

import (
	"context"
	"fmt"
	"sync"

	"marketplace-payments/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*NoopGateway)(nil)

// NoopGateway is a simple in-memory gateway to use in tests and local
// development without Daraja credentials.
type NoopGateway struct {
	mu      sync.Mutex
	seq     int64
	intents map[string]int64 // checkout request id -> amount
}

func NewNoopGateway() *NoopGateway {
	return &NoopGateway{intents: make(map[string]int64)}
}

func (g *NoopGateway) Name() string { return "noop" }

func (g *NoopGateway) Push(ctx context.Context, phone string, amount int64, accountRef, description string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	id := fmt.Sprintf("ws_CO_noop_%d", g.seq)
	g.intents[id] = amount
	return id, nil
}

// Amount reports the amount recorded for a checkout id, for test
// assertions.
func (g *NoopGateway) Amount(checkoutID string) (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	amt, ok := g.intents[checkoutID]
	return amt, ok
}

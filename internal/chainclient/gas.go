package chainclient

import (
	"math/big"
	"sync"
	"time"
)

// gasHistorySize bounds the gas-price ring buffer.
const gasHistorySize = 32

// gasSampleMaxAge is how long a sample stays usable for fee estimation
// before a live call is preferred.
const gasSampleMaxAge = 2 * time.Minute

type gasSample struct {
	price *big.Int
	at    time.Time
}

// GasTracker keeps a bounded ring buffer of sampled gas prices, owned by the
// client it samples for. It replaces the module-level mutable gas cache with
// injected state.
type GasTracker struct {
	mu      sync.Mutex
	samples [gasHistorySize]gasSample
	next    int
	filled  int
}

// Record stores a sampled gas price.
func (g *GasTracker) Record(price *big.Int) {
	if price == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.samples[g.next] = gasSample{price: new(big.Int).Set(price), at: time.Now()}
	g.next = (g.next + 1) % gasHistorySize
	if g.filled < gasHistorySize {
		g.filled++
	}
}

// Latest returns the most recent sample if it is still fresh.
func (g *GasTracker) Latest() (*big.Int, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.filled == 0 {
		return nil, false
	}
	last := g.samples[(g.next+gasHistorySize-1)%gasHistorySize]
	if time.Since(last.at) > gasSampleMaxAge {
		return nil, false
	}
	return new(big.Int).Set(last.price), true
}

// Average returns the mean of the recorded samples, or nil when empty.
func (g *GasTracker) Average() *big.Int {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.filled == 0 {
		return nil
	}
	sum := new(big.Int)
	for i := 0; i < g.filled; i++ {
		sum.Add(sum, g.samples[i].price)
	}
	return sum.Div(sum, big.NewInt(int64(g.filled)))
}

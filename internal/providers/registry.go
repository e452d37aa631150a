package providers

import (
	"fmt"

	clierr "github.com/hopwise/traderoute/internal/errors"
	"github.com/hopwise/traderoute/internal/quote"
)

// The provider identity set is closed: swapper implementations are bound to
// one of these identities at registration time, never discovered dynamically.
const (
	Thorchain quote.ProviderID = "thorchain"
	Chainflip quote.ProviderID = "chainflip"
	Relay     quote.ProviderID = "relay"
	// CowSwap executes via off-chain signed orders rather than broadcast
	// transactions.
	CowSwap quote.ProviderID = "cowswap"
)

// All is the canonical enumeration order. Ranking ties are broken by this
// order, so it must stay deterministic across processes.
var All = []quote.ProviderID{Thorchain, Chainflip, Relay, CowSwap}

func Known(pid quote.ProviderID) bool {
	for _, known := range All {
		if known == pid {
			return true
		}
	}
	return false
}

// Registry binds provider identities to Swapper implementations. Its
// iteration order follows the canonical enumeration, not registration order.
type Registry struct {
	byID map[quote.ProviderID]quote.Swapper
}

func NewRegistry(swappers ...quote.Swapper) (*Registry, error) {
	reg := &Registry{byID: make(map[quote.ProviderID]quote.Swapper, len(swappers))}
	for _, s := range swappers {
		if s == nil {
			return nil, clierr.New(clierr.CodeInternal, "nil swapper registered")
		}
		pid := s.ID()
		if !Known(pid) {
			return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown provider identity %q", pid))
		}
		if _, dup := reg.byID[pid]; dup {
			return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("provider %q registered twice", pid))
		}
		reg.byID[pid] = s
	}
	return reg, nil
}

func (r *Registry) Get(pid quote.ProviderID) (quote.Swapper, bool) {
	s, ok := r.byID[pid]
	return s, ok
}

// Enabled returns registered identities in canonical enumeration order.
func (r *Registry) Enabled() []quote.ProviderID {
	out := make([]quote.ProviderID, 0, len(r.byID))
	for _, pid := range All {
		if _, ok := r.byID[pid]; ok {
			out = append(out, pid)
		}
	}
	return out
}

func (r *Registry) Len() int { return len(r.byID) }

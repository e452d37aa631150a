// Package chains maps protocol families onto the sign/broadcast strategy the
// execution controller uses. The family set is closed: adding one is a
// compile-time change to the dispatch switch.
package chains

import (
	"fmt"

	clierr "github.com/hopwise/traderoute/internal/errors"
	"github.com/hopwise/traderoute/internal/id"
	"github.com/hopwise/traderoute/internal/quote"
)

type Family int

const (
	FamilyEVM Family = iota + 1
	FamilyUTXO
	FamilyCosmos
	// FamilyMessage covers providers that execute via off-chain signed
	// orders: the signed payload goes back to the provider, not a chain.
	FamilyMessage
)

func (f Family) String() string {
	switch f {
	case FamilyEVM:
		return "evm"
	case FamilyUTXO:
		return "utxo"
	case FamilyCosmos:
		return "cosmos"
	case FamilyMessage:
		return "message"
	}
	return fmt.Sprintf("family(%d)", int(f))
}

// FamilyForHop resolves which strategy executes the hop. Off-chain signed
// orders take precedence over the chain's own namespace.
func FamilyForHop(hop quote.Hop) (Family, error) {
	if hop.UsesSignedMessage {
		return FamilyMessage, nil
	}
	chain, ok := id.ChainByCAIP2(hop.SellAsset.ChainID)
	if !ok {
		return 0, clierr.New(clierr.CodeUnsupportedChain, fmt.Sprintf("unknown chain %s", hop.SellAsset.ChainID))
	}
	switch chain.Namespace() {
	case id.NamespaceEVM:
		return FamilyEVM, nil
	case id.NamespaceUTXO:
		return FamilyUTXO, nil
	case id.NamespaceCosmos:
		return FamilyCosmos, nil
	}
	return 0, clierr.New(clierr.CodeUnsupportedChain, fmt.Sprintf("chain namespace %q has no adapter", chain.Namespace()))
}

// Adapter builds the chain-native sign request from a hop's generic
// transaction request.
type Adapter interface {
	Family() Family
	Prepare(hop quote.Hop, from string) (SignRequest, error)
}

// Dispatch selects the adapter for a family. An unrecognized family is a
// fatal configuration error, never a silent no-op.
func Dispatch(family Family) (Adapter, error) {
	switch family {
	case FamilyEVM:
		return evmAdapter{}, nil
	case FamilyUTXO:
		return utxoAdapter{}, nil
	case FamilyCosmos:
		return cosmosAdapter{}, nil
	case FamilyMessage:
		return messageAdapter{}, nil
	default:
		return nil, clierr.New(clierr.CodeInternal, fmt.Sprintf("no adapter for chain family %s", family))
	}
}

package chains

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/hopwise/traderoute/internal/errors"
	"github.com/hopwise/traderoute/internal/id"
	"github.com/hopwise/traderoute/internal/quote"
)

func hopChain(hop quote.Hop) (id.Chain, error) {
	chain, ok := id.ChainByCAIP2(hop.SellAsset.ChainID)
	if !ok {
		return id.Chain{}, clierr.New(clierr.CodeUnsupportedChain, fmt.Sprintf("unknown chain %s", hop.SellAsset.ChainID))
	}
	return chain, nil
}

type evmAdapter struct{}

func (evmAdapter) Family() Family { return FamilyEVM }

func (evmAdapter) Prepare(hop quote.Hop, from string) (SignRequest, error) {
	chain, err := hopChain(hop)
	if err != nil {
		return SignRequest{}, err
	}
	if !common.IsHexAddress(hop.Tx.To) {
		return SignRequest{}, clierr.New(clierr.CodeQuoteValidation, fmt.Sprintf("hop target %q is not an EVM address", hop.Tx.To))
	}
	if !common.IsHexAddress(from) {
		return SignRequest{}, clierr.New(clierr.CodeSigner, fmt.Sprintf("derived address %q is not an EVM address", from))
	}
	tx := hop.Tx
	return SignRequest{
		Family:        FamilyEVM,
		Chain:         chain,
		AccountNumber: hop.AccountNumber,
		From:          from,
		Tx:            &tx,
	}, nil
}

type utxoAdapter struct{}

func (utxoAdapter) Family() Family { return FamilyUTXO }

func (utxoAdapter) Prepare(hop quote.Hop, from string) (SignRequest, error) {
	chain, err := hopChain(hop)
	if err != nil {
		return SignRequest{}, err
	}
	if hop.Tx.To == "" {
		return SignRequest{}, clierr.New(clierr.CodeQuoteValidation, "hop is missing a deposit address")
	}
	if hop.Tx.Value == nil || hop.Tx.Value.Sign() <= 0 {
		return SignRequest{}, clierr.New(clierr.CodeQuoteValidation, "utxo hop requires a positive output value")
	}
	tx := hop.Tx
	return SignRequest{
		Family:        FamilyUTXO,
		Chain:         chain,
		AccountNumber: hop.AccountNumber,
		From:          from,
		Tx:            &tx,
	}, nil
}

type cosmosAdapter struct{}

func (cosmosAdapter) Family() Family { return FamilyCosmos }

func (cosmosAdapter) Prepare(hop quote.Hop, from string) (SignRequest, error) {
	chain, err := hopChain(hop)
	if err != nil {
		return SignRequest{}, err
	}
	if hop.Tx.To == "" && hop.Tx.Memo == "" {
		return SignRequest{}, clierr.New(clierr.CodeQuoteValidation, "cosmos hop requires a recipient or a memo")
	}
	tx := hop.Tx
	return SignRequest{
		Family:        FamilyCosmos,
		Chain:         chain,
		AccountNumber: hop.AccountNumber,
		From:          from,
		Tx:            &tx,
	}, nil
}

type messageAdapter struct{}

func (messageAdapter) Family() Family { return FamilyMessage }

func (messageAdapter) Prepare(hop quote.Hop, from string) (SignRequest, error) {
	chain, err := hopChain(hop)
	if err != nil {
		return SignRequest{}, err
	}
	if len(hop.Tx.Data) == 0 {
		return SignRequest{}, clierr.New(clierr.CodeQuoteValidation, "signed-order hop is missing its order payload")
	}
	return SignRequest{
		Family:        FamilyMessage,
		Chain:         chain,
		AccountNumber: hop.AccountNumber,
		From:          from,
		Message:       append([]byte(nil), hop.Tx.Data...),
	}, nil
}

// Package wallet provides a reference implementation of the chains.Wallet
// capability: an HD wallet derived from a mnemonic, able to sign and
// broadcast on EVM chains and sign off-chain order payloads. Hosts with
// hardware or remote wallets inject their own implementation instead; the
// engine never depends on this one.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	"github.com/hopwise/traderoute/internal/chains"
	clierr "github.com/hopwise/traderoute/internal/errors"
	"github.com/hopwise/traderoute/internal/id"
)

type Local struct {
	mnemonic string
	// rpc maps CAIP-2 chain ids to RPC endpoints for nonce/fee reads and
	// broadcast.
	rpc map[string]string
}

func NewLocal(mnemonic string, rpcEndpoints map[string]string) (*Local, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, clierr.New(clierr.CodeSigner, "invalid mnemonic")
	}
	rpc := make(map[string]string, len(rpcEndpoints))
	for chainID, endpoint := range rpcEndpoints {
		rpc[chainID] = endpoint
	}
	return &Local{mnemonic: mnemonic, rpc: rpc}, nil
}

// deriveKey derives the ECDSA key at m/44'/{coinType}'/0'/0/{account}.
func (w *Local) deriveKey(coinType, account uint32) (*ecdsa.PrivateKey, error) {
	seed := bip39.NewSeed(w.mnemonic, "")
	masterKey, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "create master key", err)
	}
	purpose, err := masterKey.NewChildKey(bip32.FirstHardenedChild + 44)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "derive purpose", err)
	}
	coin, err := purpose.NewChildKey(bip32.FirstHardenedChild + coinType)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "derive coin type", err)
	}
	acct, err := coin.NewChildKey(bip32.FirstHardenedChild + 0)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "derive account", err)
	}
	change, err := acct.NewChildKey(0)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "derive change", err)
	}
	child, err := change.NewChildKey(account)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, fmt.Sprintf("derive child %d", account), err)
	}
	key, err := crypto.ToECDSA(child.Key)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "convert to ECDSA", err)
	}
	return key, nil
}

func (w *Local) DeriveAddress(ctx context.Context, chain id.Chain, accountNumber uint32) (string, error) {
	if !chain.IsEVM() {
		return "", clierr.New(clierr.CodeUnsupported, fmt.Sprintf("local wallet cannot derive %s addresses; inject a full wallet capability", chain.Namespace()))
	}
	key, err := w.deriveKey(chain.CoinType, accountNumber)
	if err != nil {
		return "", err
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

func (w *Local) Sign(ctx context.Context, req chains.SignRequest) (chains.SignedPayload, error) {
	switch req.Family {
	case chains.FamilyEVM:
		return w.signEVMTx(ctx, req)
	case chains.FamilyMessage:
		return w.signMessage(req)
	default:
		return chains.SignedPayload{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("local wallet cannot sign for chain family %s", req.Family))
	}
}

func (w *Local) signEVMTx(ctx context.Context, req chains.SignRequest) (chains.SignedPayload, error) {
	if req.Tx == nil {
		return chains.SignedPayload{}, clierr.New(clierr.CodeSigner, "sign request has no transaction")
	}
	endpoint, ok := w.rpc[req.Chain.CAIP2]
	if !ok {
		return chains.SignedPayload{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("no rpc endpoint configured for %s", req.Chain.Slug))
	}
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return chains.SignedPayload{}, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	defer client.Close()

	key, err := w.deriveKey(req.Chain.CoinType, req.AccountNumber)
	if err != nil {
		return chains.SignedPayload{}, err
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return chains.SignedPayload{}, clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}
	tipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		tipCap = big.NewInt(2_000_000_000) // 2 gwei fallback
	}
	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return chains.SignedPayload{}, clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)

	to := common.HexToAddress(req.Tx.To)
	value := req.Tx.Value
	if value == nil {
		value = big.NewInt(0)
	}
	gasLimit := req.Tx.GasLimit
	if gasLimit == 0 {
		gasLimit = 21000
		if len(req.Tx.Data) > 0 {
			gasLimit = 250000
		}
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(req.Chain.EVMChainID),
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      req.Tx.Data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(req.Chain.EVMChainID)), key)
	if err != nil {
		return chains.SignedPayload{}, clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return chains.SignedPayload{}, clierr.Wrap(clierr.CodeSigner, "encode signed transaction", err)
	}
	return chains.SignedPayload{Raw: raw, TxHash: signed.Hash().Hex()}, nil
}

func (w *Local) signMessage(req chains.SignRequest) (chains.SignedPayload, error) {
	if len(req.Message) == 0 {
		return chains.SignedPayload{}, clierr.New(clierr.CodeSigner, "sign request has no message")
	}
	key, err := w.deriveKey(req.Chain.CoinType, req.AccountNumber)
	if err != nil {
		return chains.SignedPayload{}, err
	}
	sig, err := crypto.Sign(accounts.TextHash(req.Message), key)
	if err != nil {
		return chains.SignedPayload{}, clierr.Wrap(clierr.CodeSigner, "sign message", err)
	}
	return chains.SignedPayload{Raw: sig}, nil
}

func (w *Local) Broadcast(ctx context.Context, chain id.Chain, payload chains.SignedPayload) (string, error) {
	if !chain.IsEVM() {
		return "", clierr.New(clierr.CodeUnsupported, fmt.Sprintf("local wallet cannot broadcast on %s chains", chain.Namespace()))
	}
	endpoint, ok := w.rpc[chain.CAIP2]
	if !ok {
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("no rpc endpoint configured for %s", chain.Slug))
	}
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	defer client.Close()

	var tx types.Transaction
	if err := tx.UnmarshalBinary(payload.Raw); err != nil {
		return "", clierr.Wrap(clierr.CodeBroadcast, "decode signed transaction", err)
	}
	if err := client.SendTransaction(ctx, &tx); err != nil {
		return "", clierr.Wrap(clierr.CodeBroadcast, "broadcast transaction", err)
	}
	return tx.Hash().Hex(), nil
}

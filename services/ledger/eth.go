package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// RegistryABI is the attestation contract interface. Reports are committed
// by keccak256 digest, not stored on chain.
const RegistryABI = `[
  {"type":"function","name":"submitScan","stateMutability":"nonpayable",
   "inputs":[{"name":"target","type":"string"},{"name":"codeHash","type":"bytes32"},{"name":"score","type":"uint8"},{"name":"reportHash","type":"bytes32"},{"name":"modelVersion","type":"string"}],
   "outputs":[]},
  {"type":"function","name":"getScan","stateMutability":"view",
   "inputs":[{"name":"target","type":"string"}],
   "outputs":[{"name":"codeHash","type":"bytes32"},{"name":"score","type":"uint8"},{"name":"reportHash","type":"bytes32"},{"name":"modelVersion","type":"string"},{"name":"timestamp","type":"uint64"},{"name":"exists","type":"bool"}]},
  {"type":"function","name":"isVerified","stateMutability":"view",
   "inputs":[{"name":"target","type":"string"}],
   "outputs":[{"name":"","type":"bool"}]}
]`

const defaultGasLimit = 500000

// Backend is the subset of ethclient.Client used by EthLedger.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// EthLedger writes attestations to an EVM registry contract.
type EthLedger struct {
	backend      Backend
	abi          abi.ABI
	contract     common.Address
	key          *ecdsa.PrivateKey
	from         common.Address
	chainID      *big.Int
	pollInterval time.Duration
}

// DialEthLedger connects to rpcURL and binds the registry at contract.
func DialEthLedger(ctx context.Context, rpcURL, privateKeyHex, contract string) (*EthLedger, error) {
	if rpcURL == "" || privateKeyHex == "" || contract == "" {
		return nil, errors.New("eth ledger requires rpc url, private key and contract address")
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	l, err := NewEthLedger(ctx, client, privateKeyHex, contract)
	if err != nil {
		client.Close()
		return nil, err
	}
	return l, nil
}

// NewEthLedger binds the registry at contract over backend.
func NewEthLedger(ctx context.Context, backend Backend, privateKeyHex, contract string) (*EthLedger, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("invalid contract address %q", contract)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(RegistryABI))
	if err != nil {
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	return &EthLedger{
		backend:      backend,
		abi:          parsed,
		contract:     common.HexToAddress(contract),
		key:          key,
		from:         crypto.PubkeyToAddress(key.PublicKey),
		chainID:      chainID,
		pollInterval: time.Second,
	}, nil
}

// From returns the signing account.
func (l *EthLedger) From() common.Address { return l.from }

func (l *EthLedger) SubmitScan(ctx context.Context, req SubmitRequest) (*Receipt, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	data, err := l.abi.Pack("submitScan",
		key(req.Target),
		hashArg(req.CodeHash),
		uint8(req.SecurityScore),
		crypto.Keccak256Hash(req.Report),
		req.ModelVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("pack submitScan: %w", err)
	}

	nonce, err := l.backend.PendingNonceAt(ctx, l.from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := l.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	gas, err := l.backend.EstimateGas(ctx, ethereum.CallMsg{From: l.from, To: &l.contract, Data: data})
	if err != nil || gas == 0 {
		gas = defaultGasLimit
	} else {
		gas += gas / 5
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &l.contract,
		Value:    big.NewInt(0),
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(l.chainID), l.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := l.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send tx: %w", err)
	}

	rec, err := l.waitMined(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}
	if rec.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("attestation tx %s reverted", signed.Hash().Hex())
	}
	out := &Receipt{TransactionHash: signed.Hash().Hex()}
	if rec.BlockNumber != nil {
		out.BlockNumber = rec.BlockNumber.Uint64()
	}
	return out, nil
}

func (l *EthLedger) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()
	for {
		rec, err := l.backend.TransactionReceipt(ctx, hash)
		if err == nil && rec != nil {
			return rec, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for tx %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *EthLedger) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := l.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := l.backend.CallContract(ctx, ethereum.CallMsg{From: l.from, To: &l.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := l.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func (l *EthLedger) QueryScan(ctx context.Context, target string) (*AttestedRecord, error) {
	values, err := l.call(ctx, "getScan", key(target))
	if err != nil {
		return nil, err
	}
	if len(values) != 6 {
		return nil, fmt.Errorf("getScan returned %d values", len(values))
	}
	codeHash, ok1 := values[0].([32]byte)
	score, ok2 := values[1].(uint8)
	reportHash, ok3 := values[2].([32]byte)
	model, ok4 := values[3].(string)
	ts, ok5 := values[4].(uint64)
	exists, ok6 := values[5].(bool)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
		return nil, errors.New("getScan returned unexpected types")
	}
	if !exists {
		return nil, nil
	}
	return &AttestedRecord{
		Target:        key(target),
		CodeHash:      common.Hash(codeHash).Hex(),
		SecurityScore: int(score),
		ReportHash:    common.Hash(reportHash).Hex(),
		ModelVersion:  model,
		AttestedAt:    time.Unix(int64(ts), 0).UTC(),
	}, nil
}

func (l *EthLedger) VerifyContract(ctx context.Context, target string) (bool, error) {
	values, err := l.call(ctx, "isVerified", key(target))
	if err != nil {
		return false, err
	}
	if len(values) != 1 {
		return false, fmt.Errorf("isVerified returned %d values", len(values))
	}
	ok, isBool := values[0].(bool)
	if !isBool {
		return false, errors.New("isVerified returned a non-bool")
	}
	return ok, nil
}

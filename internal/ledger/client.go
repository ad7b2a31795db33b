// Package ledger wraps the MegaRally tournament contract. Reads are plain
// eth_call lookups; writes build, sign, and send operator transactions. The
// client performs no ordering of its own: all writes are expected to arrive
// one at a time through the sequencer.
package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"cosmossdk.io/log"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Tournament is the on-chain tournament record.
type Tournament struct {
	EndTime   *big.Int
	Ended     bool
	PrizePool *big.Int
}

// Exists reports whether the record is populated. The contract returns a
// zero struct for unknown ids; a real tournament always has an end time.
func (t Tournament) Exists() bool {
	return t.EndTime != nil && t.EndTime.Sign() > 0
}

// Expired reports whether the tournament is past its end time.
func (t Tournament) Expired(now time.Time) bool {
	return t.EndTime != nil && t.EndTime.Cmp(big.NewInt(now.Unix())) <= 0
}

// Entry is a player's on-chain entry in one tournament.
type Entry struct {
	Tickets      *big.Int
	AttemptsUsed *big.Int
}

type Client struct {
	eth      *ethclient.Client
	abi      abi.ABI
	contract common.Address
	signer   types.Signer
	key      *ecdsa.PrivateKey
	operator common.Address
	chainID  *big.Int
	logger   log.Logger
}

// Dial connects to the ledger RPC endpoint and binds the operator signing
// key. keyHex is the operator's hex-encoded secp256k1 private key; a missing
// or malformed key is a startup-fatal misconfiguration.
func Dial(ctx context.Context, rpcURL string, contract common.Address, keyHex string, chainID *big.Int, logger log.Logger) (*Client, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(tournamentABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc %s: %w", rpcURL, err)
	}
	return &Client{
		eth:      eth,
		abi:      parsed,
		contract: contract,
		signer:   types.NewLondonSigner(chainID),
		key:      key,
		operator: crypto.PubkeyToAddress(key.PublicKey),
		chainID:  chainID,
		logger:   logger.With("module", "ledger"),
	}, nil
}

// Operator is the relay's signing identity on the ledger.
func (c *Client) Operator() common.Address {
	return c.operator
}

func (c *Client) Close() {
	if c.eth != nil {
		c.eth.Close()
	}
}

// ---- Reads ----

func (c *Client) TournamentCount(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, "tournamentCount")
	if err != nil {
		return 0, err
	}
	n, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("tournamentCount: unexpected output %T", out[0])
	}
	return n.Uint64(), nil
}

func (c *Client) Tournament(ctx context.Context, id uint64) (Tournament, error) {
	out, err := c.call(ctx, "tournaments", new(big.Int).SetUint64(id))
	if err != nil {
		return Tournament{}, err
	}
	if len(out) != 3 {
		return Tournament{}, fmt.Errorf("tournaments: want 3 outputs, got %d", len(out))
	}
	return Tournament{
		EndTime:   out[0].(*big.Int),
		Ended:     out[1].(bool),
		PrizePool: out[2].(*big.Int),
	}, nil
}

func (c *Client) Entry(ctx context.Context, id uint64, player common.Address) (Entry, error) {
	out, err := c.call(ctx, "entries", new(big.Int).SetUint64(id), player)
	if err != nil {
		return Entry{}, err
	}
	if len(out) != 2 {
		return Entry{}, fmt.Errorf("entries: want 2 outputs, got %d", len(out))
	}
	return Entry{
		Tickets:      out[0].(*big.Int),
		AttemptsUsed: out[1].(*big.Int),
	}, nil
}

func (c *Client) AttemptsPerTicket(ctx context.Context) (*big.Int, error) {
	out, err := c.call(ctx, "attemptsPerTicket")
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func (c *Client) PendingFees(ctx context.Context, operator common.Address) (*big.Int, error) {
	out, err := c.call(ctx, "pendingFees", operator)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// OperatorBalance is the operator account's native funding balance, which
// pays transaction costs for every relay write.
func (c *Client) OperatorBalance(ctx context.Context) (*big.Int, error) {
	return c.eth.BalanceAt(ctx, c.operator, nil)
}

func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	res, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := c.abi.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

// ---- Writes ----

// StartAttempt and RecordObstacle are fire-and-forget relative to the
// player: the unit settles once the transaction is in the mempool, so the
// sequencer can report promptly and gameplay latency stays low.

func (c *Client) StartAttempt(ctx context.Context, id uint64, player common.Address) (common.Hash, error) {
	return c.send(ctx, "startAttempt", new(big.Int).SetUint64(id), player)
}

func (c *Client) RecordObstacle(ctx context.Context, id uint64, player common.Address, obstacleID uint64) (common.Hash, error) {
	return c.send(ctx, "recordObstacle", new(big.Int).SetUint64(id), player, new(big.Int).SetUint64(obstacleID))
}

// SubmitScore waits for inclusion: the player is told their run is recorded
// only once the ledger actually has it.
func (c *Client) SubmitScore(ctx context.Context, id uint64, player common.Address, score int64) (common.Hash, error) {
	return c.sendAndWait(ctx, "submitScore", new(big.Int).SetUint64(id), player, big.NewInt(score))
}

func (c *Client) FinalizeTournament(ctx context.Context, id uint64) (common.Hash, error) {
	return c.sendAndWait(ctx, "finalizeTournament", new(big.Int).SetUint64(id))
}

func (c *Client) ClaimFees(ctx context.Context) (common.Hash, error) {
	return c.sendAndWait(ctx, "claimFees")
}

func (c *Client) send(ctx context.Context, method string, args ...any) (common.Hash, error) {
	tx, err := c.transact(ctx, method, args...)
	if err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

func (c *Client) sendAndWait(ctx context.Context, method string, args ...any) (common.Hash, error) {
	tx, err := c.transact(ctx, method, args...)
	if err != nil {
		return common.Hash{}, err
	}
	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return tx.Hash(), fmt.Errorf("wait %s %s: %w", method, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return tx.Hash(), fmt.Errorf("%s %s: reverted", method, tx.Hash().Hex())
	}
	return tx.Hash(), nil
}

func (c *Client) transact(ctx context.Context, method string, args ...any) (*types.Transaction, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	nonce, err := c.eth.PendingNonceAt(ctx, c.operator)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{From: c.operator, To: &c.contract, Data: data})
	if err != nil {
		return nil, fmt.Errorf("estimate gas for %s: %w", method, err)
	}

	tx, err := c.buildTx(ctx, nonce, gas, data)
	if err != nil {
		return nil, err
	}
	signed, err := types.SignTx(tx, c.signer, c.key)
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", method, err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}
	c.logger.Debug("sent tx", "method", method, "tx", signed.Hash().Hex(), "nonce", nonce)
	return signed, nil
}

// buildTx prefers EIP-1559 dynamic-fee transactions and falls back to legacy
// pricing on chains whose head carries no base fee.
func (c *Client) buildTx(ctx context.Context, nonce, gas uint64, data []byte) (*types.Transaction, error) {
	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("head: %w", err)
	}
	if head.BaseFee == nil {
		gasPrice, err := c.eth.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("suggest gas price: %w", err)
		}
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gas,
			To:       &c.contract,
			Data:     data,
		}), nil
	}

	tip, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas tip: %w", err)
	}
	feeCap := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &c.contract,
		Data:      data,
	}), nil
}

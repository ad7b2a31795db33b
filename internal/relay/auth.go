package relay

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ServiceName is embedded in the signed challenge so a signature produced
// for this relay cannot be replayed against another service.
const ServiceName = "Mega Rally"

// nonceBytes gives 128 bits of entropy per challenge.
const nonceBytes = 16

// ChallengeMessage is the exact text the wallet signs (EIP-191 personal
// message) to prove control of an address.
func ChallengeMessage(nonce string) string {
	return fmt.Sprintf("%s auth: %s", ServiceName, nonce)
}

// authSession binds a transport connection to a verified player identity.
// One per connection; the nonce is valid for exactly one verification
// attempt, successful or not. A failed attempt forces a reconnect for a
// fresh challenge.
type authSession struct {
	mtx           sync.Mutex
	nonce         string
	authenticated bool
	player        common.Address
}

func newAuthSession() (*authSession, error) {
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("issue nonce: %w", err)
	}
	return &authSession{nonce: hex.EncodeToString(buf)}, nil
}

// Nonce returns the outstanding challenge nonce, empty once consumed.
func (a *authSession) Nonce() string {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return a.nonce
}

// Player returns the bound identity and whether the session is
// authenticated.
func (a *authSession) Player() (common.Address, bool) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return a.player, a.authenticated
}

// Verify checks a wallet signature over the challenge message and, on
// success, binds the connection to the claimed address. The nonce is
// consumed by the signature check regardless of outcome.
func (a *authSession) Verify(address, signature string) (common.Address, error) {
	if !common.IsHexAddress(address) || signature == "" {
		return common.Address{}, ErrInvalidAuthData.Wrapf("address %q", address)
	}
	claimed := common.HexToAddress(address)

	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrInvalidAuthData.Wrap("signature must be 65 hex bytes")
	}

	a.mtx.Lock()
	nonce := a.nonce
	a.nonce = ""
	a.mtx.Unlock()
	if nonce == "" {
		return common.Address{}, ErrNoPendingChallenge
	}

	// Wallets produce V as 27/28; SigToPub wants 0/1.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	hash := accounts.TextHash([]byte(ChallengeMessage(nonce)))
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, ErrSignatureMismatch.Wrap(err.Error())
	}
	recovered := crypto.PubkeyToAddress(*pub)
	if recovered != claimed {
		return common.Address{}, ErrSignatureMismatch.Wrapf("recovered %s", strings.ToLower(recovered.Hex()))
	}

	a.mtx.Lock()
	a.player = claimed
	a.authenticated = true
	a.mtx.Unlock()
	return claimed, nil
}

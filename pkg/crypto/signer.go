package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/execution"
)

// Signer holds the secp256k1 key that pays for and signs venue transactions.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// GenerateKey creates a signer with a fresh random key.
func GenerateKey() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return newSigner(key), nil
}

// FromPrivateKeyHex accepts "0x1234..." or "1234..." (64 hex chars).
func FromPrivateKeyHex(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return newSigner(key), nil
}

func newSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{privateKey: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func (s *Signer) Address() common.Address { return s.address }

// PrivateKeyHex returns the key without 0x prefix. Never log it.
func (s *Signer) PrivateKeyHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSA(s.privateKey))
}

// Sign signs a 32-byte digest and returns [R || S || V], V in {0, 1}.
func (s *Signer) Sign(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	sig, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return sig, nil
}

// SignedTransaction is what goes over the wire to the venue.
type SignedTransaction struct {
	Payload   hexutil.Bytes `json:"payload"`
	Digest    common.Hash   `json:"digest"`
	Signature hexutil.Bytes `json:"signature"`
	Signer    string        `json:"signer"`
}

// TransactionDigest is keccak256 over the canonical transaction encoding.
func TransactionDigest(tx *execution.Transaction) (common.Hash, []byte, error) {
	payload, err := tx.Encode()
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("encode transaction: %w", err)
	}
	return crypto.Keccak256Hash(payload), payload, nil
}

func (s *Signer) SignTransaction(tx *execution.Transaction) (SignedTransaction, error) {
	if tx.Payer == "" {
		tx.Payer = s.address.Hex()
	}
	digest, payload, err := TransactionDigest(tx)
	if err != nil {
		return SignedTransaction{}, err
	}
	sig, err := s.Sign(digest.Bytes())
	if err != nil {
		return SignedTransaction{}, err
	}
	return SignedTransaction{
		Payload:   payload,
		Digest:    digest,
		Signature: sig,
		Signer:    s.address.Hex(),
	}, nil
}

// RecoverAddress returns the address that produced signature over digest.
func RecoverAddress(digest, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}
	if len(digest) != 32 {
		return common.Address{}, fmt.Errorf("invalid digest length: %d", len(digest))
	}
	pub, err := crypto.SigToPub(digest, signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify checks that st was signed by its claimed signer over its payload.
func Verify(st SignedTransaction) bool {
	if crypto.Keccak256Hash(st.Payload) != st.Digest {
		return false
	}
	addr, err := RecoverAddress(st.Digest.Bytes(), st.Signature)
	if err != nil {
		return false
	}
	return addr == common.HexToAddress(st.Signer)
}

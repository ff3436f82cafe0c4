package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer holds the executor's secp256k1 key. It signs report digests and
// hands the key to the transaction sender.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the checksummed executor address.
func (s *Signer) Address() string {
	return s.address.Hex()
}

// EthAddress returns the executor address.
func (s *Signer) EthAddress() common.Address {
	return s.address
}

// PrivateKey exposes the key for transaction signing.
func (s *Signer) PrivateKey() *ecdsa.PrivateKey {
	return s.privateKey
}

// SignDigest signs a 32-byte digest and returns r || s || v with v in {27,28}.
func (s *Signer) SignDigest(digest [32]byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(digest[:], s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// go-ethereum returns v in {0,1}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// RecoverSigner returns the address that produced sig over digest.
func RecoverSigner(digest [32]byte, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: signature must be 65 bytes, got %d", len(sig))
	}
	normalized := append([]byte(nil), sig...)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest[:], normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

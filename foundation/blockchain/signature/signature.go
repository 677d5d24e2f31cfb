// Package signature provides helper functions for handling the blockchain
// signature needs.
package signature

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/json"
	"errors"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ZeroHash represents a hash code of zeros.
const ZeroHash string = "0x0000000000000000000000000000000000000000000000000000000000000000"

// =============================================================================

// Hash returns a unique string for the value.
func Hash(value any) string {
	data, err := json.Marshal(value)
	if err != nil {
		return ZeroHash
	}

	hash := sha256.Sum256(data)
	return hexutil.Encode(hash[:])
}

// GenerateKeyPair constructs a new private key for signing transactions.
func GenerateKeyPair() (*ecdsa.PrivateKey, error) {
	return crypto.GenerateKey()
}

// Address derives the account address from the specified public key. The
// derived form is the only legal identity for an output owner; a caller
// supplied address is never trusted.
func Address(pub *ecdsa.PublicKey) string {
	return crypto.PubkeyToAddress(*pub).String()
}

// PublicKeyBytes returns the serialized public key for embedding into a
// transaction input.
func PublicKeyBytes(pub *ecdsa.PublicKey) []byte {
	return crypto.FromECDSAPub(pub)
}

// ToPublicKey converts serialized public key bytes back to a key value.
func ToPublicKey(data []byte) (*ecdsa.PublicKey, error) {
	return crypto.UnmarshalPubkey(data)
}

// Sign uses the specified private key to sign the value. The resulting
// signature is in the 65 byte [R || S || V] format.
func Sign(value any, privateKey *ecdsa.PrivateKey) ([]byte, error) {
	data, err := stamp(value)
	if err != nil {
		return nil, err
	}

	sig, err := crypto.Sign(data, privateKey)
	if err != nil {
		return nil, err
	}

	// Check the public key extracted from the data and the signature.
	publicKey, err := crypto.SigToPub(data, sig)
	if err != nil {
		return nil, err
	}

	rs := sig[:crypto.RecoveryIDOffset]
	if !crypto.VerifySignature(crypto.FromECDSAPub(publicKey), data, rs) {
		return nil, errors.New("invalid signature")
	}

	return sig, nil
}

// Verify checks the signature was produced over the value by the private key
// associated with the specified public key.
func Verify(value any, sig []byte, pub *ecdsa.PublicKey) error {
	if len(sig) < crypto.RecoveryIDOffset {
		return errors.New("invalid signature length")
	}

	data, err := stamp(value)
	if err != nil {
		return err
	}

	rs := sig[:crypto.RecoveryIDOffset]
	if !crypto.VerifySignature(crypto.FromECDSAPub(pub), data, rs) {
		return errors.New("signature does not verify")
	}

	return nil
}

// SignatureString returns the signature as a hex string.
func SignatureString(sig []byte) string {
	return hexutil.Encode(sig)
}

// =============================================================================

// stamp returns a hash of 32 bytes that represents this value with the
// Orecoin stamp embedded into the final hash.
func stamp(value any) ([]byte, error) {
	v, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	// Hash the data into a 32 byte array for length consistency.
	txHash := crypto.Keccak256(v)

	// This stamp keeps signatures produced for this blockchain from being
	// valid on any other chain.
	stamp := []byte("\x19Orecoin Signed Message:\n32")

	return crypto.Keccak256(stamp, txHash), nil
}

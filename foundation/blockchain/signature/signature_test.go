package signature_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/orecoin/orecoin/foundation/blockchain/signature"
)

const (
	pkHexKey = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	from     = "0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4"
)

// =============================================================================

func Test_Signing(t *testing.T) {
	value := struct {
		Name string
	}{
		Name: "Bill",
	}

	pk, err := crypto.HexToECDSA(pkHexKey)
	if err != nil {
		t.Fatalf("Should be able to generate a private key: %s", err)
	}

	sig, err := signature.Sign(value, pk)
	if err != nil {
		t.Fatalf("Should be able to sign data: %s", err)
	}

	if err := signature.Verify(value, sig, &pk.PublicKey); err != nil {
		t.Fatalf("Should be able to verify the signature: %s", err)
	}

	if addr := signature.Address(&pk.PublicKey); addr != from {
		t.Logf("got: %s", addr)
		t.Logf("exp: %s", from)
		t.Fatalf("Should get back the right address.")
	}
}

func Test_Hash(t *testing.T) {
	value := struct {
		Name string
	}{
		Name: "Bill",
	}
	hash := "0x0f6887ac85101d6d6425a617edf35bd721b5f619fb92c36c3d2224e3bdb0ee5a"

	h := signature.Hash(value)
	if h != hash {
		t.Logf("got: %s", h)
		t.Logf("exp: %s", hash)
		t.Fatalf("Should get back the right hash: %s", h[:6])
	}

	h = signature.Hash(value)
	if h != hash {
		t.Logf("got: %s", h)
		t.Logf("exp: %s", hash)
		t.Fatalf("Should get back the same hash twice.")
	}
}

func Test_VerifyWrongKey(t *testing.T) {
	value := struct {
		Name string
	}{
		Name: "Bill",
	}

	pk, err := crypto.HexToECDSA(pkHexKey)
	if err != nil {
		t.Fatalf("Should be able to generate a private key: %s", err)
	}

	other, err := signature.GenerateKeyPair()
	if err != nil {
		t.Fatalf("Should be able to generate a second key: %s", err)
	}

	sig, err := signature.Sign(value, pk)
	if err != nil {
		t.Fatalf("Should be able to sign data: %s", err)
	}

	if err := signature.Verify(value, sig, &other.PublicKey); err == nil {
		t.Fatalf("Should not verify against a different public key.")
	}
}

func Test_PublicKeyRoundTrip(t *testing.T) {
	pk, err := crypto.HexToECDSA(pkHexKey)
	if err != nil {
		t.Fatalf("Should be able to generate a private key: %s", err)
	}

	data := signature.PublicKeyBytes(&pk.PublicKey)

	pub, err := signature.ToPublicKey(data)
	if err != nil {
		t.Fatalf("Should be able to parse serialized public key: %s", err)
	}

	if got, exp := signature.Address(pub), signature.Address(&pk.PublicKey); got != exp {
		t.Logf("got: %s", got)
		t.Logf("exp: %s", exp)
		t.Fatalf("Should derive the same address after a round trip.")
	}
}

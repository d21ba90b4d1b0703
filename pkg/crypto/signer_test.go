package crypto

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/execution"
	"github.com/alexlomt/tradingbot-sub000/pkg/app/core/orderbook"
)

func buildTx(t *testing.T, payer string) *execution.Transaction {
	t.Helper()
	tx, err := execution.NewBuilder(payer).Build(execution.TradeContext{
		Pair:          "SOL-USDC",
		Side:          orderbook.Buy,
		Amount:        decimal.NewFromInt(1),
		ExpectedPrice: decimal.NewFromInt(100),
	}, execution.Config{PriorityFee: 1000})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return tx
}

func TestFromPrivateKeyHex(t *testing.T) {
	s1, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if s1.Address() == (common.Address{}) {
		t.Fatal("generated zero address")
	}
	if len(s1.PrivateKeyHex()) != 64 {
		t.Errorf("private key hex length = %d, want 64", len(s1.PrivateKeyHex()))
	}

	for _, in := range []string{s1.PrivateKeyHex(), "0x" + s1.PrivateKeyHex()} {
		s2, err := FromPrivateKeyHex(in)
		if err != nil {
			t.Fatalf("load %q: %v", in, err)
		}
		if s2.Address() != s1.Address() {
			t.Errorf("address = %s, want %s", s2.Address().Hex(), s1.Address().Hex())
		}
	}

	if _, err := FromPrivateKeyHex("not-hex"); err == nil {
		t.Error("expected error for malformed key")
	}
}

func TestSignTransactionVerifies(t *testing.T) {
	s, _ := GenerateKey()
	tx := buildTx(t, "")

	st, err := s.SignTransaction(tx)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if tx.Payer != s.Address().Hex() {
		t.Errorf("payer = %s, want signer address", tx.Payer)
	}
	if !Verify(st) {
		t.Fatal("signed transaction does not verify")
	}

	addr, err := RecoverAddress(st.Digest.Bytes(), st.Signature)
	if err != nil || addr != s.Address() {
		t.Errorf("recovered %s (%v), want %s", addr.Hex(), err, s.Address().Hex())
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	s, _ := GenerateKey()
	other, _ := GenerateKey()
	st, _ := s.SignTransaction(buildTx(t, ""))

	tampered := st
	tampered.Payload = append(append([]byte(nil), st.Payload...), ' ')
	if Verify(tampered) {
		t.Error("modified payload verified")
	}

	wrongSigner := st
	wrongSigner.Signer = other.Address().Hex()
	if Verify(wrongSigner) {
		t.Error("signature verified for the wrong signer")
	}

	short := st
	short.Signature = st.Signature[:64]
	if Verify(short) {
		t.Error("short signature verified")
	}
}

func TestSignRejectsBadDigest(t *testing.T) {
	s, _ := GenerateKey()
	if _, err := s.Sign([]byte("short")); err == nil {
		t.Error("expected error for non-32-byte digest")
	}
}

package trust

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mbd888/tiltcheck/internal/apperr"
	"github.com/mbd888/tiltcheck/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testWallet struct {
	addr string
	key  string
}

func newTestWallet(t *testing.T) testWallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return testWallet{
		addr: strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex()),
		key:  hex.EncodeToString(crypto.FromECDSA(key)),
	}
}

func (w testWallet) sign(t *testing.T, msg string) string {
	t.Helper()
	sig, err := SignPersonalMessage(msg, w.key)
	require.NoError(t, err)
	return sig
}

func (w testWallet) contractPayload(t *testing.T) map[string]string {
	msg := "I agree to the TiltCheck contract"
	return map[string]string{"wallet_address": w.addr, "signature": w.sign(t, msg), "message": msg}
}

func (w testWallet) walletPayload(t *testing.T) map[string]string {
	msg := "link wallet to TiltCheck"
	return map[string]string{"address": w.addr, "signature": w.sign(t, msg), "message": msg}
}

func TestRecoverSigner(t *testing.T) {
	w := newTestWallet(t)
	sig := w.sign(t, "hello")

	got, err := RecoverSigner("hello", sig)
	require.NoError(t, err)
	assert.Equal(t, w.addr, got)

	if other, err := RecoverSigner("hello!", sig); err == nil {
		assert.NotEqual(t, w.addr, other)
	}

	_, err = RecoverSigner("hello", "0xzz")
	assert.Error(t, err)
	_, err = RecoverSigner("hello", "0x1234")
	assert.Error(t, err)
}

func TestWalletVerifier(t *testing.T) {
	w := newTestWallet(t)
	v := WalletVerifier{}

	res, err := v.Verify(context.Background(), "u1", w.walletPayload(t))
	require.NoError(t, err)
	assert.Equal(t, w.addr, res.Payload["address"])

	bad := w.walletPayload(t)
	bad["address"] = newTestWallet(t).addr
	_, err = v.Verify(context.Background(), "u1", bad)
	var ve *apperr.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "payload.signature", ve.Field)

	_, err = v.Verify(context.Background(), "u1", map[string]string{"address": w.addr})
	require.True(t, errors.As(err, &ve))
}

func TestContractVerifier_LocalReference(t *testing.T) {
	w := newTestWallet(t)
	v := &ContractVerifier{}

	a, err := v.Verify(context.Background(), "u1", w.contractPayload(t))
	require.NoError(t, err)
	b, err := v.Verify(context.Background(), "u1", w.contractPayload(t))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a.Reference, "nft_"))
	assert.Equal(t, a.Reference, b.Reference)
}

type minterFunc func(ctx context.Context, req MintRequest) (string, error)

func (f minterFunc) Mint(ctx context.Context, req MintRequest) (string, error) { return f(ctx, req) }

func TestContractVerifier_UsesMinter(t *testing.T) {
	w := newTestWallet(t)
	var got MintRequest
	v := &ContractVerifier{Minter: minterFunc(func(_ context.Context, req MintRequest) (string, error) {
		got = req
		return "token-7", nil
	})}

	res, err := v.Verify(context.Background(), "u1", w.contractPayload(t))
	require.NoError(t, err)
	assert.Equal(t, "token-7", res.Reference)
	assert.Equal(t, w.addr, got.WalletAddress)
	assert.Equal(t, "u1", got.UserID)
}

func TestAccountVerifier(t *testing.T) {
	v := &AccountVerifier{Platform: VerificationStakeAccount, Lookup: StaticCasinoLookup{}}
	res, err := v.Verify(context.Background(), "u1", map[string]string{"account_id": " stake-1 "})
	require.NoError(t, err)
	assert.Equal(t, "stake-1", res.Payload["account_id"])
	assert.Equal(t, "0", res.Payload["transactions"])

	_, err = v.Verify(context.Background(), "u1", nil)
	var ve *apperr.ValidationError
	assert.True(t, errors.As(err, &ve))
}

type failingLookup struct{}

func (failingLookup) Lookup(context.Context, VerificationType, string) (*AccountInfo, error) {
	return nil, errors.New("casino down")
}

func TestAccountVerifier_LookupFailureIsExternal(t *testing.T) {
	v := &AccountVerifier{Platform: VerificationCasinoCookie, Lookup: failingLookup{}}
	_, err := v.Verify(context.Background(), "u1", map[string]string{"account_id": "a"})
	var xe *apperr.ExternalServiceError
	require.True(t, errors.As(err, &xe))
	assert.Equal(t, "casino_cookie", xe.Service)
}

func TestRequiredKeys(t *testing.T) {
	v := RequiredKeys("discord_id")
	res, err := v.Verify(context.Background(), "u1", map[string]string{"discord_id": "42", "extra": "x"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"discord_id": "42"}, res.Payload)

	_, err = v.Verify(context.Background(), "u1", map[string]string{})
	assert.Error(t, err)
}

func fastMintClient(url string) *MintClient {
	m := NewMintClient(url, "secret")
	m.policy = retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}
	return m
}

func TestMintClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/mint", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var req MintRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]string{"tokenId": "tok_" + req.UserID})
	}))
	defer srv.Close()

	token, err := fastMintClient(srv.URL).Mint(context.Background(), MintRequest{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "tok_u1", token)
	assert.EqualValues(t, 3, calls.Load())
}

func TestMintClient_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad signature", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := fastMintClient(srv.URL).Mint(context.Background(), MintRequest{UserID: "u1"})
	var xe *apperr.ExternalServiceError
	require.True(t, errors.As(err, &xe))
	assert.Equal(t, "mint", xe.Service)
	assert.EqualValues(t, 1, calls.Load())
}

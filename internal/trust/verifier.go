package trust

import (
	"context"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mbd888/tiltcheck/internal/apperr"
	"github.com/shopspring/decimal"
)

// Verification is what a Verifier hands back on success.
type Verification struct {
	Payload   map[string]string
	Reference string
}

// Verifier checks a verification payload, possibly against an external
// service. It runs without any user lock held and must honour ctx.
// Bad input is an *apperr.ValidationError; an unreachable dependency is
// an *apperr.ExternalServiceError.
type Verifier interface {
	Verify(ctx context.Context, userID string, payload map[string]string) (*Verification, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, userID string, payload map[string]string) (*Verification, error)

func (f VerifierFunc) Verify(ctx context.Context, userID string, payload map[string]string) (*Verification, error) {
	return f(ctx, userID, payload)
}

// Minter issues the contract token for a signed base verification.
type Minter interface {
	Mint(ctx context.Context, req MintRequest) (string, error)
}

// MintRequest is sent to the minting service.
type MintRequest struct {
	UserID        string `json:"userId"`
	WalletAddress string `json:"walletAddress"`
	Signature     string `json:"signature"`
	Message       string `json:"message"`
}

// AccountInfo is what a casino reports about a linked account.
type AccountInfo struct {
	Balance      decimal.Decimal
	Transactions int
}

// CasinoLookup resolves a casino account. Real casino integrations are out
// of scope; StaticCasinoLookup accepts every account.
type CasinoLookup interface {
	Lookup(ctx context.Context, platform VerificationType, accountID string) (*AccountInfo, error)
}

// StaticCasinoLookup reports every account as existing and empty.
type StaticCasinoLookup struct{}

func (StaticCasinoLookup) Lookup(ctx context.Context, _ VerificationType, _ string) (*AccountInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &AccountInfo{Balance: decimal.Zero}, nil
}

// DefaultVerifiers returns a verifier per type. A nil minter issues local
// contract references.
func DefaultVerifiers(minter Minter, casinos CasinoLookup) map[VerificationType]Verifier {
	if casinos == nil {
		casinos = StaticCasinoLookup{}
	}
	return map[VerificationType]Verifier{
		VerificationContract:     &ContractVerifier{Minter: minter},
		VerificationWallet:       WalletVerifier{},
		VerificationStakeAccount: &AccountVerifier{Platform: VerificationStakeAccount, Lookup: casinos},
		VerificationCasinoCookie: &AccountVerifier{Platform: VerificationCasinoCookie, Lookup: casinos},
		VerificationDiscord:      RequiredKeys("discord_id"),
		VerificationLocalStorage: RequiredKeys("device_id"),
	}
}

func required(payload map[string]string, keys ...string) error {
	for _, k := range keys {
		if strings.TrimSpace(payload[k]) == "" {
			return apperr.Invalid("payload."+k, "is required")
		}
	}
	return nil
}

func checkSigner(address, message, signature string) (string, error) {
	want := strings.ToLower(strings.TrimSpace(address))
	got, err := RecoverSigner(message, signature)
	if err != nil {
		return "", apperr.Invalid("payload.signature", "%v", err)
	}
	if got != want {
		return "", apperr.Invalid("payload.signature", "signed by %s, not %s", got, want)
	}
	return got, nil
}

// ContractVerifier checks the contract signature and mints the token.
type ContractVerifier struct {
	Minter Minter
}

func (v *ContractVerifier) Verify(ctx context.Context, userID string, payload map[string]string) (*Verification, error) {
	if err := required(payload, "wallet_address", "signature", "message"); err != nil {
		return nil, err
	}
	wallet, err := checkSigner(payload["wallet_address"], payload["message"], payload["signature"])
	if err != nil {
		return nil, err
	}

	var ref string
	if v.Minter == nil {
		ref = localReference(userID, wallet)
	} else {
		ref, err = v.Minter.Mint(ctx, MintRequest{
			UserID:        userID,
			WalletAddress: wallet,
			Signature:     payload["signature"],
			Message:       payload["message"],
		})
		if err != nil {
			return nil, err
		}
	}

	return &Verification{
		Payload:   map[string]string{"wallet_address": wallet, "message": payload["message"]},
		Reference: ref,
	}, nil
}

// localReference is a stable token ID used when no minting service is set.
func localReference(userID, wallet string) string {
	sum := crypto.Keccak256([]byte(userID + "|" + wallet))
	return "nft_" + hex.EncodeToString(sum[:12])
}

// WalletVerifier checks that the caller controls address.
type WalletVerifier struct{}

func (WalletVerifier) Verify(_ context.Context, _ string, payload map[string]string) (*Verification, error) {
	if err := required(payload, "address", "signature", "message"); err != nil {
		return nil, err
	}
	addr, err := checkSigner(payload["address"], payload["message"], payload["signature"])
	if err != nil {
		return nil, err
	}
	return &Verification{Payload: map[string]string{"address": addr}}, nil
}

// AccountVerifier links a casino account through a CasinoLookup.
type AccountVerifier struct {
	Platform VerificationType
	Lookup   CasinoLookup
}

func (v *AccountVerifier) Verify(ctx context.Context, _ string, payload map[string]string) (*Verification, error) {
	if err := required(payload, "account_id"); err != nil {
		return nil, err
	}
	accountID := strings.TrimSpace(payload["account_id"])
	info, err := v.Lookup.Lookup(ctx, v.Platform, accountID)
	if err != nil {
		return nil, apperr.External(string(v.Platform), err)
	}
	return &Verification{Payload: map[string]string{
		"account_id":   accountID,
		"balance":      info.Balance.String(),
		"transactions": strconv.Itoa(info.Transactions),
	}}, nil
}

// RequiredKeys accepts any payload carrying the given keys.
func RequiredKeys(keys ...string) Verifier {
	return VerifierFunc(func(_ context.Context, _ string, payload map[string]string) (*Verification, error) {
		if err := required(payload, keys...); err != nil {
			return nil, err
		}
		out := make(map[string]string, len(keys))
		for _, k := range keys {
			out[k] = strings.TrimSpace(payload[k])
		}
		return &Verification{Payload: out}, nil
	})
}

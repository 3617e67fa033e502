// Package polymarket is a sample venue adapter, reusing the exchange
// layer's REST/WS/signing/rate-limit technique adapted to the generalized
// adapter.Exchange contract (arbitrary base/quote markets rather than a
// binary outcome-token pair).
package polymarket

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"mirrormaker/internal/config"
)

// Credentials are the L2 (HMAC) API credentials derived from an L1
// (private key) bootstrap, or supplied directly in config.
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string
}

// Auth signs requests two ways: L1 EIP-712 signatures (used once, to
// derive L2 credentials) and L2 HMAC signatures (used for every
// authenticated REST/WS call thereafter).
type Auth struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	creds      Credentials
}

// NewAuth derives the signing key and address from an account's
// configured private key. creds are copied from the account's configured
// API key, secret and passphrase, and are zero-valued when the config
// supplies none (SetCredentials can install them later).
func NewAuth(cfg config.AccountConfig, chainID int64) (*Auth, error) {
	hexKey := strings.TrimPrefix(cfg.PrivateKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return &Auth{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		chainID:    big.NewInt(chainID),
		creds: Credentials{
			APIKey:     cfg.APIKey,
			Secret:     cfg.APISecret,
			Passphrase: cfg.Passphrase,
		},
	}, nil
}

// Address is the wallet address this Auth signs for.
func (a *Auth) Address() common.Address { return a.address }

// HasL2Credentials reports whether HMAC credentials are already known.
func (a *Auth) HasL2Credentials() bool { return a.creds.APIKey != "" && a.creds.Secret != "" }

// SetCredentials records L2 credentials after L1 bootstrap.
func (a *Auth) SetCredentials(c Credentials) { a.creds = c }

// L1Headers produces the authentication headers for a bootstrap call that
// derives API credentials, using an EIP-712 "ClobAuthDomain" signature
// over a timestamp+nonce challenge.
func (a *Auth) L1Headers(nonce int64) (map[string]string, error) {
	ts := time.Now().Unix()
	sig, err := a.signClobAuth(ts, nonce)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"POLY_ADDRESS":   a.address.Hex(),
		"POLY_SIGNATURE": sig,
		"POLY_TIMESTAMP": strconv.FormatInt(ts, 10),
		"POLY_NONCE":     strconv.FormatInt(nonce, 10),
	}, nil
}

// L2Headers produces the HMAC authentication headers for a regular
// authenticated call.
func (a *Auth) L2Headers(method, path, body string) (map[string]string, error) {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := a.buildHMAC(ts, method, path, body)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"POLY_ADDRESS":    a.address.Hex(),
		"POLY_SIGNATURE":  sig,
		"POLY_TIMESTAMP":  ts,
		"POLY_API_KEY":    a.creds.APIKey,
		"POLY_PASSPHRASE": a.creds.Passphrase,
	}, nil
}

func (a *Auth) signClobAuth(timestamp, nonce int64) (string, error) {
	domain := apitypes.TypedDataDomain{
		Name:    "ClobAuthDomain",
		Version: "1",
		ChainId: (*math.HexOrDecimal256)(a.chainID),
	}
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"ClobAuth": {
				{Name: "address", Type: "address"},
				{Name: "timestamp", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "message", Type: "string"},
			},
		},
		PrimaryType: "ClobAuth",
		Domain:      domain,
		Message: apitypes.TypedDataMessage{
			"address":   a.address.Hex(),
			"timestamp": strconv.FormatInt(timestamp, 10),
			"nonce":     big.NewInt(nonce),
			"message":   "This message attests that I control the given wallet",
		},
	}

	return a.signTypedData(typedData)
}

func (a *Auth) signTypedData(typedData apitypes.TypedData) (string, error) {
	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return "", fmt.Errorf("hash typed data: %w", err)
	}

	sig, err := crypto.Sign(hash, a.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + common.Bytes2Hex(sig), nil
}

func (a *Auth) buildHMAC(timestamp, method, path, body string) (string, error) {
	secret := a.creds.Secret
	var decoded []byte
	var err error
	for _, decode := range []func(string) ([]byte, error){
		base64.StdEncoding.DecodeString,
		base64.URLEncoding.DecodeString,
		base64.RawStdEncoding.DecodeString,
		base64.RawURLEncoding.DecodeString,
	} {
		decoded, err = decode(secret)
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}

	message := timestamp + method + path + body
	mac := hmac.New(sha256.New, decoded)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}


// Package codec derives canonical bid payloads, item ids and cancel-intent
// messages, and recovers the signers of bids and cancellations.
package codec

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/zer0-os/bids-core/bids"
)

const (
	// CancelPrefix prefixes the signed message of a bid to build its cancel-intent message.
	CancelPrefix = "cancel - "

	signatureLength = 65
	maxNonceBits    = 53
)

// ErrMalformedBid indicates bid params can't be interpreted.
var ErrMalformedBid = errors.New("malformed bid")

// Variant identifies which ledger encoding a bid uses.
type Variant int

const (
	// VariantContract encodes bids naming the NFT contract address.
	VariantContract Variant = iota + 1
	// VariantToken encodes bids naming the payment token.
	VariantToken
)

// String returns a string-encoded variant.
func (v Variant) String() string {
	switch v {
	case VariantContract:
		return "contract"
	case VariantToken:
		return "token"
	default:
		return "invalid"
	}
}

// Args are typed bid params ready to be encoded.
type Args struct {
	Variant         Variant
	Account         common.Address
	Nonce           *big.Int
	BidAmount       *big.Int
	MinimumBid      *big.Int
	TokenID         *big.Int
	StartBlock      *big.Int
	ExpireBlock     *big.Int
	ContractAddress common.Address
	PaymentToken    common.Address
}

// Parse validates and converts bid params. Every error wraps ErrMalformedBid.
func Parse(p bids.BidParams) (Args, error) {
	var a Args
	if !common.IsHexAddress(p.Account) {
		return Args{}, malformed("account %q isn't an address", p.Account)
	}
	a.Account = common.HexToAddress(p.Account)

	switch {
	case p.PaymentToken != "":
		if !common.IsHexAddress(p.PaymentToken) {
			return Args{}, malformed("payment token %q isn't an address", p.PaymentToken)
		}
		a.Variant = VariantToken
		a.PaymentToken = common.HexToAddress(p.PaymentToken)
	case p.ContractAddress != "":
		a.Variant = VariantContract
	default:
		return Args{}, malformed("either contract address or payment token is required")
	}
	if p.ContractAddress != "" {
		if !common.IsHexAddress(p.ContractAddress) {
			return Args{}, malformed("contract address %q isn't an address", p.ContractAddress)
		}
		a.ContractAddress = common.HexToAddress(p.ContractAddress)
	}

	fields := []struct {
		name string
		val  string
		dst  **big.Int
	}{
		{"nonce", p.Nonce, &a.Nonce},
		{"bid amount", p.BidAmount, &a.BidAmount},
		{"minimum bid", p.MinimumBid, &a.MinimumBid},
		{"token id", p.TokenID, &a.TokenID},
		{"start block", p.StartBlock, &a.StartBlock},
		{"expire block", p.ExpireBlock, &a.ExpireBlock},
	}
	for _, f := range fields {
		n, err := parseUint(f.val)
		if err != nil {
			return Args{}, malformed("%s: %s", f.name, err)
		}
		*f.dst = n
	}

	return a, nil
}

// Encode asks the ledger contract for the canonical payload of the bid.
func Encode(ctx context.Context, enc bids.ContractEncoder, a Args) ([]byte, error) {
	switch a.Variant {
	case VariantToken:
		payload, err := enc.EncodeBidV2(ctx, a.Nonce, a.BidAmount, a.TokenID, a.MinimumBid,
			a.StartBlock, a.ExpireBlock, a.PaymentToken)
		if err != nil {
			return nil, fmt.Errorf("encoding token bid: %w", err)
		}
		return payload, nil
	case VariantContract:
		payload, err := enc.EncodeBid(ctx, a.Nonce, a.BidAmount, a.ContractAddress, a.TokenID,
			a.MinimumBid, a.StartBlock, a.ExpireBlock)
		if err != nil {
			return nil, fmt.Errorf("encoding contract bid: %w", err)
		}
		return payload, nil
	default:
		return nil, malformed("unknown bid variant %d", a.Variant)
	}
}

// EncodeParams parses and encodes bid params.
func EncodeParams(ctx context.Context, enc bids.ContractEncoder, p bids.BidParams) ([]byte, error) {
	a, err := Parse(p)
	if err != nil {
		return nil, err
	}
	return Encode(ctx, enc, a)
}

// ComputeItemID returns the keccak256 hash of the concatenation of contract
// address and token id, as given by the bidder.
func ComputeItemID(contractAddress, tokenID string) string {
	return hexutil.Encode(crypto.Keccak256([]byte(contractAddress + tokenID)))
}

// SignedMessageHash returns the hash wallets sign for msg when following the
// Ethereum signed message scheme.
func SignedMessageHash(msg []byte) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(msg), msg)
	return crypto.Keccak256([]byte(prefixed))
}

// CancelMessage returns the cancel-intent message of a bid.
func CancelMessage(signedMessage string) string {
	return CancelPrefix + signedMessage
}

// CancelDigest returns the payload a bidder signs to cancel a bid. It's
// signed with the same scheme as the bid payload.
func CancelDigest(signedMessage string) []byte {
	return crypto.Keccak256([]byte(CancelMessage(signedMessage)))
}

// DecodeSignature decodes a hex-encoded 65 bytes signature.
func DecodeSignature(s string) ([]byte, error) {
	sig, err := hexutil.Decode(s)
	if err != nil {
		return nil, malformed("decoding signature: %s", err)
	}
	if len(sig) != signatureLength {
		return nil, malformed("signature has length %d", len(sig))
	}
	return sig, nil
}

// CanonicalSignature returns sig with a 27/28 recovery id. Signatures with a
// high s value are rejected, so a signer has a single accepted signature per
// payload.
func CanonicalSignature(sig []byte) ([]byte, error) {
	if len(sig) != signatureLength {
		return nil, malformed("signature has length %d", len(sig))
	}
	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(v, r, s, true) {
		return nil, malformed("signature isn't canonical")
	}
	res := make([]byte, signatureLength)
	copy(res, sig)
	res[64] = v + 27
	return res, nil
}

// NormalizeSignature returns the canonical text of a hex-encoded signature:
// lower-case hex with a 27/28 recovery id.
func NormalizeSignature(s string) (string, error) {
	sig, err := DecodeSignature(s)
	if err != nil {
		return "", err
	}
	sig, err = CanonicalSignature(sig)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

// RecoverAddress returns the signer of payload. The signature recovery id
// can be either 0/1 or 27/28.
func RecoverAddress(payload, signature []byte) (common.Address, error) {
	if len(signature) != signatureLength {
		return common.Address{}, malformed("signature has length %d", len(signature))
	}
	sig := make([]byte, signatureLength)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(SignedMessageHash(payload), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recovering public key: %s", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SameAddress compares two textual addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// NewNonce returns a random nonce that fits in a JSON number.
func NewNonce() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), maxNonceBits)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("generating nonce: %s", err)
	}
	return n, nil
}

func parseUint(s string) (*big.Int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errors.New("is empty")
	}
	n, ok := math.ParseBig256(strings.TrimSpace(s))
	if !ok {
		return nil, fmt.Errorf("%q isn't a 256 bits integer", s)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("%q is negative", s)
	}
	return n, nil
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedBid, fmt.Sprintf(format, args...))
}

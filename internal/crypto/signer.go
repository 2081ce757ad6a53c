package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// --------------------------------------------------------------------------
// EIP-712 type hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// PerpOrder(bytes32 market,address trader,uint256 size,uint256 price,uint256 expiration,uint256 nonce,uint8 side,uint8 reduceOnly)
	perpOrderTypeHash = ethcrypto.Keccak256(
		[]byte("PerpOrder(bytes32 market,address trader,uint256 size,uint256 price,uint256 expiration,uint256 nonce,uint8 side,uint8 reduceOnly)"),
	)
)

// PerpOrderPayload represents the fields of a dexswap perpetual order that
// must be signed via EIP-712. String types are used for large numbers to
// preserve precision across JSON boundaries; Size and Price are scaled
// integers per the gateway's fixed-point convention.
type PerpOrderPayload struct {
	Market     string `json:"market"`     // e.g. "BTC-PERP"
	Trader     string `json:"trader"`     // 0x address
	Size       string `json:"size"`       // scaled integer
	Price      string `json:"price"`      // scaled integer, 0 for market orders
	Expiration string `json:"expiration"` // unix seconds
	Nonce      string `json:"nonce"`
	Side       int    `json:"side"`       // 0 = BUY, 1 = SELL
	ReduceOnly int    `json:"reduceOnly"` // 0 or 1
}

// Signer produces the EIP-712 order signatures the dexswap gateway verifies
// before accepting an off-chain order.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int
	domainSep  []byte // cached EIP-712 domain separator hash
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and
// the target chain ID.
func NewSigner(privateKeyHex string, chainID int) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	s := &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
	}
	s.domainSep = buildDomainSeparator("DexswapPerp", "1", chainID)

	return s, nil
}

// Address returns the Ethereum address derived from the signer's private
// key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignOrder signs a PerpOrder EIP-712 struct. It returns a hex-encoded
// 65-byte signature (r || s || v).
func (s *Signer) SignOrder(order PerpOrderPayload) (string, error) {
	structHash, err := perpOrderStructHash(order)
	if err != nil {
		return "", err
	}

	digest := eip712Hash(s.domainSep, structHash)
	return s.signDigest(digest)
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// buildDomainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId)).
func buildDomainSeparator(name, version string, chainID int) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(name)),
			ethcrypto.Keccak256([]byte(version)),
			bigIntTo32Bytes(big.NewInt(int64(chainID))),
		),
	)
}

// eip712Hash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// signDigest signs a 32-byte digest using secp256k1 and returns the
// hex-encoded signature (r || s || v, 65 bytes).
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; EIP-712 expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return "0x" + hex.EncodeToString(sig), nil
}

// perpOrderStructHash encodes and hashes a PerpOrderPayload according to
// EIP-712.
func perpOrderStructHash(o PerpOrderPayload) ([]byte, error) {
	size, ok := new(big.Int).SetString(o.Size, 10)
	if !ok {
		return nil, fmt.Errorf("crypto/signer: invalid size %q", o.Size)
	}
	price, ok := new(big.Int).SetString(o.Price, 10)
	if !ok {
		return nil, fmt.Errorf("crypto/signer: invalid price %q", o.Price)
	}
	expiration, ok := new(big.Int).SetString(o.Expiration, 10)
	if !ok {
		return nil, fmt.Errorf("crypto/signer: invalid expiration %q", o.Expiration)
	}
	nonce, ok := new(big.Int).SetString(o.Nonce, 10)
	if !ok {
		return nil, fmt.Errorf("crypto/signer: invalid nonce %q", o.Nonce)
	}

	trader := common.HexToAddress(o.Trader)

	return ethcrypto.Keccak256(
		concatBytes(
			perpOrderTypeHash,
			ethcrypto.Keccak256([]byte(o.Market)),
			common.LeftPadBytes(trader.Bytes(), 32),
			bigIntTo32Bytes(size),
			bigIntTo32Bytes(price),
			bigIntTo32Bytes(expiration),
			bigIntTo32Bytes(nonce),
			bigIntTo32Bytes(big.NewInt(int64(o.Side))),
			bigIntTo32Bytes(big.NewInt(int64(o.ReduceOnly))),
		),
	), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}

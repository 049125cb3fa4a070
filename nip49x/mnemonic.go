// BIP-39 mnemonic validation and NIP-06 secret derivation
// (m/44'/1237'/account'/0/0), grounded in github.com/tyler-smith/go-bip39
// (the wordlist/checksum implementation tos-network-gtos already depends
// on) for the mnemonic layer, and a direct BIP-32 hardened-derivation
// implementation over github.com/decred/dcrd/dcrec/secp256k1/v4 for the
// key-path layer, since the pack carries no standalone BIP-32-over-secp256k1
// package.
package nip49x

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/tyler-smith/go-bip39"

	"github.com/nitrous-signer/core/errs"
)

var validWordCounts = map[int]bool{12: true, 15: true, 18: true, 21: true, 24: true}

// MnemonicValidate reports whether phrase is a well-formed BIP-39 English
// mnemonic: correct word count and a valid checksum (spec §4.5).
func MnemonicValidate(phrase string) bool {
	words := splitWords(phrase)
	if !validWordCounts[len(words)] {
		return false
	}
	return bip39.IsMnemonicValid(phrase)
}

// MnemonicToSecret derives the 32-byte secp256k1 secret key (hex) for
// account accountIndex from phrase, following NIP-06's
// m/44'/1237'/account'/0/0 path (spec §4.5). Deterministic: same inputs
// always yield the same output (spec §8 property 4).
func MnemonicToSecret(phrase string, accountIndex uint32) (string, error) {
	if !MnemonicValidate(phrase) {
		return "", errs.New(errs.InvalidInput, "invalid BIP-39 mnemonic")
	}
	seed := bip39.NewSeed(phrase, "")

	key, chainCode, err := masterKey(seed)
	if err != nil {
		return "", errs.Wrap(errs.InvalidInput, "derive master key", err)
	}

	for _, idx := range []uint32{hardened(44), hardened(1237), hardened(accountIndex), 0, 0} {
		key, chainCode, err = deriveChild(key, chainCode, idx)
		if err != nil {
			return "", errs.Wrap(errs.InvalidInput, "derive child key", err)
		}
	}
	return hex.EncodeToString(key[:]), nil
}

func hardened(index uint32) uint32 { return index + 0x80000000 }

func masterKey(seed []byte) (key, chainCode [32]byte, err error) {
	mac := hmac.New(sha512.New, []byte("Bitcoin seed"))
	mac.Write(seed)
	i := mac.Sum(nil)
	copy(key[:], i[:32])
	copy(chainCode[:], i[32:])
	return key, chainCode, nil
}

func deriveChild(parentKey, parentChainCode [32]byte, index uint32) (childKey, childChainCode [32]byte, err error) {
	var data []byte
	if index&0x80000000 != 0 {
		data = append(data, 0x00)
		data = append(data, parentKey[:]...)
	} else {
		priv := secp256k1.PrivKeyFromBytes(parentKey[:])
		defer priv.Zero()
		data = append(data, priv.PubKey().SerializeCompressed()...)
	}
	var idxBuf [4]byte
	binary.BigEndian.PutUint32(idxBuf[:], index)
	data = append(data, idxBuf[:]...)

	mac := hmac.New(sha512.New, parentChainCode[:])
	mac.Write(data)
	i := mac.Sum(nil)

	var il secp256k1.ModNScalar
	il.SetByteSlice(i[:32])

	var parentScalar secp256k1.ModNScalar
	parentScalar.SetBytes(&parentKey)

	il.Add(&parentScalar)
	childBytes := il.Bytes()
	copy(childKey[:], childBytes[:])
	copy(childChainCode[:], i[32:])
	return childKey, childChainCode, nil
}

func splitWords(phrase string) []string {
	var words []string
	field := false
	start := 0
	for i, r := range phrase {
		isSpace := r == ' ' || r == '\t' || r == '\n' || r == '\r'
		if !isSpace && !field {
			field = true
			start = i
		} else if isSpace && field {
			words = append(words, phrase[start:i])
			field = false
		}
	}
	if field {
		words = append(words, phrase[start:])
	}
	return words
}

// PowerSNMPv3 - SNMP library for Go
// Автор: Волков Олег
// Author: Volkov Oleg
// License: MIT
// Лицензия: MIT
// Commercial support and custom development available.
package PowerSNMPEngine

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"hash"

	ASNber "github.com/OlegPowerC/asn1modsnmp"
)

// hashForAuthProtocol returns the hash constructor of an AUTH_PROTOCOL_* constant.
// Unknown protocols fall back to SHA-1.
func hashForAuthProtocol(AuthProtocol int) func() hash.Hash {
	switch AuthProtocol {
	case AUTH_PROTOCOL_MD5:
		return md5.New
	case AUTH_PROTOCOL_SHA:
		return sha1.New
	case AUTH_PROTOCOL_SHA224:
		return sha256.New224
	case AUTH_PROTOCOL_SHA256:
		return sha256.New
	case AUTH_PROTOCOL_SHA384:
		return sha512.New384
	case AUTH_PROTOCOL_SHA512:
		return sha512.New
	default:
		return sha1.New
	}
}

// authDigestLength is the msgAuthenticationParameters length (RFC3414, RFC7860).
func authDigestLength(AuthProtocol int) int {
	switch AuthProtocol {
	case AUTH_PROTOCOL_MD5, AUTH_PROTOCOL_SHA:
		return 12
	case AUTH_PROTOCOL_SHA224:
		return 16
	case AUTH_PROTOCOL_SHA256:
		return 24
	case AUTH_PROTOCOL_SHA384:
		return 32
	case AUTH_PROTOCOL_SHA512:
		return 48
	default:
		return 12
	}
}

// passwordToKey is the RFC3414 A.2 password-to-key step: hash of the
// password repeated over 1,048,576 bytes.
func passwordToKey(keyBytes []byte, AuthProtocol int) []byte {
	hasf := hashForAuthProtocol(AuthProtocol)()
	PassBuf := make([]byte, 64)
	password_index := 0
	passwordlen := len(keyBytes)
	if passwordlen == 0 {
		return hasf.Sum(nil)
	}
	for count := 0; count < 1048576; count += 64 {
		for i := 0; i < 64; i++ {
			PassBuf[i] = keyBytes[password_index%passwordlen]
			password_index++
		}
		hasf.Write(PassBuf)
	}
	return hasf.Sum(nil)
}

// localizeKey binds a master key to an engine: hash(Ku | EngineID | Ku).
func localizeKey(ku []byte, EngineID []byte, AuthProtocol int) []byte {
	hasf := hashForAuthProtocol(AuthProtocol)()
	hasf.Write(ku)
	hasf.Write(EngineID)
	hasf.Write(ku)
	return hasf.Sum(nil)
}

// makeLocalizedKeyFromBytes generates SNMPv3 USM localized key (RFC 3414).
//
// Returns the EngineID-bound key (16/20/28/32/48/64 bytes per protocol).
func makeLocalizedKeyFromBytes(keyBytes []byte, EngineID []byte, AuthProtocol int) []byte {
	return localizeKey(passwordToKey(keyBytes, AuthProtocol), EngineID, AuthProtocol)
}

// expandPrivKey expands a localized key to the privacy key size.
//
//	**STANDARD** (AES128/192/256, DES): Truncate or recursive localization (Blumenthal draft)
//	**AGENT++/Huawei** (AES192A/256A): K1=ku | K2=hash(ku)
func expandPrivKey(ku []byte, privProto int, authProto int, engineID []byte) []byte {
	switch privProto {
	case PRIV_PROTOCOL_AES128:
		if len(ku) >= 16 {
			return ku[:16]
		}
		return ku

	case PRIV_PROTOCOL_AES192, PRIV_PROTOCOL_AES256:
		need := 24
		if privProto == PRIV_PROTOCOL_AES256 {
			need = 32
		}
		if len(ku) >= need {
			// SHA-224/256/384/512 → достаточно байт, просто обрезаем!
			return ku[:need]
		}
		// MD5/SHA-1: рекурсивная локализация
		result := make([]byte, need)
		copy(result, ku)
		ext := makeLocalizedKeyFromBytes(ku, engineID, authProto)
		copy(result[len(ku):], ext)
		return result

	case PRIV_PROTOCOL_AES192A, PRIV_PROTOCOL_AES256A:
		// Agent++ метод (Huawei)
		need := 24
		if privProto == PRIV_PROTOCOL_AES256A {
			need = 32
		}
		if len(ku) >= need {
			return ku[:need]
		}
		result := make([]byte, need)
		copy(result, ku) // K1
		hasher := hashForAuthProtocol(authProto)()
		hasher.Write(ku)
		k2 := hasher.Sum(nil)
		copy(result[len(ku):], k2) // K1 | K2
		return result

	case PRIV_PROTOCOL_DES:
		// DES key + pre-IV, 16 bytes
		if len(ku) >= 16 {
			return ku[:16]
		}
		return ku
	}

	if len(ku) >= 16 {
		return ku[:16]
	}
	return ku
}

// makeDigest computes the truncated HMAC over the whole message (RFC3414 §6.3, RFC7860 §4.2).
func makeDigest(Wmsg []byte, LocalizedKey []byte, AuthProtocol int) (digest []byte) {
	mac := hmac.New(hashForAuthProtocol(AuthProtocol), LocalizedKey)
	mac.Write(Wmsg)
	return mac.Sum(nil)[:authDigestLength(AuthProtocol)]
}

// verifyDigestRAW validates SNMPv3 USM auth digest on raw packet bytes.
//
// Finds AuthParams via ASNber.FindSNMPv3AuthParamsOffset, zero-fills a copy,
// recalculates the HMAC and compares in constant time.
func verifyDigestRAW(SNMPv3Packet []byte, digest []byte, LocalizedKey []byte, AuthProtocol int) (Verified bool, err error) {
	if len(digest) != authDigestLength(AuthProtocol) {
		return false, nil
	}
	//Ищем где расположен AuthParam
	offset, aplen, ferr := ASNber.FindSNMPv3AuthParamsOffset(SNMPv3Packet)
	if ferr != nil {
		return false, ferr
	}

	//Если смещение равно 0 или оно указывает за пределы пакета то ошибка
	if offset == 0 || offset+aplen > len(SNMPv3Packet) {
		return false, errors.New("AuthParam not found")
	}

	DataCopy := make([]byte, len(SNMPv3Packet))
	copy(DataCopy, SNMPv3Packet)
	for i := 0; i < aplen; i++ {
		DataCopy[offset+i] = 0x00
	}

	return hmac.Equal(makeDigest(DataCopy, LocalizedKey, AuthProtocol), digest), nil
}

type keyCacheKey struct {
	proto    int
	secret   string
	engineID string
}

// keyCache memoizes localization. Password-to-key is 1 MiB of hashing per
// call and the same (user, engine) pair is seen on every message.
type keyCache struct {
	master    map[keyCacheKey][]byte
	localized map[keyCacheKey][]byte
}

func newKeyCache() *keyCache {
	return &keyCache{master: make(map[keyCacheKey][]byte), localized: make(map[keyCacheKey][]byte)}
}

func (c *keyCache) localizedSecret(secret string, engineID []byte, proto int) []byte {
	lk := keyCacheKey{proto: proto, secret: secret, engineID: string(engineID)}
	if k, ok := c.localized[lk]; ok {
		return k
	}
	mk := keyCacheKey{proto: proto, secret: secret}
	ku, ok := c.master[mk]
	if !ok {
		ku = passwordToKey([]byte(secret), proto)
		c.master[mk] = ku
	}
	k := localizeKey(ku, engineID, proto)
	c.localized[lk] = k
	return k
}

// authKey returns the localized authentication key.
func (c *keyCache) authKey(u *UsmUser, engineID []byte) []byte {
	return c.localizedSecret(u.AuthPassword, engineID, u.AuthProtocol)
}

// privKey returns the localized and expanded privacy key.
func (c *keyCache) privKey(u *UsmUser, engineID []byte) []byte {
	return expandPrivKey(c.localizedSecret(u.PrivPassword, engineID, u.AuthProtocol), u.PrivProtocol, u.AuthProtocol, engineID)
}

// forgetEngine drops localized keys of one engine.
func (c *keyCache) forgetEngine(engineID []byte) {
	for k := range c.localized {
		if k.engineID == string(engineID) {
			delete(c.localized, k)
		}
	}
}

// PowerSNMPv3 - SNMP library for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMPEngine

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"encoding/binary"
	"errors"
)

// fPKCS5Padding pads src up to blockSize. With snmp=true data that is already
// aligned is left as is: the ScopedPDU carries its own BER length.
func fPKCS5Padding(src []byte, blockSize int, snmp bool) (data []byte, err error) {
	if len(src) == 0 {
		return nil, errors.New("Zero data length")
	}
	if snmp {
		if len(src)%blockSize == 0 {
			return src, nil
		}
	}

	padding := blockSize - len(src)%blockSize
	padtext := bytes.Repeat([]byte{byte(padding)}, padding)
	out := make([]byte, 0, len(src)+padding)
	out = append(out, src...)
	return append(out, padtext...), nil
}

func encryptAESCFB(src, key, iv []byte) (EncryptedData []byte, err error) {
	if len(src) == 0 {
		return nil, errors.New("Source data length error")
	}
	if len(iv) != 16 {
		return nil, errors.New("IV length error")
	}
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, errors.New("Key length error")
	}
	dst := make([]byte, len(src))
	aesBlockEncrypter, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesEncrypter := cipher.NewCFBEncrypter(aesBlockEncrypter, iv)
	aesEncrypter.XORKeyStream(dst, src)
	return dst, nil
}

func decryptAESCFB(src, key, iv []byte) (DecryptedData []byte, err error) {
	if len(src) == 0 {
		return nil, errors.New("Source data length error")
	}
	if len(iv) != 16 {
		return nil, errors.New("IV length error")
	}
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, errors.New("Key length error")
	}
	dst := make([]byte, len(src))
	aesBlockDecrypter, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesDecrypter := cipher.NewCFBDecrypter(aesBlockDecrypter, iv)
	aesDecrypter.XORKeyStream(dst, src)
	return dst, nil
}

// decryptDES leaves any padding in place; the BER decoder ignores trailing bytes.
func decryptDES(src, key, iv []byte) (DecryptedData []byte, err error) {
	if len(iv) != 8 {
		return nil, errors.New("IV length error")
	}
	if len(key) != 8 {
		return nil, errors.New("Key length error")
	}
	if len(src) == 0 || len(src)%8 != 0 {
		return nil, errors.New("Source length error")
	}
	desBlockDecrypter, err := des.NewCipher(key)
	if err != nil {
		return nil, err
	}
	ReturnData := make([]byte, len(src))
	desDecrypter := cipher.NewCBCDecrypter(desBlockDecrypter, iv)
	desDecrypter.CryptBlocks(ReturnData, src)
	return ReturnData, nil
}

func encryptDES(src, key, iv []byte) (EncryptedData []byte, err error) {
	if len(iv) != 8 {
		return nil, errors.New("IV length error")
	}
	if len(key) != 8 {
		return nil, errors.New("Key length error")
	}
	desBlockEncrypter, err := des.NewCipher(key)
	if err != nil {
		return nil, err
	}
	PaddedData, PadingErr := fPKCS5Padding(src, desBlockEncrypter.BlockSize(), true)
	if PadingErr != nil {
		return nil, PadingErr
	}
	ReturnData := make([]byte, len(PaddedData))
	desEncrypter := cipher.NewCBCEncrypter(desBlockEncrypter, iv)
	desEncrypter.CryptBlocks(ReturnData, PaddedData)
	return ReturnData, nil
}

func isAESProtocol(privProto int) bool {
	switch privProto {
	case PRIV_PROTOCOL_AES128, PRIV_PROTOCOL_AES192, PRIV_PROTOCOL_AES256, PRIV_PROTOCOL_AES192A, PRIV_PROTOCOL_AES256A:
		return true
	}
	return false
}

// aesIV is boots | time | 64-bit salt (RFC3826 §3.1.2.1).
func aesIV(boots, engineTime int32, salt []byte) []byte {
	IV := make([]byte, 16)
	binary.BigEndian.PutUint32(IV[0:4], uint32(boots))
	binary.BigEndian.PutUint32(IV[4:8], uint32(engineTime))
	copy(IV[8:], salt)
	return IV
}

// desSalt is boots | 32-bit counter; desIV XORs it with the pre-IV, the
// last 8 bytes of the privacy key (RFC3414 §8.1.1.1).
func desSalt(boots int32, counter uint32) []byte {
	Salt := make([]byte, 8)
	binary.BigEndian.PutUint32(Salt[0:4], uint32(boots))
	binary.BigEndian.PutUint32(Salt[4:8], counter)
	return Salt
}

func desIV(privKey, salt []byte) []byte {
	IV := make([]byte, 8)
	for i := 0; i < 8; i++ {
		IV[i] = privKey[8+i] ^ salt[i]
	}
	return IV
}

// encryptScopedPDU encrypts a marshalled ScopedPDU with the given salt
// (msgPrivacyParameters).
func encryptScopedPDU(privProto int, privKey []byte, boots, engineTime int32, salt, plain []byte) ([]byte, error) {
	switch {
	case isAESProtocol(privProto):
		return encryptAESCFB(plain, privKey, aesIV(boots, engineTime, salt))
	case privProto == PRIV_PROTOCOL_DES:
		if len(privKey) < 16 {
			return nil, errors.New("DES requires a 16 byte localized key")
		}
		return encryptDES(plain, privKey[:8], desIV(privKey, salt))
	}
	return nil, errors.New("unknown privacy protocol")
}

func decryptScopedPDU(privProto int, privKey []byte, boots, engineTime int32, salt, cipherText []byte) ([]byte, error) {
	if len(salt) != 8 {
		return nil, errors.New("msgPrivacyParameters length must be 8")
	}
	switch {
	case isAESProtocol(privProto):
		return decryptAESCFB(cipherText, privKey, aesIV(boots, engineTime, salt))
	case privProto == PRIV_PROTOCOL_DES:
		if len(privKey) < 16 {
			return nil, errors.New("DES requires a 16 byte localized key")
		}
		return decryptDES(cipherText, privKey[:8], desIV(privKey, salt))
	}
	return nil, errors.New("unknown privacy protocol")
}

//go:build !integration

// PowerSNMPv3 - SNMP library for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMPEngine

import (
	"bytes"
	"crypto/des"
	"encoding/hex"
	"testing"
)

func Test_PKCS5Padding(t *testing.T) {
	TestSequence1 := []byte{0x00, 0x01, 0x02, 0x03, 0x00, 0x01, 0x02, 0x03, 0x02}
	t.Log("Data before padding:", TestSequence1)
	blocksise := des.BlockSize
	PaddedData, perr := fPKCS5Padding(TestSequence1, blocksise, true)
	t.Log("Data after padding:", PaddedData)
	if len(PaddedData) != 16 {
		t.Error("Wrong padding")
	}
	if perr != nil {
		t.Error(perr)
	}
	if !bytes.Equal(PaddedData[:len(TestSequence1)], TestSequence1) {
		t.Error("Padding changed the data")
	}
	Aligned, _ := fPKCS5Padding(PaddedData, blocksise, true)
	if len(Aligned) != 16 {
		t.Error("Aligned data padded again")
	}
	if _, err := fPKCS5Padding(nil, blocksise, true); err == nil {
		t.Error("Zero length accepted")
	}
}

// RFC3414 A.3.1 and A.3.2: password "maplesyrup", engine ID 00..02.
func TestMakeLocalizedKey_RFC3414(t *testing.T) {
	EngineID, _ := hex.DecodeString("000000000000000000000002")
	tests := []struct {
		name  string
		proto int
		want  string
	}{
		{"MD5", AUTH_PROTOCOL_MD5, "526f5eed9fcce26f8964c2930787d82b"},
		{"SHA", AUTH_PROTOCOL_SHA, "6695febc9288e36282235fc7151f128497b38f3f"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := hex.EncodeToString(makeLocalizedKeyFromBytes([]byte("maplesyrup"), EngineID, tt.proto))
			if got != tt.want {
				t.Errorf("makeLocalizedKeyFromBytes() = %s; want %s", got, tt.want)
			}
		})
	}
}

func TestEncryptDecryptScopedPDU(t *testing.T) {
	EngineID, _ := hex.DecodeString("80001f8880e9bd0c1d12667a5100000000")
	plain := []byte{0x30, 0x1a, 0x04, 0x00, 0x04, 0x00, 0xa0, 0x14, 0x02, 0x02, 0x30, 0x39, 0x02, 0x01, 0x00, 0x02, 0x01, 0x00, 0x30, 0x08, 0x30, 0x06, 0x06, 0x02, 0x2b, 0x06, 0x05, 0x00}
	tests := []struct {
		name  string
		auth  int
		priv  int
		boots int32
		time  int32
	}{
		{"DES", AUTH_PROTOCOL_MD5, PRIV_PROTOCOL_DES, 3, 1200},
		{"AES128", AUTH_PROTOCOL_SHA, PRIV_PROTOCOL_AES128, 1, 15},
		{"AES192", AUTH_PROTOCOL_SHA256, PRIV_PROTOCOL_AES192, 7, 86400},
		{"AES256", AUTH_PROTOCOL_SHA512, PRIV_PROTOCOL_AES256, 2, 0},
		{"AES256A", AUTH_PROTOCOL_SHA, PRIV_PROTOCOL_AES256A, 9, 42},
	}
	usm := NewUSMSecurityModel()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := &UsmUser{Name: "u", AuthProtocol: tt.auth, AuthPassword: "authpass123", PrivProtocol: tt.priv, PrivPassword: "privpass123"}
			key := usm.keys.privKey(user, EngineID)
			salt := usm.nextSalt(tt.priv, tt.boots)
			if len(salt) != 8 {
				t.Fatalf("salt length %d", len(salt))
			}
			enc, err := encryptScopedPDU(tt.priv, key, tt.boots, tt.time, salt, plain)
			if err != nil {
				t.Fatal(err)
			}
			if bytes.Equal(enc[:len(plain)], plain) {
				t.Error("data not encrypted")
			}
			dec, err := decryptScopedPDU(tt.priv, key, tt.boots, tt.time, salt, enc)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(dec[:len(plain)], plain) {
				t.Errorf("decrypted % x; want % x", dec, plain)
			}
			if _, err := decryptScopedPDU(tt.priv, key, tt.boots, tt.time, salt[:4], enc); err == nil {
				t.Error("short msgPrivacyParameters accepted")
			}
		})
	}
}

func TestNextSalt_Unique(t *testing.T) {
	usm := NewUSMSecurityModel()
	for _, proto := range []int{PRIV_PROTOCOL_DES, PRIV_PROTOCOL_AES128} {
		seen := make(map[string]bool)
		for i := 0; i < 1000; i++ {
			s := string(usm.nextSalt(proto, 5))
			if seen[s] {
				t.Fatalf("salt repeated after %d messages", i)
			}
			seen[s] = true
		}
	}
	// DES salt carries snmpEngineBoots in the first 4 octets
	if s := usm.nextSalt(PRIV_PROTOCOL_DES, 5); !bytes.Equal(s[:4], []byte{0, 0, 0, 5}) {
		t.Errorf("DES salt % x", s)
	}
}

func TestMakeDigest_Verify(t *testing.T) {
	key := makeLocalizedKeyFromBytes([]byte("authpass123"), []byte{0x80, 0, 0x1f, 0x88, 0x80, 1, 2, 3, 4}, AUTH_PROTOCOL_SHA256)
	msg := []byte("whole message with zeroed authentication parameters")
	d1 := makeDigest(msg, key, AUTH_PROTOCOL_SHA256)
	if len(d1) != authDigestLength(AUTH_PROTOCOL_SHA256) {
		t.Errorf("digest length %d", len(d1))
	}
	if d2 := makeDigest(msg, key, AUTH_PROTOCOL_SHA256); !bytes.Equal(d1, d2) {
		t.Error("digest not deterministic")
	}
	msg[0] ^= 1
	if d3 := makeDigest(msg, key, AUTH_PROTOCOL_SHA256); bytes.Equal(d1, d3) {
		t.Error("digest does not depend on the message")
	}
}

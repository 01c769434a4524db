// PowerSNMPv3 - SNMP library for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMPEngine

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	ASNber "github.com/OlegPowerC/asn1modsnmp"
)

// usmStats counters, in the order of usmStats (RFC3414 §5).
const (
	usmStatUnsupportedSecLevels = iota
	usmStatNotInTimeWindows
	usmStatUnknownUserNames
	usmStatUnknownEngineIDs
	usmStatWrongDigests
	usmStatDecryptionErrors
	usmStatCount
)

var usmStatNames = [usmStatCount]string{
	"unsupportedSecLevels",
	"notInTimeWindows",
	"unknownUserNames",
	"unknownEngineIDs",
	"wrongDigests",
	"decryptionErrors",
}

var usmStatOIDs = [usmStatCount][]int{
	oidUsmStatsUnsupportedSecLevels,
	oidUsmStatsNotInTimeWindows,
	oidUsmStatsUnknownUserNames,
	oidUsmStatsUnknownEngineIDs,
	oidUsmStatsWrongDigests,
	oidUsmStatsDecryptionErrors,
}

// usmTimelineExpiry drops cached remote engine clocks that were not
// refreshed for that long.
const usmTimelineExpiry = 300 * time.Second

// UsmUser is one row of the local user table. Passwords are localized per
// engine on first use.
type UsmUser struct {
	Name         string
	AuthProtocol int
	AuthPassword string
	PrivProtocol int
	PrivPassword string
}

// SecurityLevel is the highest level the user is configured for.
func (u *UsmUser) SecurityLevel() int {
	switch {
	case u.AuthProtocol == AUTH_PROTOCOL_NONE:
		return SECLEVEL_NOAUTH_NOPRIV
	case u.PrivProtocol == PRIV_PROTOCOL_NONE:
		return SECLEVEL_AUTHNOPRIV
	default:
		return SECLEVEL_AUTHPRIV
	}
}

// ParseAuthPrivProtocols converts protocol names ("sha256", "aes192" ...)
// to AUTH_PROTOCOL_* / PRIV_PROTOCOL_* and the resulting security level.
// A privacy protocol without an authentication protocol is ignored.
func ParseAuthPrivProtocols(authproto string, authkey string, privproto string, privkey string) (seclevel int, intauth int, intprivparam int, err error) {
	AuthProtoString := strings.ToLower(strings.TrimSpace(authproto))
	PrivProtoString := strings.ToLower(strings.TrimSpace(privproto))
	seclevel = SECLEVEL_NOAUTH_NOPRIV
	intauth = AUTH_PROTOCOL_NONE
	intprivparam = PRIV_PROTOCOL_NONE
	switch AuthProtoString {
	case "", "none":
	case "md5":
		intauth = AUTH_PROTOCOL_MD5
	case "sha", "sha1":
		intauth = AUTH_PROTOCOL_SHA
	case "sha224":
		intauth = AUTH_PROTOCOL_SHA224
	case "sha256":
		intauth = AUTH_PROTOCOL_SHA256
	case "sha384":
		intauth = AUTH_PROTOCOL_SHA384
	case "sha512":
		intauth = AUTH_PROTOCOL_SHA512
	default:
		return 0, 0, 0, fmt.Errorf("unsupported auth protocol: %s", authproto)
	}
	if intauth != AUTH_PROTOCOL_NONE {
		seclevel = SECLEVEL_AUTHNOPRIV
		switch PrivProtoString {
		case "", "none":
		case "des":
			intprivparam = PRIV_PROTOCOL_DES
		case "aes", "aes128":
			intprivparam = PRIV_PROTOCOL_AES128
		case "aes192":
			intprivparam = PRIV_PROTOCOL_AES192
		case "aes256":
			intprivparam = PRIV_PROTOCOL_AES256
		case "aes192a":
			intprivparam = PRIV_PROTOCOL_AES192A
		case "aes256a":
			intprivparam = PRIV_PROTOCOL_AES256A
		default:
			return 0, 0, 0, fmt.Errorf("unsupported priv protocol: %s", privproto)
		}
		if intprivparam != PRIV_PROTOCOL_NONE {
			seclevel = SECLEVEL_AUTHPRIV
		}
	}

	if intauth != AUTH_PROTOCOL_NONE && len(authkey) < 8 {
		return 0, 0, 0, errors.New("auth key too short, need at least 8 symbols")
	}
	if intprivparam != PRIV_PROTOCOL_NONE && len(privkey) < 8 {
		return 0, 0, 0, errors.New("priv key too short, need at least 8 symbols")
	}
	return seclevel, intauth, intprivparam, nil
}

// NewUsmUser builds a user from protocol names.
func NewUsmUser(name, authProto, authKey, privProto, privKey string) (UsmUser, error) {
	_, a, p, err := ParseAuthPrivProtocols(authProto, authKey, privProto, privKey)
	if err != nil {
		return UsmUser{}, fmt.Errorf("user %s: %w", name, err)
	}
	u := UsmUser{Name: name, AuthProtocol: a, PrivProtocol: p}
	if a != AUTH_PROTOCOL_NONE {
		u.AuthPassword = authKey
	}
	if p != PRIV_PROTOCOL_NONE {
		u.PrivPassword = privKey
	}
	return u, nil
}

// timelineEntry is the last authentic clock seen from a remote
// authoritative engine (RFC3414 §2.3).
type timelineEntry struct {
	boots    int32
	time     int32
	received time.Time
}

// USMSecurityModel is the User-based Security Model (RFC3414, RFC3826,
// RFC7860).
type USMSecurityModel struct {
	users    map[string]*UsmUser
	keys     *keyCache
	timeline map[string]*timelineEntry
	// Privacy salt counters. Start values are random, every message
	// takes the next value.
	saltAES uint64
	saltDES uint32
	stats   [usmStatCount]uint32
}

func NewUSMSecurityModel() *USMSecurityModel {
	return &USMSecurityModel{
		users:    make(map[string]*UsmUser),
		keys:     newKeyCache(),
		timeline: make(map[string]*timelineEntry),
		saltAES:  rand.Uint64(),
		saltDES:  rand.Uint32(),
	}
}

func (u *USMSecurityModel) ID() int { return SEC_MODEL_USM }

// AddUser adds or replaces a user.
func (u *USMSecurityModel) AddUser(user UsmUser) error {
	if user.Name == "" {
		return errors.New("USM user name is empty")
	}
	if user.PrivProtocol != PRIV_PROTOCOL_NONE && user.AuthProtocol == AUTH_PROTOCOL_NONE {
		return fmt.Errorf("user %s: priv protocol accepted only with auth protocol", user.Name)
	}
	if user.AuthProtocol < AUTH_PROTOCOL_NONE || user.AuthProtocol > AUTH_PROTOCOL_SHA512 {
		return fmt.Errorf("user %s: unsupported auth protocol %d", user.Name, user.AuthProtocol)
	}
	if user.PrivProtocol < PRIV_PROTOCOL_NONE || user.PrivProtocol > PRIV_PROTOCOL_AES256A {
		return fmt.Errorf("user %s: unsupported priv protocol %d", user.Name, user.PrivProtocol)
	}
	if user.AuthProtocol != AUTH_PROTOCOL_NONE && len(user.AuthPassword) < 8 {
		return fmt.Errorf("user %s: auth key too short", user.Name)
	}
	if user.PrivProtocol != PRIV_PROTOCOL_NONE && len(user.PrivPassword) < 8 {
		return fmt.Errorf("user %s: priv key too short", user.Name)
	}
	cp := user
	u.users[user.Name] = &cp
	return nil
}

func (u *USMSecurityModel) DelUser(name string) {
	delete(u.users, name)
}

func (u *USMSecurityModel) User(name string) (UsmUser, bool) {
	usr, ok := u.users[name]
	if !ok {
		return UsmUser{}, false
	}
	return *usr, true
}

// Stat returns one usmStats counter by its RFC3414 name suffix
// ("unknownEngineIDs", "wrongDigests" ...).
func (u *USMSecurityModel) Stat(name string) uint32 {
	for i, n := range usmStatNames {
		if n == name {
			return u.stats[i]
		}
	}
	return 0
}

func (u *USMSecurityModel) count(e *Engine, stat int) uint32 {
	u.stats[stat]++
	e.metrics.usmStat(usmStatNames[stat])
	return u.stats[stat]
}

// RemoteTime returns the estimated boots and time of a remote
// authoritative engine and whether it is known.
func (u *USMSecurityModel) RemoteTime(e *Engine, engineID []byte) (boots, engineTime int32, ok bool) {
	tl, ok := u.timeline[string(engineID)]
	if !ok {
		return 0, 0, false
	}
	return tl.boots, tl.time + int32(e.now().Sub(tl.received)/time.Second), true
}

// engineClock is the boots/time an outgoing message is stamped with.
func (u *USMSecurityModel) engineClock(e *Engine, engineID []byte) (int32, int32) {
	if bytes.Equal(engineID, e.EngineID()) {
		return e.EngineBoots(), e.EngineTime()
	}
	boots, t, _ := u.RemoteTime(e, engineID)
	return boots, t
}

func (u *USMSecurityModel) nextSalt(privProto int, boots int32) []byte {
	if privProto == PRIV_PROTOCOL_DES {
		return desSalt(boots, atomic.AddUint32(&u.saltDES, 1))
	}
	SecParamByteArray := make([]byte, 8)
	binary.BigEndian.PutUint64(SecParamByteArray, atomic.AddUint64(&u.saltAES, 1))
	return SecParamByteArray
}

// GenerateOutgoing builds a complete v3 message: securityParameters,
// optional encryption of the ScopedPDU and the digest over the whole
// message.
func (u *USMSecurityModel) GenerateOutgoing(e *Engine, req *SecurityRequest) ([]byte, error) {
	var SNMP_Packet SNMPv3_Packet
	var SNMP_SecuritySequence SNMPv3_SecSeq
	var user *UsmUser

	if req.SecurityLevel > SECLEVEL_NOAUTH_NOPRIV {
		if ref, ok := req.StateReference.(*UsmUser); ok && ref.Name == req.SecurityName {
			user = ref
		} else {
			user = u.users[req.SecurityName]
		}
		if user == nil {
			return nil, &SecurityError{Op: "generateOutgoing", SecurityName: req.SecurityName, MsgID: req.GlobalData.MsgID, Err: ErrUnknownUserName}
		}
		if user.SecurityLevel() < req.SecurityLevel {
			return nil, &SecurityError{Op: "generateOutgoing", SecurityName: req.SecurityName, MsgID: req.GlobalData.MsgID, Err: ErrUnsupportedSecLevel}
		}
	}

	boots, engineTime := u.engineClock(e, req.SecurityEngineID)
	SNMP_SecuritySequence.AuthEng = req.SecurityEngineID
	SNMP_SecuritySequence.Boots = boots
	SNMP_SecuritySequence.Time = engineTime
	SNMP_SecuritySequence.User = []byte(req.SecurityName)

	SNMP_Packet.Version = SNMP_VERSION_3
	GlobalData, err := ASNber.Marshal(req.GlobalData)
	if err != nil {
		return nil, err
	}
	SNMP_Packet.GlobalData.FullBytes = GlobalData

	if req.SecurityLevel == SECLEVEL_AUTHPRIV {
		salt := u.nextSalt(user.PrivProtocol, boots)
		privKey := u.keys.privKey(user, req.SecurityEngineID)
		EncryptedPdu, Encerr := encryptScopedPDU(user.PrivProtocol, privKey, boots, engineTime, salt, req.ScopedPDU)
		if Encerr != nil {
			return nil, fmt.Errorf("encryption error: %w", Encerr)
		}
		SNMP_SecuritySequence.PrivParams = salt
		SNMP_Packet.PtData.Bytes = EncryptedPdu
		SNMP_Packet.PtData.Tag = ASNber.TagOctetString
	} else {
		SNMP_Packet.PtData.FullBytes = req.ScopedPDU
	}

	if req.SecurityLevel > SECLEVEL_NOAUTH_NOPRIV {
		SNMP_SecuritySequence.AuthParams = make([]byte, authDigestLength(user.AuthProtocol))
	}
	SecuritylData, err := ASNber.Marshal(SNMP_SecuritySequence)
	if err != nil {
		return nil, err
	}
	SNMP_Packet.SecuritySettings = SecuritylData

	SNMPv3Packet, err := ASNber.Marshal(SNMP_Packet)
	if err != nil {
		return nil, err
	}
	if req.SecurityLevel == SECLEVEL_NOAUTH_NOPRIV {
		return SNMPv3Packet, nil
	}

	// Digest считается по всему сообщению с нулевым AuthParams
	authKey := u.keys.authKey(user, req.SecurityEngineID)
	SNMP_SecuritySequence.AuthParams = makeDigest(SNMPv3Packet, authKey, user.AuthProtocol)
	SecuritylData, err = ASNber.Marshal(SNMP_SecuritySequence)
	if err != nil {
		return nil, err
	}
	SNMP_Packet.SecuritySettings = SecuritylData
	return ASNber.Marshal(SNMP_Packet)
}

// ProcessIncoming follows RFC3414 §3.2: engine ID, user, level, digest,
// time window, then decryption.
func (u *USMSecurityModel) ProcessIncoming(e *Engine, in *SecurityIncoming) (*SecurityResult, error) {
	gd := in.GlobalData
	fail := func(secName string, stat int, err error, report bool, level int) (*SecurityResult, error) {
		value := u.count(e, stat)
		se := &SecurityError{Op: "processIncoming", SecurityName: secName, MsgID: gd.MsgID, Err: err}
		if report {
			se.Report = &ReportInfo{OID: usmStatOIDs[stat], Value: value, SecurityLevel: level}
		}
		return nil, se
	}

	var RecivedSecurity SNMPv3_SecSeq
	if _, err := ASNber.Unmarshal(in.SecurityParameters, &RecivedSecurity); err != nil {
		return nil, &SecurityError{Op: "processIncoming", MsgID: gd.MsgID, Err: fmt.Errorf("%w: securityParameters: %v", ErrMalformedMessage, err)}
	}
	if len(gd.MsgFlag) != 1 {
		return nil, &SecurityError{Op: "processIncoming", MsgID: gd.MsgID, Err: fmt.Errorf("%w: msgFlags", ErrMalformedMessage)}
	}
	flags := gd.MsgFlag[0]
	level := SECLEVEL_NOAUTH_NOPRIV
	if flags&(1<<msgFlag_Authenticated_Bit) != 0 {
		level = SECLEVEL_AUTHNOPRIV
		if flags&(1<<msgFlag_Encrypted_Bit) != 0 {
			level = SECLEVEL_AUTHPRIV
		}
	}
	reportable := flags&(1<<msgFlag_Reportable_Bit) != 0
	secName := string(RecivedSecurity.User)
	engineID := RecivedSecurity.AuthEng
	authoritative := bytes.Equal(engineID, e.EngineID())

	// Запрос к чужому EngineID: это discovery
	if !authoritative && reportable {
		return fail(secName, usmStatUnknownEngineIDs, ErrUnknownEngineID, true, SECLEVEL_NOAUTH_NOPRIV)
	}

	var user *UsmUser
	if secName != "" || level > SECLEVEL_NOAUTH_NOPRIV || authoritative {
		user = u.users[secName]
		if user == nil {
			return fail(secName, usmStatUnknownUserNames, ErrUnknownUserName, false, 0)
		}
		if user.SecurityLevel() < level {
			return fail(secName, usmStatUnsupportedSecLevels, ErrUnsupportedSecLevel, false, 0)
		}
	}

	if level > SECLEVEL_NOAUTH_NOPRIV {
		authKey := u.keys.authKey(user, engineID)
		ok, err := verifyDigestRAW(in.WholeMsg, RecivedSecurity.AuthParams, authKey, user.AuthProtocol)
		if err != nil || !ok {
			return fail(secName, usmStatWrongDigests, ErrWrongDigest, false, 0)
		}
		if !u.checkTimeWindow(e, engineID, authoritative, RecivedSecurity.Boots, RecivedSecurity.Time) {
			return fail(secName, usmStatNotInTimeWindows, ErrNotInTimeWindow, authoritative, SECLEVEL_AUTHNOPRIV)
		}
	} else if !authoritative && len(engineID) > 0 {
		if _, known := u.timeline[string(engineID)]; !known {
			// discovery Report: первая привязка времени удалённого агента
			u.timeline[string(engineID)] = &timelineEntry{boots: RecivedSecurity.Boots, time: RecivedSecurity.Time, received: e.now()}
		}
	}

	res := &SecurityResult{
		SecurityEngineID: engineID,
		SecurityName:     secName,
		SecurityLevel:    level,
		MaxSizeResponse:  gd.MsgMaxSize,
	}
	if user != nil {
		res.StateReference = user
	}

	if level == SECLEVEL_AUTHPRIV {
		if in.Payload.Class != ASNber.ClassUniversal || in.Payload.Tag != ASNber.TagOctetString || in.Payload.IsCompound {
			return fail(secName, usmStatDecryptionErrors, ErrDecryption, false, 0)
		}
		privKey := u.keys.privKey(user, engineID)
		DecryptedPDU, err := decryptScopedPDU(user.PrivProtocol, privKey, RecivedSecurity.Boots, RecivedSecurity.Time, RecivedSecurity.PrivParams, in.Payload.Bytes)
		if err != nil || len(DecryptedPDU) == 0 || DecryptedPDU[0] != 0x30 {
			return fail(secName, usmStatDecryptionErrors, ErrDecryption, false, 0)
		}
		res.ScopedPDU = DecryptedPDU
	} else {
		if len(in.Payload.FullBytes) == 0 || in.Payload.FullBytes[0] != 0x30 {
			return nil, &SecurityError{Op: "processIncoming", SecurityName: secName, MsgID: gd.MsgID, Err: fmt.Errorf("%w: plaintext ScopedPDU expected", ErrMalformedMessage)}
		}
		res.ScopedPDU = in.Payload.FullBytes
	}
	return res, nil
}

// checkTimeWindow is RFC3414 §3.2 step 7. On the non-authoritative side
// the timeline only moves forward and only for authentic messages.
func (u *USMSecurityModel) checkTimeWindow(e *Engine, engineID []byte, authoritative bool, boots, engineTime int32) bool {
	if boots == SNMP_MAXENGINEBOOTS {
		return false
	}
	if authoritative {
		if boots != e.EngineBoots() {
			return false
		}
		diff := int64(engineTime) - int64(e.EngineTime())
		return diff <= SNMP_TIMEWINDOW && diff >= -SNMP_TIMEWINDOW
	}

	tl, ok := u.timeline[string(engineID)]
	if !ok || boots > tl.boots || (boots == tl.boots && engineTime > tl.time) {
		u.timeline[string(engineID)] = &timelineEntry{boots: boots, time: engineTime, received: e.now()}
		return true
	}
	if boots < tl.boots {
		return false
	}
	return int64(tl.time) <= int64(engineTime)+SNMP_TIMEWINDOW
}

// ReceiveTimerTick expires stale timeline entries.
func (u *USMSecurityModel) ReceiveTimerTick(e *Engine, now time.Time) {
	for id, tl := range u.timeline {
		if now.Sub(tl.received) > usmTimelineExpiry {
			delete(u.timeline, id)
			u.keys.forgetEngine([]byte(id))
			e.log.Debug("USM timeline expired", slog.String("remote_engine_id", fmt.Sprintf("%x", id)))
		}
	}
}

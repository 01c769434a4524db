// PowerSNMPv3 - SNMP library for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMPEngine

// ASN.1/BER tag encoding constants.
// Bits 7-6: Class (Universal=00, Application=01, Context=10, Private=11)
// Bit 5: Constructed flag (0=primitive, 1=constructed/compound like SEQUENCE)
// Bits 4-0: Tag Number
//
// Example: Class=0x01 (Application), Tag=0x03 → 0x43 (APPLICATION 3 = SNMP TIMETICKS)

const (
	// SNMP Application Types (Class=1)
	SNMP_type_IPADDR    = 0
	SNMP_type_COUNTER32 = 1
	SNMP_type_GAUGE32   = 2
	SNMP_type_TIMETICKS = 3
	SNMP_type_OPAQUE    = 4
	SNMP_type_COUNTER64 = 6

	// Limits & Defaults
	SNMP_MAXMSGSIZE        = 65507
	SNMP_MINMSGSIZE        = 484
	SNMP_DEFAULTRETRY      = 3
	SNMP_MAXIMUM_RETRY     = 10
	SNMP_DEFAULTTIMEOUT_MS = 1000
	SNMP_MAXTIMEOUT_MS     = 60000
	SNMP_MAXREPETITION     = 100
	SNMP_TIMEWINDOW        = 150
	SNMP_MAXENGINEBOOTS    = 2147483647

	// SNMPv2 Exception Tags (ContextSpecific)
	tagERR_noSuchObject           = 0
	tagandclassERR_noSuchObject   = 0x80
	tagERR_noSuchInstance         = 1
	tagandclassERR_noSuchInstance = 0x81
	tagERR_EndOfMib               = 2
	tagandclassERR_EndOfMib       = 0x82
)

const (
	// SNMPv3 Message Flags (msgFlags byte)
	msgFlag_Reportable_Bit    = 2
	msgFlag_Encrypted_Bit     = 1
	msgFlag_Authenticated_Bit = 0
)

const (
	// Wire version tags
	SNMP_VERSION_1  = 0
	SNMP_VERSION_2C = 1
	SNMP_VERSION_3  = 3
)

const (
	// Message Processing Model identifiers (RFC3411 SnmpMessageProcessingModel)
	MP_MODEL_SNMPv1  = 0
	MP_MODEL_SNMPv2c = 1
	MP_MODEL_SNMPv3  = 3

	// Security Model identifiers (RFC3411 SnmpSecurityModel)
	SEC_MODEL_ANY     = 0
	SEC_MODEL_SNMPv1  = 1
	SEC_MODEL_SNMPv2c = 2
	SEC_MODEL_USM     = 3

	// Access Control Model identifiers
	ACM_MODEL_NONE = 0
	ACM_MODEL_VACM = 3
)

const (
	// SNMPv2 PDU Types (RFC3416)
	SNMPv2_REQUEST_GET      = 0
	SNMPv2_REQUEST_GETNEXT  = 1
	SNMPv2_REQUEST_RESPONSE = 2
	SNMPv2_REQUEST_SET      = 3
	SNMPv2_REQUEST_GETBULK  = 5
	SNMPv2_REQUEST_INFORM   = 6
	SNMPv2_REQUEST_TRAP     = 7
	SNMPv2_REQUEST_REPORT   = 8
)

const (
	// SNMPv3 USM Authentication Protocols
	AUTH_PROTOCOL_NONE   = 0
	AUTH_PROTOCOL_MD5    = 1
	AUTH_PROTOCOL_SHA    = 2
	AUTH_PROTOCOL_SHA224 = 3
	AUTH_PROTOCOL_SHA256 = 4
	AUTH_PROTOCOL_SHA384 = 5
	AUTH_PROTOCOL_SHA512 = 6
)

const (
	// SNMPv3 USM Privacy Protocols
	PRIV_PROTOCOL_NONE    = 0
	PRIV_PROTOCOL_AES128  = 1
	PRIV_PROTOCOL_DES     = 2
	PRIV_PROTOCOL_AES192  = 3
	PRIV_PROTOCOL_AES256  = 4
	PRIV_PROTOCOL_AES192A = 5
	PRIV_PROTOCOL_AES256A = 6
)

const (
	// SNMPv3 Security Levels (RFC3411)
	SECLEVEL_NOAUTH_NOPRIV = 0
	SECLEVEL_AUTHNOPRIV    = 1
	SECLEVEL_AUTHPRIV      = 2
)

const (
	// SNMP Error Status Codes (RFC3416 §3)
	SNMP_ErrNoError             = 0
	SNMP_ErrTooBig              = 1
	SNMP_ErrNoSuchName          = 2
	SNMP_ErrBadValue            = 3
	SNMP_ErrReadOnly            = 4
	SNMP_ErrGenErr              = 5
	SNMP_ErrNoAccess            = 6
	SNMP_ErrWrongType           = 7
	SNMP_ErrWrongLength         = 8
	SNMP_ErrWrongEncoding       = 9
	SNMP_ErrWrongValue          = 10
	SNMP_ErrNoCreation          = 11
	SNMP_ErrInconsistentValue   = 12
	SNMP_ErrResourceUnavailable = 13
	SNMP_ErrCommitFailed        = 14
	SNMP_ErrUndoFailed          = 15
	SNMP_ErrAuthorizationError  = 16
	SNMP_ErrNotWritable         = 17
	SNMP_ErrInconsistentName    = 18
)

// Report and framework object identifiers (RFC3411, RFC3412, RFC3414, RFC3418)
var (
	oidUsmStatsUnsupportedSecLevels = []int{1, 3, 6, 1, 6, 3, 15, 1, 1, 1, 0}
	oidUsmStatsNotInTimeWindows     = []int{1, 3, 6, 1, 6, 3, 15, 1, 1, 2, 0}
	oidUsmStatsUnknownUserNames     = []int{1, 3, 6, 1, 6, 3, 15, 1, 1, 3, 0}
	oidUsmStatsUnknownEngineIDs     = []int{1, 3, 6, 1, 6, 3, 15, 1, 1, 4, 0}
	oidUsmStatsWrongDigests         = []int{1, 3, 6, 1, 6, 3, 15, 1, 1, 5, 0}
	oidUsmStatsDecryptionErrors     = []int{1, 3, 6, 1, 6, 3, 15, 1, 1, 6, 0}

	oidSnmpUnknownSecurityModels = []int{1, 3, 6, 1, 6, 3, 11, 2, 1, 1, 0}
	oidSnmpInvalidMsgs           = []int{1, 3, 6, 1, 6, 3, 11, 2, 1, 2, 0}
	oidSnmpUnknownPDUHandlers    = []int{1, 3, 6, 1, 6, 3, 11, 2, 1, 3, 0}
	oidSnmpUnknownContexts       = []int{1, 3, 6, 1, 6, 3, 12, 1, 5, 0}

	oidSnmpEngineID     = []int{1, 3, 6, 1, 6, 3, 10, 2, 1, 1}
	oidSnmpEngineBoots  = []int{1, 3, 6, 1, 6, 3, 10, 2, 1, 2}
	oidSnmpEngineTime   = []int{1, 3, 6, 1, 6, 3, 10, 2, 1, 3}
	oidSnmpEngineMaxMsg = []int{1, 3, 6, 1, 6, 3, 10, 2, 1, 4}

	oidSnmpInPkts              = []int{1, 3, 6, 1, 2, 1, 11, 1}
	oidSnmpInBadVersions       = []int{1, 3, 6, 1, 2, 1, 11, 3}
	oidSnmpInBadCommunityNames = []int{1, 3, 6, 1, 2, 1, 11, 4}
	oidSnmpInASNParseErrs      = []int{1, 3, 6, 1, 2, 1, 11, 6}
	oidSnmpSilentDrops         = []int{1, 3, 6, 1, 2, 1, 11, 31}
)

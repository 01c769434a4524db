//go:build !integration

// PowerSNMPv3 - SNMP library for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMPEngine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNotificationMessage(t *testing.T) {
	now := time.Date(2026, 3, 1, 15, 0, 0, 0, time.FixedZone("MSK", 3*3600))
	n := &Notification{
		Version:      SNMP_VERSION_3,
		SecurityName: "trapuser",
		ContextName:  "vrf-red",
		Address:      testAddr("10.0.0.1:162"),
		PDU: &PDU{
			Type:      SNMPv2_REQUEST_INFORM,
			RequestID: 77,
			VarBinds: []VarBind{
				{OID: []int{1, 3, 6, 1, 2, 1, 1, 3, 0}, Value: Concrete(SetSNMPVar_TimeTicks(4200))},
				{OID: []int{1, 3, 6, 1, 2, 1, 1, 5, 0}, Value: Concrete(SetSNMPVar_OctetString("core-sw1"))},
				{OID: []int{1, 3, 6, 1, 2, 1, 2, 2, 1, 2, 9}, Value: NoSuchInstance()},
			},
		},
	}
	msg := NewNotificationMessage(n, now)
	assert.Equal(t, "v3", msg.Version)
	assert.Equal(t, "inform", msg.PDU)
	assert.Equal(t, "10.0.0.1:162", msg.Source)
	assert.Equal(t, int32(77), msg.RequestID)
	assert.Equal(t, time.UTC, msg.Time.Location())
	require.Len(t, msg.VarBinds, 3)
	assert.Equal(t, "1.3.6.1.2.1.1.3.0", msg.VarBinds[0].OID)
	assert.Equal(t, "TIMETICKS", msg.VarBinds[0].Type)
	assert.Equal(t, NotificationVarBind{OID: "1.3.6.1.2.1.1.5.0", Type: "Universal OCTET STRING", Value: "core-sw1"}, msg.VarBinds[1])
	assert.Equal(t, NotificationVarBind{OID: "1.3.6.1.2.1.2.2.1.2.9", Type: "noSuchInstance", Value: "noSuchInstance"}, msg.VarBinds[2])

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "2026-03-01T12:00:00Z", doc["time"])
	assert.Equal(t, "vrf-red", doc["context_name"])

	n.Version = SNMP_VERSION_2C
	n.ContextName = ""
	n.PDU.Type = SNMPv2_REQUEST_TRAP
	msg = NewNotificationMessage(n, now)
	assert.Equal(t, "v2c", msg.Version)
	assert.Equal(t, "trap", msg.PDU)
	data, err = json.Marshal(msg)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "context_name")
}

func TestNewNotificationMessage_NoPDU(t *testing.T) {
	msg := NewNotificationMessage(&Notification{Version: 9}, time.Unix(0, 0))
	assert.Equal(t, "unknown(9)", msg.Version)
	assert.Equal(t, "trap", msg.PDU)
	assert.Empty(t, msg.Source)
	assert.Nil(t, msg.VarBinds)
}

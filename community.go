// PowerSNMPv3 - SNMP library for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMPEngine

import (
	"errors"
	"fmt"
	"time"

	ASNber "github.com/OlegPowerC/asn1modsnmp"
)

type communityEntry struct {
	community       string
	securityName    string
	contextEngineID []byte
	contextName     string
}

// communityTable is shared by the v1 and v2c community models
// (snmpCommunityTable, RFC3584).
type communityTable struct {
	byCommunity map[string]*communityEntry
	byName      map[string]*communityEntry
}

// CommunitySecurityModel is the SNMPv1 (ID 1) or SNMPv2c (ID 2) security
// model. Security level is always noAuthNoPriv.
type CommunitySecurityModel struct {
	id    int
	table *communityTable
}

// NewCommunitySecurityModels returns the v1 and v2c models over one
// community table.
func NewCommunitySecurityModels() (v1 *CommunitySecurityModel, v2c *CommunitySecurityModel) {
	t := &communityTable{byCommunity: make(map[string]*communityEntry), byName: make(map[string]*communityEntry)}
	return &CommunitySecurityModel{id: SEC_MODEL_SNMPv1, table: t}, &CommunitySecurityModel{id: SEC_MODEL_SNMPv2c, table: t}
}

func (c *CommunitySecurityModel) ID() int { return c.id }

// AddCommunity maps a community string to a security name and context.
// An empty contextEngineID means the local engine.
func (c *CommunitySecurityModel) AddCommunity(community, securityName string, contextEngineID []byte, contextName string) error {
	if community == "" {
		return errors.New("community is empty")
	}
	if securityName == "" {
		securityName = community
	}
	if old, ok := c.table.byCommunity[community]; ok {
		delete(c.table.byName, old.securityName)
	}
	ent := &communityEntry{community: community, securityName: securityName, contextEngineID: append([]byte(nil), contextEngineID...), contextName: contextName}
	c.table.byCommunity[community] = ent
	c.table.byName[securityName] = ent
	return nil
}

func (c *CommunitySecurityModel) DelCommunity(community string) {
	if ent, ok := c.table.byCommunity[community]; ok {
		delete(c.table.byCommunity, community)
		if c.table.byName[ent.securityName] == ent {
			delete(c.table.byName, ent.securityName)
		}
	}
}

// GenerateOutgoing wraps the PDU in the community envelope. Responses reuse
// the community of the request.
func (c *CommunitySecurityModel) GenerateOutgoing(e *Engine, req *SecurityRequest) ([]byte, error) {
	ent, ok := req.StateReference.(*communityEntry)
	if !ok {
		ent = c.table.byName[req.SecurityName]
	}
	if ent == nil {
		return nil, &SecurityError{Op: "generateOutgoing", SecurityName: req.SecurityName, Err: ErrUnknownCommunity}
	}
	var pkt SNMP_Packet_V2
	pkt.Version = req.Version
	pkt.V2CcommunityString = []byte(ent.community)
	pkt.V2VarBind = req.PDU
	return ASNber.Marshal(pkt)
}

func (c *CommunitySecurityModel) ProcessIncoming(e *Engine, in *SecurityIncoming) (*SecurityResult, error) {
	ent, ok := c.table.byCommunity[string(in.Community)]
	if !ok {
		e.counters.inBadCommunityNames++
		return nil, &SecurityError{Op: "processIncoming", Err: fmt.Errorf("%w: %q", ErrUnknownCommunity, in.Community)}
	}
	ctxEngineID := ent.contextEngineID
	if len(ctxEngineID) == 0 {
		ctxEngineID = e.EngineID()
	}
	return &SecurityResult{
		SecurityEngineID: e.EngineID(),
		SecurityName:     ent.securityName,
		SecurityLevel:    SECLEVEL_NOAUTH_NOPRIV,
		StateReference:   ent,
		PDU:              in.Payload,
		ContextEngineID:  ctxEngineID,
		ContextName:      ent.contextName,
		MaxSizeResponse:  e.MaxMessageSize(),
	}, nil
}

func (c *CommunitySecurityModel) ReceiveTimerTick(e *Engine, now time.Time) {}

// PowerSNMPv3 - SNMP library for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMPEngine

import (
	"strings"
)

// Context match modes of vacmAccessContextMatch.
const (
	ContextMatchExact  = 1
	ContextMatchPrefix = 2
)

type vacmGroupKey struct {
	securityModel int
	securityName  string
}

type vacmAccessEntry struct {
	group         string
	contextPrefix string
	contextMatch  int
	securityModel int
	minLevel      int
	readView      string
	writeView     string
	notifyView    string
}

type vacmViewFamily struct {
	subtree  []int
	mask     []byte
	included bool
}

// VACM is the View-based Access Control Model (RFC3415).
type VACM struct {
	groups map[vacmGroupKey]string
	access []*vacmAccessEntry
	views  map[string][]vacmViewFamily
}

func NewVACM() *VACM {
	return &VACM{groups: make(map[vacmGroupKey]string), views: make(map[string][]vacmViewFamily)}
}

func (v *VACM) ID() int { return ACM_MODEL_VACM }

// AddGroup maps (securityModel, securityName) to a group.
func (v *VACM) AddGroup(securityModel int, securityName, group string) {
	v.groups[vacmGroupKey{securityModel, securityName}] = group
}

// AddAccess adds a vacmAccessTable row. securityModel SEC_MODEL_ANY matches
// every model; an empty view name denies that view type.
func (v *VACM) AddAccess(group, context string, contextMatch int, securityModel int, minLevel int, readView, writeView, notifyView string) {
	if contextMatch != ContextMatchPrefix {
		contextMatch = ContextMatchExact
	}
	v.access = append(v.access, &vacmAccessEntry{
		group:         group,
		contextPrefix: context,
		contextMatch:  contextMatch,
		securityModel: securityModel,
		minLevel:      minLevel,
		readView:      readView,
		writeView:     writeView,
		notifyView:    notifyView,
	})
}

// AddViewFamily adds a vacmViewTreeFamily row. Mask bits are MSB first, one
// per sub-identifier of subtree; missing bits are 1.
func (v *VACM) AddViewFamily(view string, subtree []int, mask []byte, included bool) {
	v.views[view] = append(v.views[view], vacmViewFamily{subtree: copyOID(subtree), mask: append([]byte(nil), mask...), included: included})
}

// bestAccess selects the access entry by the RFC3415 §4 preference:
// specific model, exact context, longer prefix, higher level.
func (v *VACM) bestAccess(group string, securityModel int, securityLevel int, contextName string) *vacmAccessEntry {
	var best *vacmAccessEntry
	better := func(a, b *vacmAccessEntry) bool {
		if (a.securityModel != SEC_MODEL_ANY) != (b.securityModel != SEC_MODEL_ANY) {
			return a.securityModel != SEC_MODEL_ANY
		}
		if (a.contextMatch == ContextMatchExact) != (b.contextMatch == ContextMatchExact) {
			return a.contextMatch == ContextMatchExact
		}
		if len(a.contextPrefix) != len(b.contextPrefix) {
			return len(a.contextPrefix) > len(b.contextPrefix)
		}
		return a.minLevel > b.minLevel
	}
	for _, ae := range v.access {
		if ae.group != group {
			continue
		}
		if ae.securityModel != SEC_MODEL_ANY && ae.securityModel != securityModel {
			continue
		}
		if ae.minLevel > securityLevel {
			continue
		}
		if ae.contextMatch == ContextMatchExact && ae.contextPrefix != contextName {
			continue
		}
		if ae.contextMatch == ContextMatchPrefix && !strings.HasPrefix(contextName, ae.contextPrefix) {
			continue
		}
		if best == nil || better(ae, best) {
			best = ae
		}
	}
	return best
}

func (f *vacmViewFamily) matches(oid []int) bool {
	if len(oid) < len(f.subtree) {
		return false
	}
	for i, sub := range f.subtree {
		if i/8 < len(f.mask) && f.mask[i/8]&(0x80>>(i%8)) == 0 {
			continue
		}
		if oid[i] != sub {
			return false
		}
	}
	return true
}

// IsAccessAllowed resolves group, access entry and view, then checks oid
// against the view families: the longest matching subtree wins and an
// excluded family wins a tie.
func (v *VACM) IsAccessAllowed(securityModel int, securityName string, securityLevel int, viewType string, contextName string, oid []int) error {
	group, ok := v.groups[vacmGroupKey{securityModel, securityName}]
	if !ok {
		return &AccessError{ViewType: viewType, OID: oid, Err: ErrNoGroupName}
	}
	ae := v.bestAccess(group, securityModel, securityLevel, contextName)
	if ae == nil {
		return &AccessError{ViewType: viewType, OID: oid, Err: ErrNoAccessEntry}
	}
	var view string
	switch viewType {
	case ViewRead:
		view = ae.readView
	case ViewWrite:
		view = ae.writeView
	case ViewNotify:
		view = ae.notifyView
	}
	families, ok := v.views[view]
	if view == "" || !ok || len(families) == 0 {
		return &AccessError{ViewType: viewType, OID: oid, Err: ErrNoSuchView}
	}

	var match *vacmViewFamily
	for i := range families {
		f := &families[i]
		if !f.matches(oid) {
			continue
		}
		if match == nil || len(f.subtree) > len(match.subtree) || (len(f.subtree) == len(match.subtree) && !f.included) {
			match = f
		}
	}
	if match == nil || !match.included {
		return &AccessError{ViewType: viewType, OID: oid, Err: ErrNotInView}
	}
	return nil
}

// NoAccessControl allows everything.
type NoAccessControl struct{}

func (NoAccessControl) ID() int { return ACM_MODEL_NONE }

func (NoAccessControl) IsAccessAllowed(int, string, int, string, string, []int) error { return nil }

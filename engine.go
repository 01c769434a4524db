// PowerSNMPv3 - SNMP library for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMPEngine

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"net"
	"slices"
	"time"

	"github.com/google/uuid"
)

const (
	userContextPrefix   = "user:"
	engineContextPrefix = "engine:"
)

// engineCounters are the SNMPv2-MIB and framework MIB counters.
type engineCounters struct {
	inPkts                uint32
	outPkts               uint32
	inBadVersions         uint32
	inBadCommunityNames   uint32
	inASNParseErrs        uint32
	silentDrops           uint32
	invalidMsgs           uint32
	unknownSecurityModels uint32
	unknownPDUHandlers    uint32
	unknownContexts       uint32
}

// Engine is one SNMP entity: identity, model registries, dispatcher and
// the object tree served to managers. An Engine is not safe for concurrent
// use; the bound transport calls it from a single goroutine.
type Engine struct {
	id         []byte
	boots      int32
	start      time.Time
	clock      func() time.Time
	maxMsgSize int

	log     *slog.Logger
	metrics *Metrics
	mib     *MibTree

	dispatcher *Dispatcher
	mpModels   map[int]MessageProcessingModel
	secModels  map[int]SecurityModel
	acModels   map[int]AccessControlModel
	acmID      int

	transport TransportDispatcher
	ctx       map[string]any
	notify    NotificationHandler
	contexts  map[string]struct{}
	counters  engineCounters
}

// generateEngineID builds an RFC3411 engine ID: enterprise 8072 with the
// high bit set, format 0x80 (enterprise specific), then 8 random octets.
func generateEngineID() []byte {
	u := uuid.New()
	id := []byte{0x80, 0x00, 0x1f, 0x88, 0x80}
	return append(id, u[:8]...)
}

// NewEngine creates an engine with the default models registered:
// SNMPv1, SNMPv2c and SNMPv3 processing, community and USM security, no
// access control and VACM.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	e := &Engine{
		id:         cfg.EngineID,
		clock:      cfg.Clock,
		maxMsgSize: cfg.MaxMessageSize,
		log:        cfg.Logger,
		mib:        NewMibTree(),
		mpModels:   make(map[int]MessageProcessingModel),
		secModels:  make(map[int]SecurityModel),
		acModels:   make(map[int]AccessControlModel),
		acmID:      cfg.AccessControlModel,
		ctx:        make(map[string]any),
		contexts:   make(map[string]struct{}),
	}
	if len(e.id) == 0 {
		e.id = generateEngineID()
	} else {
		e.id = append([]byte(nil), e.id...)
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	e.log = e.log.With(slog.String("engine_id", hex.EncodeToString(e.id)))
	if e.maxMsgSize == 0 {
		e.maxMsgSize = SNMP_MAXMSGSIZE
	}
	e.maxMsgSize = min(max(e.maxMsgSize, SNMP_MINMSGSIZE), SNMP_MAXMSGSIZE)
	e.metrics = NewMetrics(cfg.Registerer, hex.EncodeToString(e.id))
	e.start = e.clock()

	store := cfg.BootStore
	if store == nil {
		store = FileBootStore{Dir: DefaultBootStoreDir()}
	}
	e.boots = e.loadBootRecord(store)
	e.dispatcher = NewDispatcher()

	v1sec, v2sec := NewCommunitySecurityModels()
	for _, sm := range []SecurityModel{v1sec, v2sec, NewUSMSecurityModel()} {
		if err := e.RegisterSecurityModel(sm); err != nil {
			return nil, err
		}
	}
	for _, mp := range []MessageProcessingModel{NewSNMPv1MessageProcessing(), NewSNMPv2cMessageProcessing(), NewSNMPv3MessageProcessing()} {
		if err := e.RegisterMessageProcessingModel(mp); err != nil {
			return nil, err
		}
	}
	for _, acm := range []AccessControlModel{NoAccessControl{}, NewVACM()} {
		if err := e.RegisterAccessControlModel(acm); err != nil {
			return nil, err
		}
	}
	if _, ok := e.acModels[e.acmID]; !ok {
		return nil, fmt.Errorf("%w: access control model %d", ErrUnknownModel, e.acmID)
	}

	if err := e.registerFrameworkMib(); err != nil {
		return nil, fmt.Errorf("framework MIB: %w", err)
	}
	e.log.Info("SNMP engine started", slog.Int("boots", int(e.boots)), slog.Int("max_message_size", e.maxMsgSize))
	return e, nil
}

// loadBootRecord increments the persisted boot counter. Storage failures
// are logged and never fatal.
func (e *Engine) loadBootRecord(store BootStore) int32 {
	boots, err := store.Load(e.id)
	if err != nil {
		if !errors.Is(err, ErrBootRecordNotFound) {
			e.log.Warn("boot record not loaded", slog.String("error", err.Error()))
		}
		boots = 0
	}
	// snmpEngineBoots остаётся на 2^31-1 после переполнения
	if boots < SNMP_MAXENGINEBOOTS {
		boots++
	}
	if err := store.Save(e.id, boots); err != nil {
		e.log.Warn("boot record not saved", slog.Int("boots", int(boots)), slog.String("error", err.Error()))
	}
	return boots
}

func scalarOID(instance []int) []int {
	return instance[:len(instance)-1]
}

func counterGetter(c *uint32) func() SNMPVar {
	return func() SNMPVar { return SetSNMPVar_Counter32(*c) }
}

// registerFrameworkMib exposes the engine, usmStats and SNMP group
// counters.
func (e *Engine) registerFrameworkMib() error {
	type scalar struct {
		name   string
		oid    []int
		syntax Syntax
		get    func() SNMPVar
	}
	scalars := []scalar{
		{"snmpEngineID", oidSnmpEngineID, SyntaxOctetString, func() SNMPVar { return SNMPVar{ValueType: SyntaxOctetString.Tag, Value: e.EngineID()} }},
		{"snmpEngineBoots", oidSnmpEngineBoots, SyntaxInteger, func() SNMPVar { return SetSNMPVar_Int(e.EngineBoots()) }},
		{"snmpEngineTime", oidSnmpEngineTime, SyntaxInteger, func() SNMPVar { return SetSNMPVar_Int(e.EngineTime()) }},
		{"snmpEngineMaxMessageSize", oidSnmpEngineMaxMsg, SyntaxInteger, func() SNMPVar { return SetSNMPVar_Int(int32(e.MaxMessageSize())) }},
		{"snmpInPkts", oidSnmpInPkts, SyntaxCounter32, counterGetter(&e.counters.inPkts)},
		{"snmpInBadVersions", oidSnmpInBadVersions, SyntaxCounter32, counterGetter(&e.counters.inBadVersions)},
		{"snmpInBadCommunityNames", oidSnmpInBadCommunityNames, SyntaxCounter32, counterGetter(&e.counters.inBadCommunityNames)},
		{"snmpInASNParseErrs", oidSnmpInASNParseErrs, SyntaxCounter32, counterGetter(&e.counters.inASNParseErrs)},
		{"snmpSilentDrops", oidSnmpSilentDrops, SyntaxCounter32, counterGetter(&e.counters.silentDrops)},
		{"snmpUnknownSecurityModels", scalarOID(oidSnmpUnknownSecurityModels), SyntaxCounter32, counterGetter(&e.counters.unknownSecurityModels)},
		{"snmpInvalidMsgs", scalarOID(oidSnmpInvalidMsgs), SyntaxCounter32, counterGetter(&e.counters.invalidMsgs)},
		{"snmpUnknownPDUHandlers", scalarOID(oidSnmpUnknownPDUHandlers), SyntaxCounter32, counterGetter(&e.counters.unknownPDUHandlers)},
		{"snmpUnknownContexts", scalarOID(oidSnmpUnknownContexts), SyntaxCounter32, counterGetter(&e.counters.unknownContexts)},
	}
	for i := 0; i < usmStatCount; i++ {
		stat := i
		scalars = append(scalars, scalar{"usmStats" + usmStatNames[stat], scalarOID(usmStatOIDs[stat]), SyntaxCounter32, func() SNMPVar {
			var v uint32
			if usm := e.USM(); usm != nil {
				v = usm.stats[stat]
			}
			return SetSNMPVar_Counter32(v)
		}})
	}
	for _, s := range scalars {
		if _, err := e.mib.RegisterScalarFunc(s.name, s.oid, s.syntax, s.get); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) EngineID() []byte { return e.id }

func (e *Engine) EngineBoots() int32 { return e.boots }

// EngineTime is whole seconds since the engine was created.
func (e *Engine) EngineTime() int32 {
	secs := e.clock().Sub(e.start) / time.Second
	if secs > math.MaxInt32 {
		return math.MaxInt32
	}
	if secs < 0 {
		return 0
	}
	return int32(secs)
}

func (e *Engine) MaxMessageSize() int { return e.maxMsgSize }

func (e *Engine) now() time.Time { return e.clock() }

func (e *Engine) Logger() *slog.Logger { return e.log }

func (e *Engine) Metrics() *Metrics { return e.metrics }

// MIB is the object tree served by the command responder.
func (e *Engine) MIB() *MibTree { return e.mib }

func (e *Engine) Dispatcher() *Dispatcher { return e.dispatcher }

// USM returns the registered USM, nil if it was unregistered or replaced.
func (e *Engine) USM() *USMSecurityModel {
	usm, _ := e.secModels[SEC_MODEL_USM].(*USMSecurityModel)
	return usm
}

// Community returns the SNMPv2c community model. Its table is shared with
// the SNMPv1 model.
func (e *Engine) Community() *CommunitySecurityModel {
	if cm, ok := e.secModels[SEC_MODEL_SNMPv2c].(*CommunitySecurityModel); ok {
		return cm
	}
	cm, _ := e.secModels[SEC_MODEL_SNMPv1].(*CommunitySecurityModel)
	return cm
}

func (e *Engine) VACM() *VACM {
	v, _ := e.acModels[ACM_MODEL_VACM].(*VACM)
	return v
}

// RegisterContext declares a context name. While no context is declared
// every name is accepted; afterwards requests for undeclared contexts get
// an snmpUnknownContexts report. The default context "" is always known.
func (e *Engine) RegisterContext(name string) {
	if name == "" {
		return
	}
	e.contexts[name] = struct{}{}
}

func (e *Engine) knownContext(name string) bool {
	if name == "" || len(e.contexts) == 0 {
		return true
	}
	_, ok := e.contexts[name]
	return ok
}

// Model registries.

func (e *Engine) RegisterMessageProcessingModel(mp MessageProcessingModel) error {
	if _, dup := e.mpModels[mp.ID()]; dup {
		return fmt.Errorf("%w: message processing model %d", ErrDuplicateModel, mp.ID())
	}
	e.mpModels[mp.ID()] = mp
	return nil
}

func (e *Engine) UnregisterMessageProcessingModel(id int) error {
	if _, ok := e.mpModels[id]; !ok {
		return fmt.Errorf("%w: message processing model %d", ErrUnknownModel, id)
	}
	delete(e.mpModels, id)
	return nil
}

func (e *Engine) RegisterSecurityModel(sm SecurityModel) error {
	if _, dup := e.secModels[sm.ID()]; dup {
		return fmt.Errorf("%w: security model %d", ErrDuplicateModel, sm.ID())
	}
	e.secModels[sm.ID()] = sm
	return nil
}

func (e *Engine) UnregisterSecurityModel(id int) error {
	if _, ok := e.secModels[id]; !ok {
		return fmt.Errorf("%w: security model %d", ErrUnknownModel, id)
	}
	delete(e.secModels, id)
	return nil
}

func (e *Engine) RegisterAccessControlModel(acm AccessControlModel) error {
	if _, dup := e.acModels[acm.ID()]; dup {
		return fmt.Errorf("%w: access control model %d", ErrDuplicateModel, acm.ID())
	}
	e.acModels[acm.ID()] = acm
	return nil
}

func (e *Engine) UnregisterAccessControlModel(id int) error {
	if _, ok := e.acModels[id]; !ok {
		return fmt.Errorf("%w: access control model %d", ErrUnknownModel, id)
	}
	delete(e.acModels, id)
	return nil
}

// SetAccessControlModel selects the model the command responder consults.
func (e *Engine) SetAccessControlModel(id int) error {
	if _, ok := e.acModels[id]; !ok {
		return fmt.Errorf("%w: access control model %d", ErrUnknownModel, id)
	}
	e.acmID = id
	return nil
}

func (e *Engine) messageProcessingModel(id int) (MessageProcessingModel, error) {
	mp, ok := e.mpModels[id]
	if !ok {
		return nil, fmt.Errorf("%w: message processing model %d", ErrUnknownModel, id)
	}
	return mp, nil
}

func (e *Engine) securityModel(id int) (SecurityModel, error) {
	sm, ok := e.secModels[id]
	if !ok {
		return nil, fmt.Errorf("%w: security model %d", ErrUnknownSecModel, id)
	}
	return sm, nil
}

// Transport binding.

// RegisterTransportDispatcher binds td and installs the engine callbacks.
// Binding the same dispatcher again is a no-op.
func (e *Engine) RegisterTransportDispatcher(td TransportDispatcher) error {
	if e.transport != nil {
		if e.transport == td {
			return nil
		}
		return ErrTransportDispatcherBound
	}
	e.transport = td
	td.RegisterRecvCallback(e.ReceiveMessage)
	td.RegisterTimerCallback(e.ReceiveTimerTick)
	return nil
}

func (e *Engine) UnregisterTransportDispatcher() error {
	if e.transport == nil {
		return ErrNoTransportDispatcher
	}
	e.transport.UnregisterRecvCallback()
	e.transport.UnregisterTimerCallback()
	e.transport = nil
	return nil
}

// CloseDispatcher unbinds and closes the transport.
func (e *Engine) CloseDispatcher() error {
	td := e.transport
	if td == nil {
		return ErrNoTransportDispatcher
	}
	if err := e.UnregisterTransportDispatcher(); err != nil {
		return err
	}
	return td.Close()
}

func (e *Engine) sendMessage(msg []byte, to net.Addr) error {
	if e.transport == nil {
		return ErrNoTransportDispatcher
	}
	if err := e.transport.SendMessage(msg, to); err != nil {
		return err
	}
	e.counters.outPkts++
	e.metrics.packet("out")
	return nil
}

// drop records a silently discarded message.
func (e *Engine) drop(reason string, from net.Addr, err error) {
	e.metrics.dropped(reason)
	attrs := []any{slog.String("reason", reason), slog.String("peer", addrString(from))}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	e.log.Debug("message dropped", attrs...)
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

// ReceiveMessage is the transport receive callback.
func (e *Engine) ReceiveMessage(msg []byte, from net.Addr) {
	e.dispatcher.ReceiveMessage(e, msg, from)
}

// ReceiveTimerTick drives retransmissions and expiry: the dispatcher
// first, then message processing models and security models in ascending
// ID order.
func (e *Engine) ReceiveTimerTick(now time.Time) {
	e.dispatcher.ReceiveTimerTick(e, now)
	for _, id := range slices.Sorted(maps.Keys(e.mpModels)) {
		e.mpModels[id].ReceiveTimerTick(e, now)
	}
	for _, id := range slices.Sorted(maps.Keys(e.secModels)) {
		e.secModels[id].ReceiveTimerTick(e, now)
	}
}

// SendPdu sends a request or notification through the dispatcher and
// returns its request-id.
func (e *Engine) SendPdu(req SendRequest) (int32, error) {
	return e.dispatcher.SendPdu(e, req)
}

// Cancel forgets a pending request; its callback is never called.
func (e *Engine) Cancel(requestID int32) bool {
	return e.dispatcher.Cancel(e, requestID)
}

func (e *Engine) SetNotificationHandler(h NotificationHandler) {
	e.notify = h
}

// User context. Keys live in their own namespace and never collide with
// engine bookkeeping.

func (e *Engine) SetUserContext(key string, value any) {
	e.ctx[userContextPrefix+key] = value
}

func (e *Engine) GetUserContext(key string) (any, bool) {
	v, ok := e.ctx[userContextPrefix+key]
	return v, ok
}

func (e *Engine) DelUserContext(key string) {
	delete(e.ctx, userContextPrefix+key)
}

func (e *Engine) setEngineContext(key string, value any) {
	e.ctx[engineContextPrefix+key] = value
}

func (e *Engine) getEngineContext(key string) (any, bool) {
	v, ok := e.ctx[engineContextPrefix+key]
	return v, ok
}

func (e *Engine) delEngineContext(key string) {
	delete(e.ctx, engineContextPrefix+key)
}

// PowerSNMPv3 - SNMP library for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMPEngine

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/nats-io/nats.go"
)

// Notification is a received TrapV2 or Inform.
type Notification struct {
	Version      int
	SecurityName string
	ContextName  string
	Address      net.Addr
	PDU          *PDU
}

// Confirmed reports an Inform.
func (n *Notification) Confirmed() bool {
	return n.PDU != nil && n.PDU.Type == SNMPv2_REQUEST_INFORM
}

// NotificationHandler receives notifications on the engine's event loop.
type NotificationHandler interface {
	HandleNotification(n *Notification)
}

type NotificationHandlerFunc func(n *Notification)

func (f NotificationHandlerFunc) HandleNotification(n *Notification) { f(n) }

func (e *Engine) deliverNotification(in *IncomingMessage) {
	if e.notify == nil {
		e.log.Debug("notification dropped, no handler", slog.String("peer", addrString(in.Address)))
		return
	}
	e.notify.HandleNotification(&Notification{
		Version:      in.Version,
		SecurityName: in.SecurityName,
		ContextName:  in.ContextName,
		Address:      in.Address,
		PDU:          in.PDU,
	})
}

// NotificationVarBind is the JSON form of one binding.
type NotificationVarBind struct {
	OID   string `json:"oid"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// NotificationMessage is the JSON document published for a notification.
type NotificationMessage struct {
	Time         time.Time             `json:"time"`
	Version      string                `json:"version"`
	PDU          string                `json:"pdu"`
	Source       string                `json:"source"`
	SecurityName string                `json:"security_name"`
	ContextName  string                `json:"context_name,omitempty"`
	RequestID    int32                 `json:"request_id"`
	VarBinds     []NotificationVarBind `json:"varbinds"`
}

func versionName(v int) string {
	switch v {
	case SNMP_VERSION_1:
		return "v1"
	case SNMP_VERSION_2C:
		return "v2c"
	case SNMP_VERSION_3:
		return "v3"
	}
	return fmt.Sprintf("unknown(%d)", v)
}

// NewNotificationMessage converts a notification to its JSON form. OIDs are
// dotted, values go through Convert_Variable_To_String.
func NewNotificationMessage(n *Notification, now time.Time) NotificationMessage {
	msg := NotificationMessage{
		Time:         now.UTC(),
		Version:      versionName(n.Version),
		PDU:          "trap",
		Source:       addrString(n.Address),
		SecurityName: n.SecurityName,
		ContextName:  n.ContextName,
	}
	if n.Confirmed() {
		msg.PDU = "inform"
	}
	if n.PDU == nil {
		return msg
	}
	msg.RequestID = n.PDU.RequestID
	msg.VarBinds = make([]NotificationVarBind, 0, len(n.PDU.VarBinds))
	for _, vb := range n.PDU.VarBinds {
		nv := NotificationVarBind{OID: Convert_OID_IntArrayToString_RAW(vb.OID), Value: vb.Value.String()}
		if vb.Value.IsException() {
			nv.Type = vb.Value.Kind.String()
		} else {
			nv.Type = Convert_ClassTag_to_String(vb.Value.Data)
		}
		msg.VarBinds = append(msg.VarBinds, nv)
	}
	return msg
}

// NATSNotificationSink publishes notifications as JSON to a NATS subject.
type NATSNotificationSink struct {
	nc      *nats.Conn
	subject string
	log     *slog.Logger
	now     func() time.Time
}

// NewNATSNotificationSink connects to url. The connection reconnects
// forever.
func NewNATSNotificationSink(url, subject string, logger *slog.Logger) (*NATSNotificationSink, error) {
	if subject == "" {
		return nil, errors.New("NATS subject is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts := []nats.Option{
		nats.Name("powersnmpengine-trapreceiver"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return &NATSNotificationSink{nc: nc, subject: subject, log: logger, now: time.Now}, nil
}

func (s *NATSNotificationSink) HandleNotification(n *Notification) {
	if s.nc == nil || s.nc.IsClosed() {
		s.log.Warn("nats not connected, notification dropped")
		return
	}
	payload, err := json.Marshal(NewNotificationMessage(n, s.now()))
	if err != nil {
		s.log.Error("notification not encoded", slog.String("error", err.Error()))
		return
	}
	if err := s.nc.Publish(s.subject, payload); err != nil {
		s.log.Warn("notification not published", slog.String("subject", s.subject), slog.String("error", err.Error()))
	}
}

func (s *NATSNotificationSink) Close() {
	if s.nc != nil {
		s.nc.Drain()
		s.nc.Close()
	}
}

// PowerSNMPv3 - SNMP library for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package PowerSNMPEngine

import (
	"net"
	"time"
)

// RecvCallback is called for every datagram the transport receives.
type RecvCallback func(msg []byte, from net.Addr)

// TimerCallback is called on every periodic tick.
type TimerCallback func(now time.Time)

// TransportDispatcher carries messages and drives the engine. All callbacks
// must be invoked from one goroutine: the engine takes no locks.
type TransportDispatcher interface {
	SendMessage(msg []byte, to net.Addr) error
	RegisterRecvCallback(cb RecvCallback)
	UnregisterRecvCallback()
	RegisterTimerCallback(cb TimerCallback)
	UnregisterTimerCallback()
	Close() error
}

// Package ssdp implements the UPnP discovery protocol: per-interface
// multicast listeners answering M-SEARCH, plus alive/byebye
// announcements.
package ssdp

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/goldmedia/goldmedia/internal/logging"
	"github.com/goldmedia/goldmedia/internal/metrics"
	"github.com/goldmedia/goldmedia/internal/netutil"
)

// Engine runs one multicast listener per usable IPv4 interface. Each
// listener answers M-SEARCH with its own interface address in LOCATION
// so renderers on that segment reach us directly.
type Engine struct {
	uuid string
	port int
	log  zerolog.Logger

	mu        sync.Mutex
	listeners []*listener
	stopped   bool
}

type listener struct {
	conn     *net.UDPConn
	ip       net.IP
	location string
	limiter  *rate.Limiter
}

// New creates an SSDP engine for the device uuid answering with
// LOCATION URLs on the given HTTP port.
func New(uuid string, port int) *Engine {
	return &Engine{
		uuid: uuid,
		port: port,
		log:  logging.WithComponent("ssdp"),
	}
}

// Start binds every usable interface and begins serving M-SEARCH. A
// bind failure on one interface is logged and skipped; Start returns an
// error only when no interface could be bound.
func (e *Engine) Start(ctx context.Context) error {
	group, err := net.ResolveUDPAddr("udp4", multicastAddr)
	if err != nil {
		return fmt.Errorf("resolve multicast group: %w", err)
	}

	addrs := netutil.InterfaceAddrs()
	for _, ia := range addrs {
		conn, err := net.ListenMulticastUDP("udp4", &ia.Iface, group)
		if err != nil {
			e.log.Warn().Err(err).Str("interface", ia.Iface.Name).Msg("could not bind discovery socket")
			continue
		}
		conn.SetReadBuffer(8192)

		l := &listener{
			conn:     conn,
			ip:       ia.IP,
			location: fmt.Sprintf("http://%s:%d/device.xml", ia.IP, e.port),
			limiter:  rate.NewLimiter(rate.Limit(20), 40),
		}
		e.mu.Lock()
		e.listeners = append(e.listeners, l)
		e.mu.Unlock()

		go e.serve(ctx, l)
		e.log.Info().Str("interface", ia.Iface.Name).Stringer("ip", ia.IP).Msg("discovery listener started")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.listeners) == 0 {
		return fmt.Errorf("no interface could join %s", multicastAddr)
	}
	return nil
}

func (e *Engine) serve(ctx context.Context, l *listener) {
	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return
		}
		l.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, remote, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		msg := string(buf[:n])
		if !strings.HasPrefix(msg, "M-SEARCH") {
			continue
		}
		if !l.limiter.Allow() {
			continue
		}
		go e.respond(l, msg, remote)
	}
}

func (e *Engine) respond(l *listener, msg string, remote *net.UDPAddr) {
	targets := searchTargets(extractHeader(msg, "ST"))
	if targets == nil {
		return
	}

	conn, err := net.DialUDP("udp4", nil, remote)
	if err != nil {
		return
	}
	defer conn.Close()

	jitter := len(targets) > 1
	for _, target := range targets {
		if jitter {
			time.Sleep(time.Duration(100+rand.Intn(200)) * time.Millisecond)
		}
		if _, err := conn.Write(searchResponse(e.uuid, l.location, target)); err != nil {
			return
		}
		metrics.SSDPResponses.WithLabelValues(shortTarget(target)).Inc()
	}
	e.log.Debug().Stringer("client", remote).Int("targets", len(targets)).Msg("answered search")
}

func shortTarget(target string) string {
	if i := strings.LastIndex(target, ":"); i > 0 {
		if j := strings.LastIndex(target[:i], ":"); j >= 0 {
			return target[j+1 : i]
		}
	}
	return target
}

// Announce multicasts one NOTIFY burst from every bound interface. nts
// is "ssdp:alive" or "ssdp:byebye". Packets are spaced 100ms apart so
// slow renderers keep up.
func (e *Engine) Announce(nts string) {
	e.mu.Lock()
	listeners := make([]*listener, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()

	group, err := net.ResolveUDPAddr("udp4", multicastAddr)
	if err != nil {
		return
	}
	for _, l := range listeners {
		conn, err := net.DialUDP("udp4", &net.UDPAddr{IP: l.ip}, group)
		if err != nil {
			continue
		}
		for _, target := range announceTargets() {
			conn.Write(notifyMessage(e.uuid, l.location, target, nts))
			time.Sleep(100 * time.Millisecond)
		}
		conn.Close()
	}
	e.log.Info().Str("type", nts).Int("interfaces", len(listeners)).Msg("announcement sent")
}

// Shutdown sends byebye everywhere, waits a grace period so the packets
// drain, and closes all sockets.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	e.Announce("ssdp:byebye")
	time.Sleep(500 * time.Millisecond)

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, l := range e.listeners {
		l.conn.Close()
	}
	e.listeners = nil
}

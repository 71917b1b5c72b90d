package upnp

import (
	"bytes"
	"crypto/md5"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/goldmedia/goldmedia/internal/logging"
	"github.com/goldmedia/goldmedia/internal/metrics"
)

const (
	defaultSubTimeout = 1800 * time.Second
	notifyTimeout     = 2 * time.Second
	deliveryQueueLen  = 16
)

var errQueueFull = errors.New("delivery queue full")

// subscription's queue carries update ids to its single delivery
// goroutine, which assigns SEQ numbers in order.
type subscription struct {
	callback string
	expiry   time.Time
	queue    chan uint32
}

// Eventing implements GENA for the ContentDirectory service. It also
// owns SystemUpdateID: every library mutation bumps the counter and
// fans a NOTIFY out to all live subscribers.
type Eventing struct {
	log    zerolog.Logger
	client *http.Client

	mu       sync.Mutex
	updateID uint32
	subs     map[string]*subscription
}

// NewEventing creates the engine. SystemUpdateID starts at 1 so
// renderers never see the zero value.
func NewEventing() *Eventing {
	return &Eventing{
		log:      logging.WithComponent("eventing"),
		client:   &http.Client{Timeout: notifyTimeout},
		updateID: 1,
		subs:     map[string]*subscription{},
	}
}

// SystemUpdateID returns the current counter.
func (e *Eventing) SystemUpdateID() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.updateID
}

// Bump increments SystemUpdateID and queues a NOTIFY for every
// subscriber. Enqueueing never blocks on subscriber I/O; a subscriber
// whose queue is full is dropped as unresponsive.
func (e *Eventing) Bump() {
	e.mu.Lock()
	e.updateID++
	id := e.updateID
	var slow []string
	for sid, sub := range e.subs {
		select {
		case sub.queue <- id:
		default:
			slow = append(slow, sid)
		}
	}
	e.mu.Unlock()

	for _, sid := range slow {
		e.drop(sid, errQueueFull)
	}
}

// HandleSubscribe processes SUBSCRIBE on the ContentDirectory event
// URL. The initial NOTIFY (SEQ 0) goes out after the response values
// are committed.
func (e *Eventing) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	callback := strings.Trim(r.Header.Get("CALLBACK"), "<>")
	if callback == "" {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}

	timeout := defaultSubTimeout
	if th := r.Header.Get("TIMEOUT"); strings.HasPrefix(th, "Second-") {
		if n, err := strconv.Atoi(strings.TrimPrefix(th, "Second-")); err == nil && n > 0 {
			timeout = time.Duration(n) * time.Second
		}
	}

	sid := fmt.Sprintf("uuid:%x", md5.Sum([]byte(time.Now().String()+callback)))
	sub := &subscription{
		callback: callback,
		expiry:   time.Now().Add(timeout),
		queue:    make(chan uint32, deliveryQueueLen),
	}
	e.mu.Lock()
	e.subs[sid] = sub
	sub.queue <- e.updateID
	e.mu.Unlock()

	w.Header().Set("SID", sid)
	w.Header().Set("TIMEOUT", fmt.Sprintf("Second-%d", int(timeout.Seconds())))
	w.Header().Set("Server", ServerBanner)
	w.WriteHeader(http.StatusOK)

	e.log.Info().Str("sid", sid).Str("callback", callback).Msg("subscription registered")
	go e.deliverLoop(sid, sub)
}

// HandleUnsubscribe removes a subscription by SID.
func (e *Eventing) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	sid := r.Header.Get("SID")
	if sid == "" {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}
	e.remove(sid)
	e.log.Info().Str("sid", sid).Msg("subscription removed")
	w.WriteHeader(http.StatusOK)
}

// deliverLoop is a subscription's single consumer. Sending one NOTIFY
// at a time keeps SEQ strictly increasing on the wire; fan-out across
// subscribers stays concurrent. Any delivery failure drops the
// subscription; renderers re-subscribe when they come back.
func (e *Eventing) deliverLoop(sid string, sub *subscription) {
	var seq uint32
	for id := range sub.queue {
		if err := e.send(sid, sub.callback, seq, id); err != nil {
			e.drop(sid, err)
			return
		}
		seq++
	}
}

// send delivers one LastChange propertyset.
func (e *Eventing) send(sid, callback string, seq, updateID uint32) error {
	req, err := http.NewRequest("NOTIFY", callback, bytes.NewReader(eventBody(updateID)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("NTS", "upnp:propchange")
	req.Header.Set("SID", sid)
	req.Header.Set("SEQ", strconv.FormatUint(uint64(seq), 10))

	resp, err := e.client.Do(req)
	if err != nil {
		metrics.NotifyDeliveries.WithLabelValues("error").Inc()
		return err
	}
	resp.Body.Close()
	metrics.NotifyDeliveries.WithLabelValues("ok").Inc()
	return nil
}

// remove takes a subscription out of the table and closes its queue so
// the delivery goroutine exits. Bump only enqueues to subscriptions
// still in the table, under the same mutex, so the close never races a
// send.
func (e *Eventing) remove(sid string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	sub, ok := e.subs[sid]
	if ok {
		delete(e.subs, sid)
		close(sub.queue)
	}
	return ok
}

func (e *Eventing) drop(sid string, err error) {
	if e.remove(sid) {
		e.log.Warn().Err(err).Str("sid", sid).Msg("notify failed, subscription dropped")
	}
}

// eventBody builds the GENA propertyset: a single LastChange property
// carrying an escaped RCS Event document.
func eventBody(updateID uint32) []byte {
	event := fmt.Sprintf(`<Event xmlns="urn:schemas-upnp-org:metadata-1-0/RCS/">`+
		`<InstanceID val="0">`+
		`<SystemUpdateID val="%d"/>`+
		`<ContainerUpdateIDs val=""/>`+
		`<TransferIDs val=""/>`+
		`</InstanceID>`+
		`</Event>`, updateID)

	return []byte(`<?xml version="1.0" encoding="utf-8"?>` +
		`<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0">` +
		`<e:property><LastChange>` + xmlEscape(event) + `</LastChange></e:property>` +
		`</e:propertyset>`)
}

// SweepExpired removes subscriptions past their expiry. Run from a
// periodic job.
func (e *Eventing) SweepExpired() {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	for sid, sub := range e.subs {
		if now.After(sub.expiry) {
			delete(e.subs, sid)
			close(sub.queue)
			e.log.Info().Str("sid", sid).Msg("subscription expired")
		}
	}
}

// SubscriberCount reports live subscriptions, for the status endpoint.
func (e *Eventing) SubscriberCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

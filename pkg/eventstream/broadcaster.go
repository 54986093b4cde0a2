// Package eventstream fans accept records out to local subscribers over
// a unix socket. Frames are CBOR payloads preceded by a 4-byte
// big-endian length.
package eventstream

import (
	"encoding/binary"
	"net"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"

	"github.com/snigate/snigate/pkg/api"
)

// publishWriteTimeout bounds each subscriber write. A subscriber that
// stops reading stalls once its socket buffer fills and gets dropped
// instead of blocking every later publish.
const publishWriteTimeout = 2 * time.Second

type Broadcaster struct {
	listener net.Listener
	log      *logrus.Entry

	mu     sync.Mutex
	subs   map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// Listen binds the broadcast socket, replacing a stale socket file left
// by a previous run.
func Listen(socketPath string) (*Broadcaster, error) {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}

	b := &Broadcaster{
		listener: ln,
		subs:     make(map[net.Conn]struct{}),
		log:      logrus.WithField("component", "eventstream"),
	}
	b.wg.Add(1)
	go b.acceptLoop()
	return b, nil
}

func (b *Broadcaster) acceptLoop() {
	defer b.wg.Done()
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			b.mu.Lock()
			closed := b.closed
			b.mu.Unlock()
			if closed {
				return
			}
			b.log.WithError(err).Warn("event subscriber accept failed")
			continue
		}

		b.mu.Lock()
		b.subs[conn] = struct{}{}
		n := len(b.subs)
		b.mu.Unlock()
		b.log.WithField("subscribers", n).Debug("event subscriber attached")
	}
}

// Publish sends one record to every attached subscriber. A subscriber
// whose write fails or times out is dropped; publishing never blocks
// the accept path on a broken or stalled consumer.
func (b *Broadcaster) Publish(rec *api.AcceptRecord) {
	payload, err := cbor.Marshal(rec)
	if err != nil {
		b.log.WithError(err).Error("failed to encode accept record")
		return
	}

	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)

	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.subs {
		conn.SetWriteDeadline(time.Now().Add(publishWriteTimeout))
		if _, err := conn.Write(frame); err != nil {
			conn.Close()
			delete(b.subs, conn)
		}
	}
}

func (b *Broadcaster) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for conn := range b.subs {
		conn.Close()
		delete(b.subs, conn)
	}
	b.mu.Unlock()

	err := b.listener.Close()
	b.wg.Wait()
	return err
}

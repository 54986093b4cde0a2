package eventstream

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/fxamacker/cbor/v2"

	"github.com/snigate/snigate/pkg/api"
)

// maxFrameSize bounds a single record frame; anything larger means a
// corrupt stream.
const maxFrameSize = 1 << 20

type Subscriber struct {
	conn net.Conn
}

func Dial(socketPath string) (*Subscriber, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, err
	}
	return &Subscriber{conn: conn}, nil
}

// Next blocks until the broadcaster publishes the next record. Returns
// io.EOF (possibly wrapped) once the broadcaster shuts down.
func (s *Subscriber) Next() (*api.AcceptRecord, error) {
	var header [4]byte
	if _, err := io.ReadFull(s.conn, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return nil, fmt.Errorf("event frame too large: %d bytes", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(s.conn, payload); err != nil {
		return nil, err
	}

	var rec api.AcceptRecord
	if err := cbor.Unmarshal(payload, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Subscriber) Close() error { return s.conn.Close() }

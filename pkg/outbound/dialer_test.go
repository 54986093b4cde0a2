package outbound

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/miekg/dns"
)

func startTestDNS(t *testing.T) string {
	t.Helper()

	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, req *dns.Msg) {
		reply := new(dns.Msg)
		reply.SetReply(req)
		switch req.Question[0].Name {
		case "resolved.test.":
			reply.Answer = append(reply.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
				A:   net.IPv4(192, 0, 2, 10),
			})
		default:
			reply.Rcode = dns.RcodeNameError
		}
		_ = w.WriteMsg(reply)
	})

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := &dns.Server{PacketConn: pc, Handler: mux}
	go srv.ActivateAndServe()
	t.Cleanup(func() { srv.Shutdown() })

	return pc.LocalAddr().String()
}

func TestResolveFirstARecord(t *testing.T) {
	addr := startTestDNS(t)
	d := NewDialer([]string{addr}, nil)
	d.Timeout = 2 * time.Second

	ip, err := d.Resolve(context.Background(), "resolved.test")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ip.String() != "192.0.2.10" {
		t.Errorf("ip = %s, want 192.0.2.10", ip)
	}
}

func TestResolveNXDomain(t *testing.T) {
	addr := startTestDNS(t)
	d := NewDialer([]string{addr}, nil)
	d.Timeout = 2 * time.Second

	_, err := d.Resolve(context.Background(), "missing.test")
	if !errors.Is(err, ErrNXDomain) {
		t.Fatalf("want ErrNXDomain, got %v", err)
	}
}

func TestClassifyDialError(t *testing.T) {
	refused := &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
	if !errors.Is(classifyDialError(refused), ErrConnectionRefused) {
		t.Error("ECONNREFUSED not classified as refused")
	}

	reset := &net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ECONNRESET)}
	if !errors.Is(classifyDialError(reset), ErrConnectionAborted) {
		t.Error("ECONNRESET not classified as aborted")
	}

	other := errors.New("unexpected")
	if classifyDialError(other) != other {
		t.Error("unrecognized errors must pass through unchanged")
	}
}

package mail

import (
	"context"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authgate/internal/config"
)

// fakeRelay is a minimal SMTP server. When silent it accepts connections and
// never sends the greeting.
type fakeRelay struct {
	ln     net.Listener
	silent bool

	mu    sync.Mutex
	cmds  []string
	data  string
	conns []net.Conn
}

func startRelay(t *testing.T, silent bool) *fakeRelay {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	r := &fakeRelay{ln: ln, silent: silent}
	go r.accept()
	t.Cleanup(func() {
		_ = ln.Close()
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, c := range r.conns {
			_ = c.Close()
		}
	})
	return r
}

func (r *fakeRelay) config() config.SMTPConfig {
	addr := r.ln.Addr().(*net.TCPAddr)
	return config.SMTPConfig{
		Host:      addr.IP.String(),
		Port:      addr.Port,
		From:      "no-reply@example.com",
		FromName:  "Authgate",
		TLSPolicy: "none",
		Timeout:   time.Minute,
	}
}

func (r *fakeRelay) accept() {
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			return
		}
		r.mu.Lock()
		r.conns = append(r.conns, conn)
		r.mu.Unlock()
		if !r.silent {
			go r.serve(conn)
		}
	}
}

func (r *fakeRelay) serve(conn net.Conn) {
	tp := textproto.NewConn(conn)
	defer tp.Close()

	_ = tp.PrintfLine("220 relay.test ESMTP")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		r.mu.Lock()
		r.cmds = append(r.cmds, line)
		r.mu.Unlock()

		verb, _, _ := strings.Cut(line, " ")
		switch strings.ToUpper(verb) {
		case "DATA":
			_ = tp.PrintfLine("354 end with <CR><LF>.<CR><LF>")
			body, err := tp.ReadDotBytes()
			if err != nil {
				return
			}
			r.mu.Lock()
			r.data = string(body)
			r.mu.Unlock()
			_ = tp.PrintfLine("250 queued")
		case "QUIT":
			_ = tp.PrintfLine("221 bye")
			return
		default:
			_ = tp.PrintfLine("250 ok")
		}
	}
}

func (r *fakeRelay) snapshot() ([]string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.cmds...), r.data
}

func TestSMTPSender_Send(t *testing.T) {
	relay := startRelay(t, false)
	s, err := NewSMTPSender(relay.config())
	require.NoError(t, err)

	err = s.Send(context.Background(), "bob@example.com", Rendered{Subject: "Email Confirmation", HTML: "<p>hi</p>"})
	require.NoError(t, err)

	cmds, data := relay.snapshot()
	var mailFrom, rcptTo bool
	for _, c := range cmds {
		upper := strings.ToUpper(c)
		mailFrom = mailFrom || strings.HasPrefix(upper, "MAIL FROM:<NO-REPLY@EXAMPLE.COM>")
		rcptTo = rcptTo || strings.HasPrefix(upper, "RCPT TO:<BOB@EXAMPLE.COM>")
	}
	assert.True(t, mailFrom, cmds)
	assert.True(t, rcptTo, cmds)
	assert.Contains(t, data, "Subject: Email Confirmation")
	assert.Contains(t, data, "bob@example.com")
	assert.Contains(t, data, "<p>hi</p>")
}

func TestSMTPSender_StalledRelayReturnsWhenContextEnds(t *testing.T) {
	relay := startRelay(t, true)
	s, err := NewSMTPSender(relay.config())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = s.Send(ctx, "bob@example.com", Rendered{Subject: "x", HTML: "x"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestSMTPSender_CanceledContext(t *testing.T) {
	s, err := NewSMTPSender(config.SMTPConfig{Host: "localhost", Port: 25, From: "a@example.com"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Send(ctx, "b@example.com", Rendered{}), context.Canceled)
}

func TestNewSMTPSender_RejectsUnknownTLSPolicy(t *testing.T) {
	_, err := NewSMTPSender(config.SMTPConfig{Host: "localhost", TLSPolicy: "sometimes"})
	assert.Error(t, err)
}

package mqtt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

func TestBrokerURL(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		expect string
	}{
		{name: "tls default", cfg: Config{BrokerHost: "broker.example.com", BrokerPort: 8883}, expect: "tls://broker.example.com:8883"},
		{name: "plain tcp", cfg: Config{BrokerHost: "127.0.0.1", BrokerPort: 1883, DisableTLS: true}, expect: "tcp://127.0.0.1:1883"},
	}

	for _, tt := range tests {
		if got := tt.cfg.BrokerURL(); got != tt.expect {
			t.Fatalf("%s: expected %q, got %q", tt.name, tt.expect, got)
		}
	}
}

func TestTLSConfigServerName(t *testing.T) {
	cfg := Config{BrokerHost: "broker.example.com", BrokerPort: 8883}
	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tlsCfg.ServerName != "broker.example.com" {
		t.Fatalf("expected server name to default to broker host, got %q", tlsCfg.ServerName)
	}

	cfg.TLSServerName = "tls.example.com"
	tlsCfg, err = cfg.TLSConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tlsCfg.ServerName != "tls.example.com" {
		t.Fatalf("expected explicit server name, got %q", tlsCfg.ServerName)
	}

	cfg.DisableTLS = true
	tlsCfg, err = cfg.TLSConfig()
	if err != nil || tlsCfg != nil {
		t.Fatalf("expected nil config when TLS disabled, got %v (err=%v)", tlsCfg, err)
	}
}

func TestTLSConfigRejectsBadCAFile(t *testing.T) {
	dir := t.TempDir()

	cfg := Config{BrokerHost: "broker.example.com", BrokerPort: 8883, CAFile: filepath.Join(dir, "missing.pem")}
	if _, err := cfg.TLSConfig(); err == nil {
		t.Fatalf("expected error for missing ca file")
	}

	bogus := filepath.Join(dir, "bogus.pem")
	if err := os.WriteFile(bogus, []byte("not a certificate"), 0o600); err != nil {
		t.Fatalf("write ca file: %v", err)
	}
	cfg.CAFile = bogus
	if _, err := cfg.TLSConfig(); err == nil {
		t.Fatalf("expected error for ca file without certificates")
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected validation error for empty config")
	}
	if _, err := NewClient(Config{BrokerHost: "broker.example.com", BrokerPort: 8883}); err == nil {
		t.Fatalf("expected validation error for missing client id")
	}

	client, err := NewClient(Config{BrokerHost: "broker.example.com", BrokerPort: 8883, ClientID: "Id01"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.cfg.KeepAlive != defaultKeepAlive {
		t.Fatalf("expected default keepalive, got %v", client.cfg.KeepAlive)
	}
}

func TestPublishRequiresConnection(t *testing.T) {
	client, err := NewClient(Config{BrokerHost: "broker.example.com", BrokerPort: 8883, ClientID: "Id01"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := client.Publish(context.Background(), "iot/telemetry", []byte("{}")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := client.Subscribe(context.Background(), "iot/telemetry"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestPollDispatchesBufferedMessages(t *testing.T) {
	client, err := NewClient(Config{BrokerHost: "broker.example.com", BrokerPort: 8883, ClientID: "Id01"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got []string
	client.SetInboundHandler(func(msg Message) {
		got = append(got, string(msg.Payload))
	})
	client.connected.Store(true)

	client.enqueue(Message{Topic: "iot/telemetry", Payload: []byte("one")})
	client.enqueue(Message{Topic: "iot/telemetry", Payload: []byte("two")})

	if err := client.Poll(context.Background()); err != nil {
		t.Fatalf("unexpected poll error: %v", err)
	}
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("expected both messages dispatched in order, got %v", got)
	}

	if err := client.Poll(context.Background()); err != nil {
		t.Fatalf("unexpected poll error on empty buffer: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected no further dispatch, got %v", got)
	}
}

func TestPollReportsConnectionLoss(t *testing.T) {
	client, err := NewClient(Config{BrokerHost: "broker.example.com", BrokerPort: 8883, ClientID: "Id01"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.connected.Store(true)

	lost := errors.New("EOF")
	client.publishErr(lost)

	if err := client.Poll(context.Background()); !errors.Is(err, lost) {
		t.Fatalf("expected forwarded connection error, got %v", err)
	}

	client.connected.Store(false)
	if err := client.Poll(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after loss, got %v", err)
	}
}

func TestConnectFailureReleasesClient(t *testing.T) {
	tests := []struct {
		name  string
		token *stubToken
		ctx   func() context.Context
	}{
		{name: "broker refuses", token: newStubToken(errors.New("connection refused"))},
		{name: "cancelled while dialling", token: &stubToken{done: make(chan struct{})}, ctx: func() context.Context {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			return ctx
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(Config{BrokerHost: "127.0.0.1", BrokerPort: 1883, ClientID: "Id01", DisableTLS: true})
			if err != nil {
				t.Fatalf("new client: %v", err)
			}
			session := &stubSession{connect: tt.token}
			client.newClient = func(*pahomqtt.ClientOptions) pahomqtt.Client { return session }

			ctx := context.Background()
			if tt.ctx != nil {
				ctx = tt.ctx()
			}
			if err := client.Connect(ctx); err == nil {
				t.Fatalf("expected connect error")
			}
			if session.disconnects != 1 {
				t.Fatalf("expected the failed session to be disconnected once, got %d", session.disconnects)
			}
			if client.IsConnected() {
				t.Fatalf("client must stay disconnected")
			}
		})
	}
}

// stubSession overrides the parts of the paho client Connect touches.
type stubSession struct {
	pahomqtt.Client
	connect     *stubToken
	disconnects int
}

func (s *stubSession) Connect() pahomqtt.Token { return s.connect }

func (s *stubSession) Disconnect(uint) { s.disconnects++ }

func (s *stubSession) IsConnected() bool { return false }

type stubToken struct {
	done chan struct{}
	err  error
}

func newStubToken(err error) *stubToken {
	t := &stubToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *stubToken) Wait() bool                     { <-t.done; return true }
func (t *stubToken) WaitTimeout(time.Duration) bool { return true }
func (t *stubToken) Done() <-chan struct{}          { return t.done }
func (t *stubToken) Error() error                   { return t.err }

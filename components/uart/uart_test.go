package uart

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.aim.dev/aim/channel"
	"go.aim.dev/aim/logging"
	"go.aim.dev/aim/serial"
	"go.aim.dev/aim/utils"
)

// memPort answers every line written to it with the next scripted reply.
type memPort struct {
	mu      sync.Mutex
	written bytes.Buffer
	replies *io.PipeReader
	w       *io.PipeWriter
	script  []string
	closed  bool
}

func newMemPort(script ...string) *memPort {
	r, w := io.Pipe()
	return &memPort{replies: r, w: w, script: script}
}

func (p *memPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.written.Write(b)
	var reply string
	if len(p.script) > 0 {
		reply, p.script = p.script[0], p.script[1:]
	}
	p.mu.Unlock()
	if reply != "" {
		go func() {
			//nolint:errcheck
			io.WriteString(p.w, reply)
		}()
	}
	return len(b), nil
}

func (p *memPort) Read(b []byte) (int, error) {
	return p.replies.Read(b)
}

func (p *memPort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.w.Close()
}

func withPort(t *testing.T, port *memPort) *serial.Options {
	t.Helper()
	var got serial.Options
	prev := serial.Open
	serial.Open = func(devicePath string, options serial.Options) (io.ReadWriteCloser, error) {
		got = options
		return port, nil
	}
	t.Cleanup(func() { serial.Open = prev })
	return &got
}

func TestValidate(t *testing.T) {
	cfg := Config{}
	test.That(t, utils.GetFieldFromFieldRequiredError(cfg.Validate("scale")), test.ShouldEqual, "port")
	cfg.Port = "/dev/ttyUSB0"
	test.That(t, cfg.Validate("scale"), test.ShouldBeNil)
	cfg.StopBits = 3
	test.That(t, cfg.Validate("scale"), test.ShouldNotBeNil)
	cfg.StopBits = 2
	cfg.Parity = "mark"
	test.That(t, cfg.Validate("scale"), test.ShouldNotBeNil)
}

func TestLineIO(t *testing.T) {
	ctx := context.Background()
	port := newMemPort("time:2024-01-01T00:00:00Z;weight:1.5\r\n", "weight:2\n")
	opts := withPort(t, port)

	u, err := New("scale", Config{Port: "/dev/ttyUSB0", BaudRate: 115200, Parity: "even", StopBits: 2, RTSCTS: true}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, u.Send(ctx, "R"), test.ShouldEqual, channel.ErrNotConnected)

	test.That(t, u.Connect(ctx), test.ShouldBeNil)
	test.That(t, u.Connect(ctx), test.ShouldBeNil)
	test.That(t, opts.BaudRate, test.ShouldEqual, 115200)
	test.That(t, opts.DataBits, test.ShouldEqual, 8)
	test.That(t, opts.Parity, test.ShouldEqual, serial.EvenParity)
	test.That(t, opts.StopBits, test.ShouldEqual, serial.TwoStopBits)
	test.That(t, opts.RTSCTSFlowControl, test.ShouldBeTrue)

	test.That(t, u.Send(ctx, "R"), test.ShouldBeNil)
	line, err := u.Receive(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, line, test.ShouldEqual, "time:2024-01-01T00:00:00Z;weight:1.5")

	line, err = u.Execute(ctx, "R")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, line, test.ShouldEqual, "weight:2")
	test.That(t, port.written.String(), test.ShouldEqual, "R\nR\n")

	test.That(t, u.Disconnect(ctx), test.ShouldBeNil)
	test.That(t, port.closed, test.ShouldBeTrue)
	test.That(t, u.IsConnected(), test.ShouldBeFalse)
	_, err = u.Receive(ctx)
	test.That(t, errors.Is(err, channel.ErrNotConnected), test.ShouldBeTrue)
}

func TestReceiveHonorsContext(t *testing.T) {
	port := newMemPort()
	withPort(t, port)
	u, err := New("scale", Config{Port: "/dev/ttyUSB0"}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, u.Connect(context.Background()), test.ShouldBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = u.Receive(ctx)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	test.That(t, u.Disconnect(context.Background()), test.ShouldBeNil)
}

func TestReceiveResumesCancelledRead(t *testing.T) {
	ctx := context.Background()
	port := newMemPort("weight:3\n")
	withPort(t, port)
	u, err := New("vib", Config{Port: "/dev/ttyUSB0"}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, u.Connect(ctx), test.ShouldBeNil)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = u.Receive(cancelled)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)

	test.That(t, u.Send(ctx, "R"), test.ShouldBeNil)
	line, err := u.Receive(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, line, test.ShouldEqual, "weight:3")
	test.That(t, u.Disconnect(ctx), test.ShouldBeNil)
}

func TestOpenFailure(t *testing.T) {
	prev := serial.Open
	serial.Open = func(string, serial.Options) (io.ReadWriteCloser, error) {
		return nil, errors.New("no such device")
	}
	defer func() { serial.Open = prev }()

	u, err := New("scale", Config{Port: "/dev/nope"}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	err = u.Connect(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, strings.Contains(err.Error(), "no such device"), test.ShouldBeTrue)
}

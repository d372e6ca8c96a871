// Package uart implements a text line channel over a serial port. Requests are written as one
// line and the device answers with one line.
package uart

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.aim.dev/aim/channel"
	"go.aim.dev/aim/logging"
	"go.aim.dev/aim/serial"
	"go.aim.dev/aim/utils"
)

// Config is used to configure the port.
type Config struct {
	Port          string `json:"port"`
	BaudRate      int    `json:"baud_rate,omitempty"`
	DataBits      int    `json:"data_bits,omitempty"`
	Parity        string `json:"parity,omitempty"`
	StopBits      int    `json:"stop_bits,omitempty"`
	RTSCTS        bool   `json:"rts_cts,omitempty"`
	ReadTimeoutMs int    `json:"read_timeout_ms,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Port == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "port")
	}
	if _, err := cfg.options(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

func (cfg *Config) options() (serial.Options, error) {
	opts := serial.DefaultOptions
	if cfg.BaudRate != 0 {
		opts.BaudRate = cfg.BaudRate
	}
	if cfg.DataBits != 0 {
		opts.DataBits = cfg.DataBits
	}
	parity, err := serial.ParseParity(cfg.Parity)
	if err != nil {
		return opts, err
	}
	opts.Parity = parity
	switch cfg.StopBits {
	case 0, 1:
		opts.StopBits = serial.OneStopBit
	case 2:
		opts.StopBits = serial.TwoStopBits
	default:
		return opts, errors.Errorf("stop_bits must be 1 or 2, got %d", cfg.StopBits)
	}
	if cfg.ReadTimeoutMs < 0 {
		return opts, errors.New("read_timeout_ms cannot be negative")
	}
	opts.RTSCTSFlowControl = cfg.RTSCTS
	opts.ReadTimeout = cfg.ReadTimeoutMs
	return opts, nil
}

// UART is a channel.Channel[string] over a serial port.
type UART struct {
	name   string
	path   string
	opts   serial.Options
	logger logging.Logger

	mu     sync.Mutex
	port     io.ReadWriteCloser
	reader   *bufio.Reader
	inflight chan lineResult
}

var _ channel.Channel[string] = (*UART)(nil)

// New returns an unconnected UART channel.
func New(name string, cfg Config, logger logging.Logger) (*UART, error) {
	if err := cfg.Validate(name); err != nil {
		return nil, err
	}
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}
	return &UART{name: name, path: cfg.Port, opts: opts, logger: logger}, nil
}

// Name returns the channel name.
func (u *UART) Name() string {
	return u.name
}

// Connect opens the port.
func (u *UART) Connect(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.port != nil {
		return nil
	}
	port, err := serial.Open(u.path, u.opts)
	if err != nil {
		return err
	}
	u.port = port
	u.reader = bufio.NewReader(port)
	u.logger.Debugw("opened serial port", "port", u.path, "baud", u.opts.BaudRate)
	return nil
}

// Disconnect closes the port, which also ends any read left behind by a cancelled Receive.
func (u *UART) Disconnect(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.port == nil {
		return nil
	}
	err := u.port.Close()
	u.port = nil
	u.reader = nil
	u.inflight = nil
	return err
}

// IsConnected reports whether the port is open.
func (u *UART) IsConnected() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.port != nil
}

// Send writes request followed by a newline.
func (u *UART) Send(ctx context.Context, request string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.port == nil {
		return channel.ErrNotConnected
	}
	if _, err := io.WriteString(u.port, request+"\n"); err != nil {
		return errors.Wrapf(err, "writing to %s", u.path)
	}
	return nil
}

type lineResult struct {
	line string
	err  error
}

// Receive reads one line, without its line ending. A read abandoned by a cancelled context stays
// in flight and serves the next Receive, so the reader never has two goroutines on it.
func (u *UART) Receive(ctx context.Context) (string, error) {
	u.mu.Lock()
	if u.reader == nil {
		u.mu.Unlock()
		return "", channel.ErrNotConnected
	}
	results := u.inflight
	if results == nil {
		results = make(chan lineResult, 1)
		reader := u.reader
		u.inflight = results
		goutils.PanicCapturingGo(func() {
			line, err := reader.ReadString('\n')
			results <- lineResult{line, err}
		})
	}
	u.mu.Unlock()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-results:
		u.mu.Lock()
		if u.inflight == results {
			u.inflight = nil
		}
		u.mu.Unlock()
		if res.err != nil && (res.line == "" || !errors.Is(res.err, io.EOF)) {
			return "", errors.Wrapf(res.err, "reading from %s", u.path)
		}
		return strings.TrimRight(res.line, "\r\n"), nil
	}
}

// Execute sends request and reads the reply.
func (u *UART) Execute(ctx context.Context, request string) (string, error) {
	if err := u.Send(ctx, request); err != nil {
		return "", err
	}
	return u.Receive(ctx)
}

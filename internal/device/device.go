// Package device is the protocol-agnostic handle uniting a transport with
// its per-tag parameters. It owns the per-transaction connect/disconnect
// lifecycle, the 4-second operation timeout, the per-gateway mutual
// exclusion for RTU-over-TCP, and a per-resource circuit breaker.
package device

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"modbus-mqtt-gateway/internal/codec"
	"modbus-mqtt-gateway/internal/gwmetrics"
	"modbus-mqtt-gateway/internal/model"
	"modbus-mqtt-gateway/internal/transport"
)

// OperationTimeout bounds every read/write issued by the Scheduler and the
// MQTT Bridge.
const OperationTimeout = 4 * time.Second

// rtuCooldown is the mandatory recovery sleep after an RTU-over-TCP
// transaction, held inside the gateway's lock.
const rtuCooldown = 1 * time.Second

// Gateway is the shared, mutually-exclusive Ethernet-to-serial resource
// behind one or more RTU-over-TCP devices.
type Gateway struct {
	Name string
	IP   string
	Port int

	mu      sync.Mutex
	breaker *gobreaker.CircuitBreaker
}

// NewGateway builds a Gateway with its own circuit breaker, grounded on the
// same gobreaker.Settings shape used for connection-pooled devices: it
// trips once at least 3 requests have been counted and 60% or more of them
// failed. The counts are not a rolling window: with Interval 0 they cover
// the whole time since the breaker last changed state.
func NewGateway(name, ip string, port int, logger *zap.Logger) *Gateway {
	gw := &Gateway{Name: name, IP: ip, Port: port}
	gw.breaker = newBreaker(fmt.Sprintf("gateway:%s", name), logger)
	return gw
}

func (g *Gateway) addr() string { return fmt.Sprintf("%s:%d", g.IP, g.Port) }

// Connection is a logical device: a Modbus slave plus its polling cadence.
type Connection struct {
	Name     string
	IP       string // unused for RTU-over-TCP; the Gateway supplies IP/Port
	Port     int
	Slave    byte
	ReadFreq model.ReadFrequency
}

type kind int

const (
	kindTCP kind = iota
	kindRTUOverTCP
)

// Device is the closed sum type `{ModbusTCP, ModbusRTUOverTCP}`. Prefer
// this over an open interface: a new function code or protocol variant
// must be handled exhaustively at the two call sites below.
type Device struct {
	kind kind

	gateway    *Gateway // only for kindRTUOverTCP
	connection Connection
	tag        model.Tag

	breaker *gobreaker.CircuitBreaker // only for kindTCP; RTU uses gateway.breaker
	logger  *zap.Logger

	// dial opens the transport for one transaction. Set by the
	// constructors to the real TCP/RTU-over-TCP dialers; tests substitute
	// a fake to exercise locking and timeout behavior without a socket.
	dial func(timeout time.Duration) (transport.Transport, error)

	// metrics is nil unless SetMetrics is called; every observation call
	// below is a no-op against a nil Registry receiver check first.
	metrics *gwmetrics.Registry
}

// SetMetrics attaches a metrics registry to the device. Optional: a device
// with no registry attached simply records nothing.
func (d *Device) SetMetrics(m *gwmetrics.Registry) { d.metrics = m }

// NewModbusTCP builds a direct Modbus/TCP device handle.
func NewModbusTCP(conn Connection, tag model.Tag, logger *zap.Logger) *Device {
	addr := net.JoinHostPort(conn.IP, fmt.Sprintf("%d", conn.Port))
	d := &Device{
		kind:       kindTCP,
		connection: conn,
		tag:        tag,
		breaker:    newBreaker(fmt.Sprintf("device:%s", conn.Name), logger),
		logger:     logger,
	}
	d.dial = func(timeout time.Duration) (transport.Transport, error) {
		return transport.NewTCP(addr, conn.Slave, timeout), nil
	}
	return d
}

// NewModbusRTUOverTCP builds an RTU-over-TCP device handle sharing gw with
// any sibling devices behind the same physical gateway.
func NewModbusRTUOverTCP(gw *Gateway, conn Connection, tag model.Tag, logger *zap.Logger) *Device {
	d := &Device{
		kind:       kindRTUOverTCP,
		gateway:    gw,
		connection: conn,
		tag:        tag,
		logger:     logger,
	}
	d.dial = func(timeout time.Duration) (transport.Transport, error) {
		return transport.NewRTUOverTCP(gw.addr(), conn.Slave, timeout), nil
	}
	return d
}

func (d *Device) TagName() string           { return d.tag.Name }
func (d *Device) DeviceName() string        { return d.connection.Name }
func (d *Device) Mode() model.Mode          { return d.tag.Mode }
func (d *Device) Freq() model.ReadFrequency { return d.connection.ReadFreq }

func (d *Device) breakerFor() *gobreaker.CircuitBreaker {
	if d.kind == kindRTUOverTCP {
		return d.gateway.breaker
	}
	return d.breaker
}

// Read performs a single read transaction under ctx's deadline (callers
// are expected to have applied OperationTimeout), returning either a
// TagResponse or a *model.ReadError.
func (d *Device) Read(ctx context.Context) (model.TagResponse, *model.ReadError) {
	result, err := d.breakerFor().Execute(func() (interface{}, error) {
		return d.read(ctx)
	})
	if err != nil {
		return model.TagResponse{}, model.NewReadError(err.Error(), err)
	}
	return result.(model.TagResponse), nil
}

// Write performs a single write transaction under ctx's deadline.
func (d *Device) Write(ctx context.Context, value model.TagValue) *model.WriteError {
	_, err := d.breakerFor().Execute(func() (interface{}, error) {
		return nil, d.write(ctx, value)
	})
	if err != nil {
		return model.NewWriteError(err.Error(), err)
	}
	return nil
}

func (d *Device) read(ctx context.Context) (resp model.TagResponse, err error) {
	start := time.Now()
	defer func() {
		if d.metrics != nil {
			d.metrics.ObserveRead(d.DeviceName(), time.Since(start), err != nil)
		}
	}()

	if d.kind == kindRTUOverTCP {
		waitStart := time.Now()
		d.gateway.mu.Lock()
		defer d.gateway.mu.Unlock()
		if d.metrics != nil {
			d.metrics.ObserveLockWait(d.gateway.Name, time.Since(waitStart))
		}
	}

	t, err := d.connect(ctx)
	if err != nil {
		return model.TagResponse{}, err
	}

	words, err := transport.ReadTag(t.Client(), d.tag)
	closeErr := t.Close()
	if d.kind == kindRTUOverTCP {
		sleepWithContext(ctx, rtuCooldown)
	}
	if err != nil {
		return model.TagResponse{}, err
	}
	if closeErr != nil {
		d.logger.Warn("error disconnecting after read", zap.String("device", d.DeviceName()), zap.Error(closeErr))
	}

	value, err := decodeWords(words, d.tag)
	if err != nil {
		return model.TagResponse{}, err
	}

	return model.TagResponse{
		ID:    fmt.Sprintf("%s/%s", d.DeviceName(), d.TagName()),
		Value: value,
	}, nil
}

func (d *Device) write(ctx context.Context, value model.TagValue) (err error) {
	if !d.tag.Function.Writable() {
		panic(fmt.Sprintf("device: %v registers cannot be written", d.tag.Function))
	}

	start := time.Now()
	defer func() {
		if d.metrics != nil {
			d.metrics.ObserveWrite(d.DeviceName(), time.Since(start), err != nil)
		}
	}()

	if d.kind == kindRTUOverTCP {
		waitStart := time.Now()
		d.gateway.mu.Lock()
		defer d.gateway.mu.Unlock()
		if d.metrics != nil {
			d.metrics.ObserveLockWait(d.gateway.Name, time.Since(waitStart))
		}
	}

	t, err := d.connect(ctx)
	if err != nil {
		return err
	}

	err = transport.WriteTag(t.Client(), d.tag, value)
	closeErr := t.Close()
	if d.kind == kindRTUOverTCP {
		sleepWithContext(ctx, rtuCooldown)
	}
	if err != nil {
		return err
	}
	if closeErr != nil {
		d.logger.Warn("error disconnecting after write", zap.String("device", d.DeviceName()), zap.Error(closeErr))
	}

	return nil
}

func (d *Device) connect(ctx context.Context) (transport.Transport, error) {
	timeout := OperationTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	t, err := d.dial(timeout)
	if err != nil {
		return nil, err
	}

	if err := t.Connect(); err != nil {
		return nil, err
	}
	return t, nil
}

// sleepWithContext sleeps for d or until ctx is done, whichever comes
// first; a canceled context never blocks the cooldown indefinitely.
func sleepWithContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// decodeWords runs the codec's decode pipeline uniformly across function
// codes: Coil/Discrete reads have already been mapped to 0/1 words by the
// transport, so the same swap/fold/scale rules apply regardless of
// whether the payload came from a coil or a register.
func decodeWords(words []uint16, tag model.Tag) (model.TagValue, error) {
	return codec.Decode(words, tag.Swap, tag.DataType, tag.Multiplier)
}

func newBreaker(name string, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("resource", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

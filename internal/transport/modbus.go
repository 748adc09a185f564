// Package transport opens a Modbus connection per transaction and issues
// the function-code-appropriate read or write, for both direct Modbus TCP
// and RTU-over-TCP (RTU framing tunneled over a raw TCP stream to an
// Ethernet-to-serial gateway, with no MBAP header).
package transport

import (
	"fmt"
	"net"
	"time"

	"github.com/goburrow/modbus"

	"modbus-mqtt-gateway/internal/codec"
	"modbus-mqtt-gateway/internal/model"
)

// Transport is the per-transaction connection lifecycle shared by both
// Modbus flavors: connect, get a Client to issue requests against, close.
type Transport interface {
	Connect() error
	Close() error
	Client() modbus.Client
}

// tcpTransport wraps goburrow/modbus's own TCP handler directly; it already
// speaks Modbus/TCP (MBAP header) end to end.
type tcpTransport struct {
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

// NewTCP builds a direct Modbus/TCP transport to addr ("host:port") for the
// given slave id.
func NewTCP(addr string, slave byte, timeout time.Duration) Transport {
	h := modbus.NewTCPClientHandler(addr)
	h.SlaveId = slave
	h.Timeout = timeout
	return &tcpTransport{handler: h, client: modbus.NewClient(h)}
}

func (t *tcpTransport) Connect() error      { return t.handler.Connect() }
func (t *tcpTransport) Close() error        { return t.handler.Close() }
func (t *tcpTransport) Client() modbus.Client { return t.client }

// rtuOverTCPTransport reuses goburrow/modbus's RTU packager (address byte +
// PDU + CRC16 framing) but substitutes a raw TCP socket for the library's
// serial-port transporter, since the physical link is an Ethernet-to-serial
// gateway rather than a local UART. Embedding *modbus.RTUClientHandler
// promotes its Encode/Decode/Verify methods; Connect/Close/Send are
// shadowed here to operate over net.Conn instead.
type rtuOverTCPTransport struct {
	*modbus.RTUClientHandler
	addr    string
	timeout time.Duration
	conn    net.Conn
	client  modbus.Client
}

// NewRTUOverTCP builds an RTU-over-TCP transport to addr ("host:port") for
// the given slave id.
func NewRTUOverTCP(addr string, slave byte, timeout time.Duration) Transport {
	h := modbus.NewRTUClientHandler("")
	h.SlaveId = slave
	h.Timeout = timeout
	t := &rtuOverTCPTransport{RTUClientHandler: h, addr: addr, timeout: timeout}
	t.client = modbus.NewClient(t)
	return t
}

func (t *rtuOverTCPTransport) Connect() error {
	conn, err := net.DialTimeout("tcp", t.addr, t.timeout)
	if err != nil {
		return fmt.Errorf("rtu-over-tcp: dial %s: %w", t.addr, err)
	}
	t.conn = conn
	return nil
}

func (t *rtuOverTCPTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *rtuOverTCPTransport) Client() modbus.Client { return t.client }

// Send shadows the embedded handler's serial Send: the ADU has already
// been framed (address, PDU, CRC) by the promoted Encode method, so this
// only needs to move those same bytes across the TCP socket and read the
// response frame back.
func (t *rtuOverTCPTransport) Send(aduRequest []byte) ([]byte, error) {
	if t.conn == nil {
		return nil, fmt.Errorf("rtu-over-tcp: not connected")
	}
	if err := t.conn.SetDeadline(time.Now().Add(t.timeout)); err != nil {
		return nil, err
	}
	if _, err := t.conn.Write(aduRequest); err != nil {
		return nil, fmt.Errorf("rtu-over-tcp: write: %w", err)
	}
	response := make([]byte, 256)
	n, err := t.conn.Read(response)
	if err != nil {
		return nil, fmt.Errorf("rtu-over-tcp: read: %w", err)
	}
	return response[:n], nil
}

// ReadTag issues the function-code-appropriate read and returns the raw
// register words, ready for codec.Decode.
func ReadTag(client modbus.Client, tag model.Tag) ([]uint16, error) {
	switch tag.Function {
	case model.Coil:
		raw, err := client.ReadCoils(tag.Address, tag.Length)
		if err != nil {
			return nil, err
		}
		return codec.BoolsToWords(unpackBits(raw, int(tag.Length))), nil
	case model.Discrete:
		raw, err := client.ReadDiscreteInputs(tag.Address, tag.Length)
		if err != nil {
			return nil, err
		}
		return codec.BoolsToWords(unpackBits(raw, int(tag.Length))), nil
	case model.Holding:
		raw, err := client.ReadHoldingRegisters(tag.Address, tag.Length)
		if err != nil {
			return nil, err
		}
		return bytesToWords(raw), nil
	case model.Input:
		raw, err := client.ReadInputRegisters(tag.Address, tag.Length)
		if err != nil {
			return nil, err
		}
		return bytesToWords(raw), nil
	default:
		return nil, fmt.Errorf("transport: unknown function code %v", tag.Function)
	}
}

// WriteTag issues the function-code-appropriate write for value, encoded
// per tag.Swap by the codec package.
func WriteTag(client modbus.Client, tag model.Tag, value model.TagValue) error {
	if !tag.Function.Writable() {
		panic(fmt.Sprintf("transport: %v registers cannot be written", tag.Function))
	}

	words := codec.Encode(value, tag.Swap)

	switch tag.Function {
	case model.Coil:
		on := codec.CoilFromWords(words)
		coilValue := uint16(0x0000)
		if on {
			coilValue = 0xFF00
		}
		_, err := client.WriteSingleCoil(tag.Address, coilValue)
		return err
	case model.Holding:
		payload := wordsToBytes(words)
		_, err := client.WriteMultipleRegisters(tag.Address, uint16(len(words)), payload)
		return err
	default:
		panic(fmt.Sprintf("transport: %v registers cannot be written", tag.Function))
	}
}

func bytesToWords(raw []byte) []uint16 {
	words := make([]uint16, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		words = append(words, uint16(raw[i])<<8|uint16(raw[i+1]))
	}
	return words
}

func wordsToBytes(words []uint16) []byte {
	out := make([]byte, 0, len(words)*2)
	for _, w := range words {
		out = append(out, byte(w>>8), byte(w))
	}
	return out
}

// unpackBits extracts the first n bits (LSB first within each byte) from a
// Modbus coil/discrete-input response payload.
func unpackBits(raw []byte, n int) []bool {
	bits := make([]bool, n)
	for i := 0; i < n; i++ {
		byteIdx := i / 8
		if byteIdx >= len(raw) {
			break
		}
		bits[i] = raw[byteIdx]&(1<<uint(i%8)) != 0
	}
	return bits
}

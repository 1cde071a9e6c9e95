// Package obd2 implements a CAN-only OBD-II client: PID discovery, current
// data reads, VIN retrieval and DTC reporting, layered on internal/isotp.
package obd2

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/baconwaifu/vwdiag/internal/canbus"
	"github.com/baconwaifu/vwdiag/internal/isotp"
)

const responseWindow = 150 * time.Millisecond

// ECU is one module that answered an OBD-II broadcast request.
type ECU struct {
	ResponseID    uint32
	SupportedPIDs map[byte]bool
}

// Client queries every ECU that answers OBD-II functional requests on the
// bus, per §C5.
type Client struct {
	port      canbus.Port
	session   *isotp.Session
	log       *log.Logger
	endpoints map[uint32]*isotp.Endpoint

	mu   sync.RWMutex
	ecus map[uint32]*ECU
}

// NewClient opens an isotp.Endpoint for every physical OBD-II response ID
// (0x7E8-0x7EE), pairing each with its flow-control id (rx-8).
func NewClient(ctx context.Context, port canbus.Port, logger *log.Logger) *Client {
	session := isotp.NewSession(ctx, port, logger)
	c := &Client{
		port:      port,
		session:   session,
		log:       logger,
		endpoints: make(map[uint32]*isotp.Endpoint, len(responseIDs)),
		ecus:      make(map[uint32]*ECU),
	}
	for _, rx := range responseIDs {
		c.endpoints[rx] = session.Open(rx-8, rx)
	}
	return c
}

// Close releases every endpoint and stops the underlying isotp session.
func (c *Client) Close() {
	for _, ep := range c.endpoints {
		ep.Close()
	}
	c.session.Close()
}

// ECUs returns the table built by the last Discover call.
func (c *Client) ECUs() map[uint32]*ECU {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[uint32]*ECU, len(c.ecus))
	for k, v := range c.ecus {
		out[k] = v
	}
	return out
}

// Discover broadcasts "supported PIDs" (service 1, PID 0) and, for any ECU
// reporting extended PID support, follows up with PID 0x20, building the
// ECU table. Mirrors the bit-ordering quirk of the reference client: the
// bitmask's least-significant bit maps to the highest PID number (0x20),
// counting down to PID 1 at the most-significant bit.
func (c *Client) Discover(ctx context.Context) (map[uint32]*ECU, error) {
	resp, err := c.request(ctx, ServiceCurrentData, PIDSupported)
	if err != nil {
		return nil, err
	}
	ecus := make(map[uint32]*ECU, len(resp))
	for rx, data := range resp {
		if len(data) < 6 {
			c.log.Warn("obd2: short supported-pids response", "ecu", fmt.Sprintf("%#x", rx))
			continue
		}
		pids := decodeSupportedPIDBitmap(data[2:6], 0x20)
		if pids[0x20] {
			ext, err := c.requestOne(ctx, rx, ServiceCurrentData, 0x20)
			if err == nil && len(ext) >= 6 {
				for pid, ok := range decodeSupportedPIDBitmap(ext[2:6], 0x40) {
					pids[pid] = ok
				}
			}
		}
		ecus[rx] = &ECU{ResponseID: rx, SupportedPIDs: pids}
	}
	c.mu.Lock()
	c.ecus = ecus
	c.mu.Unlock()
	return ecus, nil
}

func decodeSupportedPIDBitmap(word []byte, highestPID byte) map[byte]bool {
	pack := uint32(word[0])<<24 | uint32(word[1])<<16 | uint32(word[2])<<8 | uint32(word[3])
	pids := make(map[byte]bool)
	for i := highestPID; i > highestPID-0x20; i-- {
		if pack&1 == 1 {
			pids[i] = true
		}
		pack >>= 1
	}
	return pids
}

// ReadPID requests svc/pid from every ECU on the bus and returns the raw
// response payload (service-response byte, pid, data) keyed by response
// id.
func (c *Client) ReadPID(ctx context.Context, svc, pid byte) (map[uint32][]byte, error) {
	return c.request(ctx, svc, pid)
}

// ReadVIN requests service 9 PID 2 and decodes the ASCII VIN from the
// first ECU that answers, per the reference client's behavior.
func (c *Client) ReadVIN(ctx context.Context) (string, error) {
	resp, err := c.request(ctx, ServiceVehicleInfo, PIDVIN)
	if err != nil {
		return "", err
	}
	data, ok := resp[0x7E8]
	if !ok {
		for _, v := range resp {
			data = v
			ok = true
			break
		}
	}
	if !ok {
		return "", fmt.Errorf("obd2: no ecu answered the vin request")
	}
	if len(data) < 3 || data[0] != ServiceVehicleInfo+PositiveResponseOffset || data[1] != PIDVIN {
		return "", fmt.Errorf("obd2: unexpected vin response %x", data)
	}
	return string(data[2:]), nil
}

// ReadDTCs requests stored diagnostic trouble codes from ecuID (service 3).
func (c *Client) ReadDTCs(ctx context.Context, ecuID uint32) ([]DTC, error) {
	ep, ok := c.endpoints[ecuID]
	if !ok {
		return nil, fmt.Errorf("obd2: unknown ecu %#x", ecuID)
	}
	if err := c.sendRequest(ServiceStoredDTCs, 0); err != nil {
		return nil, err
	}
	rctx, cancel := context.WithTimeout(ctx, responseWindow)
	defer cancel()
	data, err := ep.Recv(rctx)
	if err != nil {
		return nil, err
	}
	if len(data) < 2 || data[0] != ServiceStoredDTCs+PositiveResponseOffset {
		return nil, fmt.Errorf("obd2: unexpected dtc response %x", data)
	}
	return ParseDTCs(data[2:]), nil
}

// sendRequest broadcasts a service/pid request. Requests are always single
// frame (svc+pid only), matching every read this client makes. Per the
// standard OBD-II request framing, the frame is always 8 bytes, padded
// with 0x99: byte 0 is the payload length, bytes 1.. are [service, pid].
func (c *Client) sendRequest(svc, pid byte) error {
	data := [8]byte{0x99, 0x99, 0x99, 0x99, 0x99, 0x99, 0x99, 0x99}
	data[0] = 2
	data[1] = svc
	data[2] = pid
	return c.port.Send(canbus.Frame{
		ID:   FunctionalRequestID,
		Data: data[:],
	})
}

func (c *Client) request(ctx context.Context, svc, pid byte) (map[uint32][]byte, error) {
	if err := c.sendRequest(svc, pid); err != nil {
		return nil, err
	}
	out := make(map[uint32][]byte)
	var wg sync.WaitGroup
	var mu sync.Mutex
	for rx, ep := range c.endpoints {
		wg.Add(1)
		go func(rx uint32, ep *isotp.Endpoint) {
			defer wg.Done()
			rctx, cancel := context.WithTimeout(ctx, responseWindow)
			defer cancel()
			data, err := ep.Recv(rctx)
			if err != nil {
				return
			}
			mu.Lock()
			out[rx] = data
			mu.Unlock()
		}(rx, ep)
	}
	wg.Wait()
	return out, nil
}

func (c *Client) requestOne(ctx context.Context, rx uint32, svc, pid byte) ([]byte, error) {
	ep, ok := c.endpoints[rx]
	if !ok {
		return nil, fmt.Errorf("obd2: unknown ecu %#x", rx)
	}
	if err := c.sendRequest(svc, pid); err != nil {
		return nil, err
	}
	rctx, cancel := context.WithTimeout(ctx, responseWindow)
	defer cancel()
	return ep.Recv(rctx)
}

package simulator

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/baconwaifu/vwdiag/internal/canbus"
	"github.com/baconwaifu/vwdiag/internal/obd2"
)

func TestOBD2ResponderReadPID(t *testing.T) {
	port := canbus.NewMemoryPort(16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	responder := NewOBD2Responder(port, 0x7E8)
	responder.SetRPM(2500)
	responder.SetSpeed(80)
	responder.VIN = "1HGCM82633A004352"
	go responder.Run(ctx)

	client := obd2.NewClient(ctx, port, log.New(os.Stderr))
	defer client.Close()

	resp, err := client.ReadPID(ctx, obd2.ServiceCurrentData, 0x0C)
	if err != nil {
		t.Fatalf("ReadPID failed: %v", err)
	}
	data, ok := resp[0x7E8]
	if !ok || len(data) < 4 {
		t.Fatalf("expected response from 0x7E8, got %v", resp)
	}
	rpm := obd2.DecodeRPM(data[2], data[3])
	if rpm != 2500 {
		t.Errorf("expected rpm 2500, got %v", rpm)
	}
}

func TestOBD2ResponderReadVIN(t *testing.T) {
	port := canbus.NewMemoryPort(16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	responder := NewOBD2Responder(port, 0x7E8)
	responder.VIN = "1HGCM82633A004352"
	go responder.Run(ctx)

	client := obd2.NewClient(ctx, port, log.New(os.Stderr))
	defer client.Close()

	rctx, rcancel := context.WithTimeout(ctx, 2*time.Second)
	defer rcancel()
	vin, err := client.ReadVIN(rctx)
	if err != nil {
		t.Fatalf("ReadVIN failed: %v", err)
	}
	if vin != responder.VIN {
		t.Errorf("expected vin %q, got %q", responder.VIN, vin)
	}
}

func TestOBD2ResponderReadDTCs(t *testing.T) {
	port := canbus.NewMemoryPort(16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	responder := NewOBD2Responder(port, 0x7E8)
	responder.DTCs = [][2]byte{{0x01, 0x23}} // P0123

	client := obd2.NewClient(ctx, port, log.New(os.Stderr))
	defer client.Close()
	go responder.Run(ctx)

	dtcs, err := client.ReadDTCs(ctx, 0x7E8)
	if err != nil {
		t.Fatalf("ReadDTCs failed: %v", err)
	}
	if len(dtcs) != 1 || dtcs[0].Code != "P0123" {
		t.Errorf("unexpected dtcs: %+v", dtcs)
	}
}

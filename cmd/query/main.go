package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	clog "github.com/charmbracelet/log"

	"github.com/baconwaifu/vwdiag/internal/canbus"
	"github.com/baconwaifu/vwdiag/internal/obd2"
)

func main() {
	var (
		queryType  string
		outputFile string
		continuous bool
		formatJSON bool
		busType    string
		iface      string
	)

	flag.StringVar(&queryType, "query", "ecus", "Type of query: ecus, vin, dtc, live")
	flag.StringVar(&outputFile, "output", "", "Output file for the query results")
	flag.BoolVar(&continuous, "continuous", false, "Enable continuous monitoring (query=live only)")
	flag.BoolVar(&formatJSON, "json", false, "Output in JSON format")
	flag.StringVar(&busType, "bus", "socketcan", "canbus.Open bus type (socketcan, rawsocket, memory)")
	flag.StringVar(&iface, "interface", "can0", "CAN interface name")
	flag.Parse()

	logger := clog.New(os.Stderr)
	port, err := canbus.Open(busType, iface, logger)
	if err != nil {
		log.Fatalf("failed to open bus: %v", err)
	}
	defer port.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := obd2.NewClient(ctx, port, logger)
	defer client.Close()

	switch queryType {
	case "ecus":
		ecus, err := client.Discover(ctx)
		if err != nil {
			log.Fatalf("failed to discover ecus: %v", err)
		}
		outputData(describeECUs(ecus), outputFile, formatJSON)

	case "vin":
		vin, err := client.ReadVIN(ctx)
		if err != nil {
			log.Fatalf("failed to read vin: %v", err)
		}
		outputData(map[string]string{"vin": vin}, outputFile, formatJSON)

	case "dtc":
		ecus, err := client.Discover(ctx)
		if err != nil {
			log.Fatalf("failed to discover ecus: %v", err)
		}
		out := make(map[string][]obd2.DTC)
		for rx := range ecus {
			dtcs, err := client.ReadDTCs(ctx, rx)
			if err != nil {
				continue
			}
			out[fmt.Sprintf("0x%X", rx)] = dtcs
		}
		outputData(out, outputFile, formatJSON)

	case "live":
		if continuous {
			fmt.Println("Starting continuous monitoring...")
			for {
				data := readLive(ctx, client)
				if formatJSON {
					b, _ := json.Marshal(data)
					fmt.Println(string(b))
				} else {
					fmt.Printf("\rRPM: %.2f, Speed: %.2f km/h    ", data["rpm"], data["speed"])
				}
				select {
				case <-time.After(200 * time.Millisecond):
				case <-ctx.Done():
					return
				}
			}
		}
		outputData(readLive(ctx, client), outputFile, formatJSON)

	default:
		fmt.Fprintf(os.Stderr, "unknown query type %q\n", queryType)
		os.Exit(1)
	}
}

func describeECUs(ecus map[uint32]*obd2.ECU) map[string]*obd2.ECU {
	out := make(map[string]*obd2.ECU, len(ecus))
	for id, ecu := range ecus {
		out[fmt.Sprintf("0x%X", id)] = ecu
	}
	return out
}

func readLive(ctx context.Context, client *obd2.Client) map[string]float64 {
	data := make(map[string]float64)
	if resp, err := client.ReadPID(ctx, obd2.ServiceCurrentData, 0x0C); err == nil {
		for _, b := range resp {
			if len(b) >= 4 {
				data["rpm"] = obd2.DecodeRPM(b[2], b[3])
				break
			}
		}
	}
	if resp, err := client.ReadPID(ctx, obd2.ServiceCurrentData, 0x0D); err == nil {
		for _, b := range resp {
			if len(b) >= 3 {
				data["speed"] = float64(obd2.DecodeSpeedKPH(b[2]))
				break
			}
		}
	}
	return data
}

func outputData(data interface{}, outputFile string, formatJSON bool) {
	if outputFile != "" {
		file, err := os.Create(outputFile)
		if err != nil {
			log.Fatalf("failed to create output file: %v", err)
		}
		defer file.Close()

		encoder := json.NewEncoder(file)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(data); err != nil {
			log.Fatalf("failed to write data: %v", err)
		}
		return
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal data: %v", err)
	}
	fmt.Println(string(b))
}

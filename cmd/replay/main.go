package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	clog "github.com/charmbracelet/log"

	"github.com/baconwaifu/vwdiag/internal/canbus"
	"github.com/baconwaifu/vwdiag/internal/capture"
)

func main() {
	var (
		captureFile string
		speed       float64
		list        bool
		busType     string
		iface       string
	)

	flag.StringVar(&captureFile, "file", "", "Capture file to replay")
	flag.Float64Var(&speed, "speed", 1.0, "Replay speed multiplier (1.0 = real-time)")
	flag.BoolVar(&list, "list", false, "List available capture files")
	flag.StringVar(&busType, "bus", "memory", "canbus.Open bus type to replay onto (socketcan, rawsocket, memory)")
	flag.StringVar(&iface, "interface", "", "CAN interface name for socketcan/rawsocket")
	flag.Parse()

	if list {
		listCaptureFiles()
		return
	}

	if captureFile == "" {
		fmt.Println("Please specify a capture file with -file")
		os.Exit(1)
	}

	session, err := capture.LoadSession(captureFile)
	if err != nil {
		log.Fatalf("Failed to load session: %v", err)
	}

	replayer := capture.NewReplayer(session)
	replayer.SetSpeed(speed)

	fmt.Printf("Replaying session from %s\n", session.StartTime)
	fmt.Printf("Vehicle Info: %s\n", session.VehicleInfo)
	fmt.Printf("Total frames: %d\n", len(session.Frames))

	logger := clog.New(os.Stderr)
	port, err := canbus.Open(busType, iface, logger)
	if err != nil {
		log.Fatalf("Failed to open bus: %v", err)
	}
	defer port.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := replayer.PlayIntoPort(ctx, port); err != nil {
		log.Fatalf("Replay failed: %v", err)
	}
	fmt.Println("Replay complete")
}

func listCaptureFiles() {
	files, err := filepath.Glob("captures/*.json")
	if err != nil {
		log.Fatalf("Failed to list capture files: %v", err)
	}

	if len(files) == 0 {
		fmt.Println("No capture files found")
		return
	}

	fmt.Println("Available capture files:")
	for _, file := range files {
		session, err := capture.LoadSession(file)
		if err != nil {
			fmt.Printf("  %s (error: %v)\n", file, err)
			continue
		}

		duration := session.EndTime.Sub(session.StartTime)
		fmt.Printf("  %s:\n", filepath.Base(file))
		fmt.Printf("    Date: %s\n", session.StartTime)
		fmt.Printf("    Duration: %s\n", duration)
		fmt.Printf("    Vehicle: %s\n", session.VehicleInfo)
		fmt.Printf("    Frames: %d\n", len(session.Frames))
		fmt.Println()
	}
}

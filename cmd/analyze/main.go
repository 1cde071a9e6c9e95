package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/baconwaifu/vwdiag/internal/analysis"
	"github.com/baconwaifu/vwdiag/internal/capture"
)

func main() {
	var (
		inputFile string
		exportCsv string
	)

	flag.StringVar(&inputFile, "file", "", "Capture file to analyze")
	flag.StringVar(&exportCsv, "export-csv", "", "Export decoded samples to a CSV file")
	flag.Parse()

	if inputFile == "" {
		fmt.Println("Please specify a capture file with -file")
		os.Exit(1)
	}

	session, err := capture.LoadSession(inputFile)
	if err != nil {
		log.Fatalf("Failed to load session: %v", err)
	}

	analyzer := analysis.NewAnalyzer(session, analysis.DefaultOptions())
	result, err := analyzer.Analyze()
	if err != nil {
		log.Fatalf("Analysis failed: %v", err)
	}

	fmt.Printf("\nSession Analysis for %s\n", filepath.Base(inputFile))
	fmt.Printf("=================================\n")
	fmt.Printf("Duration: %s\n", result.SessionInfo.Duration)
	fmt.Printf("Total Frames: %d\n", result.SessionInfo.TotalFrames)
	fmt.Printf("Unique CAN IDs: %d\n", result.CANActivity.UniqueIDs)
	fmt.Printf("\nPerformance Metrics:\n")
	fmt.Printf("- Max RPM: %.2f\n", result.Performance.RPM.Max)
	fmt.Printf("- Average RPM: %.2f\n", result.Performance.RPM.Mean)
	fmt.Printf("- Max Speed: %.2f km/h\n", result.Performance.Speed.Max)
	fmt.Printf("- Average Speed: %.2f km/h\n", result.Performance.Speed.Mean)
	fmt.Printf("- Data Rate: %.2f frames/sec\n", result.Performance.DataRate)
	fmt.Printf("\nDriving Behavior:\n")
	fmt.Printf("- Idle Time: %.1f%%\n", result.DrivingBehavior.IdleTime)
	fmt.Printf("- Rapid Accelerations: %d\n", result.DrivingBehavior.RapidAccel)
	fmt.Printf("- Rapid Decelerations: %d\n", result.DrivingBehavior.RapidDecel)
	fmt.Printf("- Driving Phases: %d\n", len(result.DrivingBehavior.Phases))
	fmt.Printf("\nDiagnostics:\n")
	fmt.Printf("- DTC Count: %d\n", result.Diagnostics.DTCCount)
	for _, dtc := range result.Diagnostics.UniqueDTCs {
		fmt.Printf("  %s\n", dtc)
	}

	if exportCsv != "" {
		fmt.Printf("\nExporting data to %s...\n", exportCsv)
		if err := analysis.ExportCSV(session, exportCsv); err != nil {
			log.Fatalf("Failed to export CSV: %v", err)
		}
		fmt.Println("Export complete!")
	}
}

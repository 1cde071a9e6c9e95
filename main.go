package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	clog "github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/baconwaifu/vwdiag/internal/canbus"
	"github.com/baconwaifu/vwdiag/internal/capture"
	"github.com/baconwaifu/vwdiag/internal/config"
	"github.com/baconwaifu/vwdiag/internal/datastore"
	"github.com/baconwaifu/vwdiag/internal/kwp"
	"github.com/baconwaifu/vwdiag/internal/obd2"
	"github.com/baconwaifu/vwdiag/internal/security"
	"github.com/baconwaifu/vwdiag/internal/vehicle"
	"github.com/baconwaifu/vwdiag/internal/vwtp"
	"github.com/baconwaifu/vwdiag/internal/webapi"
)

func main() {
	flags := config.BindFlags(pflag.CommandLine)
	pflag.Parse()

	logger := clog.New(os.Stderr)
	if flags.Verbose {
		logger.SetLevel(clog.DebugLevel)
	}

	cfg, err := config.LoadConfig(flags.ConfigPath)
	if err != nil {
		logger.Fatal("loading config", "err", err)
	}
	cfg.ApplyFlags(flags)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	manager := vehicle.NewManager()

	var store datastore.Store
	if cfg.Datastore.SQLite.Path != "" {
		store, err = datastore.NewStore(&datastore.Config{
			SQLitePath:     cfg.Datastore.SQLite.Path,
			InfluxDBURL:    cfg.Datastore.InfluxDB.URL,
			InfluxDBOrg:    cfg.Datastore.InfluxDB.Org,
			InfluxDBToken:  cfg.Datastore.InfluxDB.Token,
			InfluxDBBucket: cfg.Datastore.InfluxDB.Bucket,
		})
		if err != nil {
			logger.Error("datastore unavailable, continuing without persistence", "err", err)
			store = nil
		} else {
			defer store.Close()
		}
	}

	server := webapi.NewServer(manager, store, "static", logger)
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		if err := server.ListenAndServe(serverAddr); err != nil {
			logger.Error("webapi server stopped", "err", err)
		}
	}()
	defer server.Close()

	var port canbus.Port
	port, err = canbus.Open(cfg.CANBus.Type, cfg.CANBus.Interface, logger)
	if err != nil {
		logger.Fatal("opening can bus", "err", err)
	}
	defer port.Close()

	var recorder *capture.Recorder
	if cfg.Capture.Enabled {
		recorder = capture.NewRecorder("unknown")
		if err := recorder.Start(); err != nil {
			logger.Error("capture recorder failed to start", "err", err)
			recorder = nil
		} else {
			defer recorder.Stop()
			port = canbus.NewTapPort(port, func(f canbus.Frame) {
				if err := recorder.RecordCANFrame(f); err != nil {
					logger.Debug("capture record failed", "err", err)
				}
			})
		}
	}

	obdClient := obd2.NewClient(ctx, port, logger)
	defer obdClient.Close()

	ecus, err := obdClient.Discover(ctx)
	if err != nil {
		logger.Warn("obd2 ecu discovery failed", "err", err)
	}
	vin := "UNKNOWN"
	if v, err := obdClient.ReadVIN(ctx); err == nil {
		vin = v
	} else {
		logger.Warn("vin read failed", "err", err)
	}

	if _, err := manager.RegisterVehicle(vin, "unknown", "unknown", 0); err != nil {
		logger.Warn("vehicle registration failed", "err", err)
	}

	kwpSession := setupKWP(ctx, cfg, port, logger)
	if kwpSession != nil {
		defer kwpSession.Close()
	}

	pollTicker := time.NewTicker(1 * time.Second)
	defer pollTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case <-pollTicker.C:
			state := pollState(ctx, obdClient, ecus, logger)
			if err := manager.UpdateVehicleState(vin, state); err != nil {
				logger.Debug("state update failed", "err", err)
			}

			td := &datastore.TelemetryData{
				Timestamp:     time.Now(),
				VIN:           vin,
				EngineRunning: state.EngineRunning,
				Speed:         state.Speed,
				RPM:           state.RPM,
				ThrottlePos:   state.ThrottlePosition,
				EngineLoad:    state.EngineLoad,
				CoolantTemp:   state.CoolantTemp,
				DTCs:          state.DTCs,
			}
			server.Broadcast(td)

			if store != nil {
				if err := store.SaveTelemetry(vin, td); err != nil {
					logger.Debug("telemetry save failed", "err", err)
				}
			}

			if alerts, err := manager.DetectAnomalies(vin); err == nil && store != nil {
				for i := range alerts {
					if err := store.SaveAlert(vin, &alerts[i]); err != nil {
						logger.Debug("alert save failed", "err", err)
					}
				}
			}
		}
	}
}

// pollState reads the core live PIDs and DTCs from every discovered ECU
// and folds them into a single vehicle.State snapshot.
func pollState(ctx context.Context, client *obd2.Client, ecus map[uint32]*obd2.ECU, logger *clog.Logger) vehicle.State {
	state := vehicle.State{LastDiagnostic: time.Now()}

	if resp, err := client.ReadPID(ctx, obd2.ServiceCurrentData, 0x0C); err == nil {
		for _, b := range resp {
			if len(b) >= 4 {
				state.RPM = obd2.DecodeRPM(b[2], b[3])
				state.EngineRunning = state.RPM > 0
				break
			}
		}
	}
	if resp, err := client.ReadPID(ctx, obd2.ServiceCurrentData, 0x0D); err == nil {
		for _, b := range resp {
			if len(b) >= 3 {
				state.Speed = float64(obd2.DecodeSpeedKPH(b[2]))
				break
			}
		}
	}
	if resp, err := client.ReadPID(ctx, obd2.ServiceCurrentData, 0x05); err == nil {
		for _, b := range resp {
			if len(b) >= 3 {
				state.CoolantTemp = float64(obd2.DecodeCoolantTemp(b[2]))
				break
			}
		}
	}
	if resp, err := client.ReadPID(ctx, obd2.ServiceCurrentData, 0x04); err == nil {
		for _, b := range resp {
			if len(b) >= 3 {
				state.EngineLoad = obd2.DecodePercent(b[2])
				break
			}
		}
	}
	if resp, err := client.ReadPID(ctx, obd2.ServiceCurrentData, 0x11); err == nil {
		for _, b := range resp {
			if len(b) >= 3 {
				state.ThrottlePosition = obd2.DecodePercent(b[2])
				break
			}
		}
	}

	for rx := range ecus {
		dtcs, err := client.ReadDTCs(ctx, rx)
		if err != nil {
			continue
		}
		for _, dtc := range dtcs {
			state.DTCs = append(state.DTCs, dtc.Code)
		}
	}

	return state
}

// setupKWP opens a VWTP channel to the configured module and, if a
// security algorithm is configured, performs the level-1 seed/key unlock before
// returning the live session. Absence of a configured module id is not an
// error: not every vehicle on this bus needs manufacturer-specific
// diagnostics.
func setupKWP(ctx context.Context, cfg *config.Config, port canbus.Port, logger *clog.Logger) *kwp.Session {
	if cfg.VWTP.ModuleID == 0 {
		return nil
	}

	stack := vwtp.NewStack(ctx, port, logger)
	ch, err := stack.Connect(ctx, cfg.VWTP.ModuleID, vwtp.ProtoKWP, cfg.VWTP.AutoReopen)
	if err != nil {
		logger.Warn("vwtp channel open failed", "module", cfg.VWTP.ModuleID, "err", err)
		return nil
	}

	session := kwp.NewSession(ch, logger)
	if _, err := session.Begin(ctx); err != nil {
		logger.Warn("kwp session start failed", "err", err)
		return session
	}

	if cfg.Security.Algorithm != "" {
		alg := selectAlgorithm(ctx, session, cfg.Security.Algorithm, cfg.Security.ECUIndex, logger)
		level := byte(1)
		if err := security.Unlock(ctx, session, level, alg); err != nil {
			logger.Warn("security access unlock failed", "err", err)
		}
	}

	return session
}

// selectAlgorithm builds the seed/key algorithm for the configured name.
// For the XOR-rotate variant it derives the per-ECU table index from the
// ECU's own hardware-identification block rather than trusting the
// configured index blindly, falling back to it only if that read fails.
func selectAlgorithm(ctx context.Context, session *kwp.Session, name string, configuredIndex int, logger *clog.Logger) security.Algorithm {
	switch name {
	case "readonly":
		return security.ReadOnlyKey{}
	default:
		ecuIndex := configuredIndex
		hwID, err := security.ReadHardwareID(ctx, session)
		if err != nil {
			logger.Warn("ecu identification read failed, falling back to configured index", "err", err)
		} else {
			ecuIndex = security.DeriveECUIndex(hwID)
		}
		return security.XorKey{ECUIndex: ecuIndex}
	}
}

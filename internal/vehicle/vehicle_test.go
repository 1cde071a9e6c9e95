package vehicle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVehicleManager(t *testing.T) {
	manager := NewManager()

	// Test vehicle registration
	vin := "1HGCM82633A123456"
	v, err := manager.RegisterVehicle(vin, "Honda", "Accord", 2023)
	require.NoError(t, err)
	assert.Equal(t, vin, v.VIN)

	// Test duplicate registration
	_, err = manager.RegisterVehicle(vin, "Honda", "Accord", 2023)
	assert.Error(t, err, "expected error on duplicate registration")

	// Test vehicle retrieval
	v2, err := manager.GetVehicle(vin)
	require.NoError(t, err)
	assert.Equal(t, vin, v2.VIN)

	// Test state update
	state := State{
		EngineRunning:    true,
		Speed:            60.0,
		RPM:              2500.0,
		ThrottlePosition: 25.0,
		EngineLoad:       40.0,
		CoolantTemp:      85.0,
	}
	require.NoError(t, manager.UpdateVehicleState(vin, state))

	v3, _ := manager.GetVehicle(vin)
	assert.Equal(t, state.Speed, v3.State.Speed)

	// Test profile management
	profile := Profile{
		MaxRPM:           6500,
		RedlineRPM:       6000,
		IdleRPM:          800,
		OptimalShiftRPM:  2500,
		FuelType:         "gasoline",
		TransmissionType: "automatic",
		GearRatios:       []float64{2.995, 1.759, 1.171, 0.870, 0.707},
		WeightKg:         1500,
		EngineSize:       2.0,
		CustomThresholds: map[string]float64{
			"01 05": 100.0, // Coolant temp threshold
		},
	}
	manager.RegisterProfile("Honda", "Accord", profile)

	p, err := manager.GetProfile("Honda", "Accord")
	require.NoError(t, err)
	assert.Equal(t, profile.MaxRPM, p.MaxRPM)

	// Test anomaly detection
	state.RPM = 6200 // Above redline
	require.NoError(t, manager.UpdateVehicleState(vin, state))

	alerts, err := manager.DetectAnomalies(vin)
	require.NoError(t, err)
	require.NotEmpty(t, alerts, "expected at least one alert for high RPM")

	found := false
	for _, alert := range alerts {
		if alert.Type == "RPM" && alert.Severity == "critical" {
			found = true
			break
		}
	}
	assert.True(t, found, "expected critical RPM alert")
}

func TestServiceSchedule(t *testing.T) {
	schedule := DefaultServiceSchedule()
	require.NotEmpty(t, schedule.Items, "expected default service schedule to have items")

	// Find oil change service
	var oilChange *ServiceItem
	for i := range schedule.Items {
		if schedule.Items[i].Name == "Oil Change" {
			oilChange = &schedule.Items[i]
			break
		}
	}

	require.NotNil(t, oilChange, "expected to find oil change service")
	assert.Equal(t, 5000.0, oilChange.IntervalMiles)
	assert.Equal(t, "required", oilChange.Priority)
}

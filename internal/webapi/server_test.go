package webapi

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/baconwaifu/vwdiag/internal/vehicle"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr)
}

func TestHandleGetVehicle(t *testing.T) {
	manager := vehicle.NewManager()
	if _, err := manager.RegisterVehicle("1HGCM82633A123456", "Honda", "Accord", 2023); err != nil {
		t.Fatalf("RegisterVehicle failed: %v", err)
	}

	server := NewServer(manager, nil, "", testLogger())

	req := httptest.NewRequest("GET", "/api/vehicles/1HGCM82633A123456", nil)
	rec := httptest.NewRecorder()
	server.router.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var v vehicle.Vehicle
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if v.VIN != "1HGCM82633A123456" {
		t.Errorf("unexpected vin: %s", v.VIN)
	}
}

func TestHandleGetVehicleNotFound(t *testing.T) {
	manager := vehicle.NewManager()
	server := NewServer(manager, nil, "", testLogger())

	req := httptest.NewRequest("GET", "/api/vehicles/unknown", nil)
	rec := httptest.NewRecorder()
	server.router.ServeHTTP(rec, req)

	if rec.Code != 404 {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandleListVehiclesNoStore(t *testing.T) {
	manager := vehicle.NewManager()
	server := NewServer(manager, nil, "", testLogger())

	req := httptest.NewRequest("GET", "/api/vehicles", nil)
	rec := httptest.NewRecorder()
	server.router.ServeHTTP(rec, req)

	if rec.Code != 503 {
		t.Errorf("expected 503 without a configured store, got %d", rec.Code)
	}
}

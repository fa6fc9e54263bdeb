package main

import "testing"

func TestConfigFlagDefault(t *testing.T) {
	if configFile == nil {
		t.Fatal("configFile flag not defined")
	}
	if *configFile == "" {
		t.Error("expected a non-empty default config path")
	}
}

func TestListenFlagDefault(t *testing.T) {
	if listen == nil {
		t.Fatal("listen flag not defined")
	}
	if *listen != ":8090" {
		t.Errorf("expected default listen address :8090, got %q", *listen)
	}
}

func TestCoordSystemAssignmentsAreDistinct(t *testing.T) {
	seen := map[int]bool{cs1Diffractometer: true, cs2Omega: true, cs3Environment: true}
	if len(seen) != 3 {
		t.Fatalf("expected 3 distinct coordinate systems, got %d", len(seen))
	}
}

func TestBuildMotorsCoversEveryScriptedAxis(t *testing.T) {
	motors := buildMotors(nil, nil, nil)
	for _, name := range []string{
		"kappa", "phi", "cen_x", "cen_y",
		"align_x", "align_y", "align_z",
		"capz", "capy", "omega",
		"scint", "backlight", "cryo", "fluorescence",
	} {
		if _, ok := motors[name]; !ok {
			t.Errorf("missing motor for axis %q", name)
		}
	}
}

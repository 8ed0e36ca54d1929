package models

import "testing"

func TestParseStationType(t *testing.T) {
	cases := []struct {
		raw   string
		want  StationType
		valid bool
	}{
		{"triage", StationTriage, true},
		{"consultation", StationConsultation, true},
		{"lab", StationLab, true},
		{"pharmacy", StationPharmacy, true},
		{"billing", StationBilling, true},
		{"document", StationDocument, true},
		{"checkin", StationCheckIn, true},
		{"dental", "", false},
		{"", "", false},
		{"Triage", "", false},
	}

	for _, tt := range cases {
		got, err := ParseStationType(tt.raw)
		if tt.valid {
			if err != nil {
				t.Fatalf("ParseStationType(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("ParseStationType(%q)=%q, want %q", tt.raw, got, tt.want)
			}
			continue
		}
		if err == nil {
			t.Fatalf("ParseStationType(%q) expected error", tt.raw)
		}
	}
}

func TestStationTypePrefixes(t *testing.T) {
	cases := []struct {
		stationType StationType
		prefix      string
	}{
		{StationTriage, "T"},
		{StationConsultation, "C"},
		{StationLab, "L"},
		{StationPharmacy, "P"},
		{StationBilling, "B"},
		{StationDocument, "D"},
		{StationCheckIn, "K"},
	}
	for _, tt := range cases {
		if got := tt.stationType.Prefix(); got != tt.prefix {
			t.Fatalf("%s prefix=%q, want %q", tt.stationType, got, tt.prefix)
		}
	}
}

func TestAllStationTypesOrder(t *testing.T) {
	types := AllStationTypes()
	if len(types) != 7 {
		t.Fatalf("expected 7 station types, got %d", len(types))
	}
	for i := 1; i < len(types); i++ {
		if types[i-1].Order() >= types[i].Order() {
			t.Fatalf("station types out of order: %s before %s", types[i-1], types[i])
		}
	}
	if types[0] != StationTriage {
		t.Fatalf("expected triage first, got %s", types[0])
	}
}

func TestFormatCode(t *testing.T) {
	cases := []struct {
		stationType StationType
		number      int
		want        string
		wantErr     bool
	}{
		{StationConsultation, 14, "C-014", false},
		{StationTriage, 1, "T-001", false},
		{StationPharmacy, 999, "P-999", false},
		{StationLab, 1000, "L-1000", false},
		{StationBilling, 12345, "B-12345", false},
		{StationConsultation, 0, "", true},
		{StationConsultation, -5, "", true},
		{StationType("dental"), 3, "", true},
	}

	for _, tt := range cases {
		got, err := FormatCode(tt.stationType, tt.number)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("FormatCode(%s, %d) expected error", tt.stationType, tt.number)
			}
			continue
		}
		if err != nil {
			t.Fatalf("FormatCode(%s, %d) error: %v", tt.stationType, tt.number, err)
		}
		if got != tt.want {
			t.Fatalf("FormatCode(%s, %d)=%q, want %q", tt.stationType, tt.number, got, tt.want)
		}
	}
}

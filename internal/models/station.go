package models

import "fmt"

// StationType is the closed set of queue categories a clinic runs. The
// declaration order is the fixed dashboard order.
type StationType string

const (
	StationTriage       StationType = "triage"
	StationConsultation StationType = "consultation"
	StationLab          StationType = "lab"
	StationPharmacy     StationType = "pharmacy"
	StationBilling      StationType = "billing"
	StationDocument     StationType = "document"
	StationCheckIn      StationType = "checkin"
)

type stationTypeInfo struct {
	order  int
	prefix string
}

var stationTypeInfos = map[StationType]stationTypeInfo{
	StationTriage:       {order: 0, prefix: "T"},
	StationConsultation: {order: 1, prefix: "C"},
	StationLab:          {order: 2, prefix: "L"},
	StationPharmacy:     {order: 3, prefix: "P"},
	StationBilling:      {order: 4, prefix: "B"},
	StationDocument:     {order: 5, prefix: "D"},
	StationCheckIn:      {order: 6, prefix: "K"},
}

func AllStationTypes() []StationType {
	return []StationType{
		StationTriage,
		StationConsultation,
		StationLab,
		StationPharmacy,
		StationBilling,
		StationDocument,
		StationCheckIn,
	}
}

func ParseStationType(value string) (StationType, error) {
	t := StationType(value)
	if _, ok := stationTypeInfos[t]; !ok {
		return "", fmt.Errorf("unknown station type %q", value)
	}
	return t, nil
}

func (t StationType) Valid() bool {
	_, ok := stationTypeInfos[t]
	return ok
}

// Order is the position of the type in dashboard station lists.
func (t StationType) Order() int {
	info, ok := stationTypeInfos[t]
	if !ok {
		return len(stationTypeInfos)
	}
	return info.order
}

func (t StationType) Prefix() string {
	return stationTypeInfos[t].prefix
}

const codeNumberPad = 3

// FormatCode renders the display code printed on tickets and boards,
// e.g. ("consultation", 14) -> "C-014".
func FormatCode(t StationType, number int) (string, error) {
	if !t.Valid() {
		return "", fmt.Errorf("unknown station type %q", string(t))
	}
	if number <= 0 {
		return "", fmt.Errorf("queue number must be positive, got %d", number)
	}
	return fmt.Sprintf("%s-%0*d", t.Prefix(), codeNumberPad, number), nil
}

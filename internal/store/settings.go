package store

const (
	SettingTestingMode          = "testing_mode"
	SettingIgnoreTimeConstraint = "ignore_time_constraints"
	SettingQueueOverrideMode    = "queue_override_mode"
	SettingForceStationsOpen    = "force_all_stations_open"
)

var knownSettings = map[string]bool{
	SettingTestingMode:          true,
	SettingIgnoreTimeConstraint: true,
	SettingQueueOverrideMode:    true,
	SettingForceStationsOpen:    true,
}

func KnownSetting(flag string) bool {
	return knownSettings[flag]
}

func SettingFlags() []string {
	return []string{
		SettingTestingMode,
		SettingIgnoreTimeConstraint,
		SettingQueueOverrideMode,
		SettingForceStationsOpen,
	}
}

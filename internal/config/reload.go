package config

// Reload re-reads path and returns the new Config. On any error — malformed
// YAML or a failed validation — it returns the error and the caller must
// keep using its previous *Config (spec §7: reload failures keep the old
// configuration; they are never destructive).
//
// Unlike davebream-mcpl's config package, csw never writes its config back
// to disk — config.yaml is operator-owned — so there is no AtomicWriteFile
// counterpart here. "Atomic" instead describes the caller's swap: cmd/csw
// only hands the new Config to monitor.Reload after Reload succeeds, and
// monitor.Reload applies it under the monitor's lock, so a bad file is
// never observed mid-application.
func Reload(path string) (*Config, error) {
	return Load(path)
}

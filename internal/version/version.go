// ABOUTME: Build version and product identity
// ABOUTME: Reported by the CLIs, log records and discovery TXT records
package version

const (
	Version      = "0.3.0"
	Product      = "Falcon Output"
	Manufacturer = "Open Ephys"
)

// Package version holds the release version of geodatacheck.
package version

// Current is the release version, without a "v" prefix.
const Current = "0.1.0"

// UserAgent is sent with registry requests.
func UserAgent() string {
	return "geodatacheck/" + Current
}

package version

// Version represents the current version of litehook
const Version = "0.4.0"

// BuildVersion returns the version string for display
func BuildVersion() string {
	return "litehook version " + Version
}

// UserAgent returns the User-Agent string sent with every outbound HTTP
// request (channel polls, proxy list fetches and webhook deliveries).
func UserAgent() string {
	return "litehook/" + Version
}

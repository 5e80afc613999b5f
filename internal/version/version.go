// Package version holds the build version reported by /health and
// connection_status events.
package version

// Version is overridable at build time with -ldflags "-X ...".
var Version = "0.4.0"

// Package buildinfo carries the version string stamped into banners.
package buildinfo

// Version is overridden at link time via -ldflags "-X ...".
var Version = "0.3.0-dev"

//go:build !linux

package torrent

// SystemInhibitor returns a no-op inhibitor on this platform.
func SystemInhibitor() Inhibitor {
	return noopInhibitor{}
}

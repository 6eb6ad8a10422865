//go:build !hip

package device

// OpenHIP reports that this binary was built without HIP support. Rebuild
// with -tags hip on a ROCm host to enable the real backend.
func OpenHIP(device int) (Runtime, error) {
	return nil, &Error{Op: "open", Detail: "built without hip support (use -tags hip)"}
}

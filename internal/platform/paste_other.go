//go:build !windows

package platform

func sendNativePaste() error {
	return ErrUnsupported
}

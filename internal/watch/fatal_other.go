//go:build windows

package watch

func isFatal(err error) bool {
	return false
}

//go:build !darwin

package permissions

// Microphone always reports Authorized on platforms without a permission
// model; device errors surface when the stream opens.
func Microphone() Status {
	return Authorized
}

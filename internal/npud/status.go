package npud

// Status codes returned by Core. Failures are negative errno values.
const (
	StatusOK              = 0
	StatusNotFound        = -2  // ENOENT: unknown handle or missing model.
	StatusNoMemory        = -12 // ENOMEM
	StatusFault           = -14 // EFAULT: the model is corrupt or could not be loaded.
	StatusBusy            = -16 // EBUSY: the handle still has dependents.
	StatusInvalidArgument = -22 // EINVAL
	StatusNoDevice        = -19 // ENODEV
)

// StatusText returns a short description of a status code.
func StatusText(status int) string {
	switch status {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not found"
	case StatusNoMemory:
		return "out of memory"
	case StatusFault:
		return "model fault"
	case StatusBusy:
		return "busy"
	case StatusInvalidArgument:
		return "invalid argument"
	case StatusNoDevice:
		return "no such device"
	default:
		return "unknown status"
	}
}

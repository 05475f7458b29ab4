package orchestrator

// ErrorKind classifies failures for result reporting and metrics labels. The
// kind prefixes the result's error message and labels the error counter.
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindIO            ErrorKind = "io"
	KindInference     ErrorKind = "inference"
	KindVerification  ErrorKind = "verification"
	KindSizeLimit     ErrorKind = "size_limit"
)

package layer

type StageError struct {
	Stage string
	Cause error
}

func (e *StageError) Error() string {
	return "stage " + e.Stage + ": " + e.Cause.Error()
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

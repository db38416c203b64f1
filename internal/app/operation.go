package app

// Operation statuses recorded when the operation finishes.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation is the history record of one CLI command. It lives in memory
// with ID 0 until the command first changes a card or the library; only
// then is it written to the database and given an ID.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string
}

func NewOperation(operation, parameters string) *Operation {
	return &Operation{
		Operation:  operation,
		Parameters: parameters,
		Status:     StatusSuccess,
	}
}

// Persisted reports whether the operation has a database row.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}

// Observe marks the operation failed when err is non-nil and returns err.
// A failed operation stays failed.
func (op *Operation) Observe(err error) error {
	if err != nil {
		op.Status = StatusError
	}
	return err
}

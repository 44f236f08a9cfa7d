package domain

import "fmt"

// ValidationError reports malformed or missing input caught before any
// collaborator call.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// StateError indicates an operation invoked from a step it is not valid in.
type StateError struct {
	Op   string
	From SessionStatus
}

func (e StateError) Error() string {
	return fmt.Sprintf("%s not allowed while %s", e.Op, e.From)
}

// ProviderError wraps an identity provider rejection. Error returns the
// provider's message unchanged.
type ProviderError struct {
	Op  string
	Err error
}

func (e ProviderError) Error() string { return e.Err.Error() }
func (e ProviderError) Unwrap() error { return e.Err }

// ChainError wraps a chain read, write or confirmation failure. Error returns
// the chain client's message unchanged.
type ChainError struct {
	Op  string
	Err error
}

func (e ChainError) Error() string { return e.Err.Error() }
func (e ChainError) Unwrap() error { return e.Err }

// BusyError is returned when a mission write is attempted while another one
// is still pending.
type BusyError struct {
	Hash string
}

func (e BusyError) Error() string {
	if e.Hash == "" {
		return "transaction already pending"
	}
	return fmt.Sprintf("transaction %s already pending", e.Hash)
}

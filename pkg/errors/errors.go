package errors

import "fmt"

type ChecksumMismatch struct {
	Expected uint16
	Actual   uint16
}

func (e *ChecksumMismatch) Error() string {
	return fmt.Sprintf("Frame checksum mismatch: computed 0x%04X, frame declared 0x%04X", e.Expected, e.Actual)
}

type OversizedPayload struct {
	PayloadSize int
	MaxSize     int
}

func (e *OversizedPayload) Error() string {
	return fmt.Sprintf("Payload of %d bytes exceeds maximum frame payload size of %d bytes", e.PayloadSize, e.MaxSize)
}

type ConnectionCapacityExceeded struct {
	MaxClients int
}

func (e *ConnectionCapacityExceeded) Error() string {
	return fmt.Sprintf("Bridge already has the maximum of %d clients connected", e.MaxClients)
}

type DuplicateClientId struct {
	Id uint32
}

func (e *DuplicateClientId) Error() string {
	return fmt.Sprintf("Attempted to register client with duplicate ID %d", e.Id)
}

type MissingClientId struct {
	Id uint32
}

func (e *MissingClientId) Error() string {
	return fmt.Sprintf("Missing client with id=%d", e.Id)
}

type InjectionRejected struct {
	ClientId uint32
	Cause    error
}

func (e *InjectionRejected) Error() string {
	return fmt.Sprintf("Mesh gateway rejected payload from client %d: %v", e.ClientId, e.Cause)
}

func (e *InjectionRejected) Unwrap() error {
	return e.Cause
}

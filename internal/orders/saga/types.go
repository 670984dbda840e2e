package saga

import (
	"context"
	"errors"
)

// Status captures the current state of a saga run.
type Status string

const (
	StatusStarted     Status = "started"
	StatusSucceeded   Status = "succeeded"
	StatusFailed      Status = "failed"
	StatusCompensated Status = "compensated"
)

// Kind names the workflow a saga run belongs to.
type Kind string

const (
	KindCreateOrder   Kind = "create_order"
	KindPaymentSettle Kind = "payment_settle"
	KindPaymentAbort  Kind = "payment_abort"
	KindReturnRefund  Kind = "return_refund"
)

// Record represents a stored saga run.
type Record struct {
	ID      string
	Kind    Kind
	OwnerID string
	Status  Status
}

// Step is one journal line of a saga run.
type Step struct {
	SagaID string
	Name   string
	Status string
	Detail string
}

// Store persists saga runs and their steps.
type Store interface {
	Start(ctx context.Context, sagaID string, kind Kind, ownerID string) error
	UpdateStatus(ctx context.Context, sagaID string, status Status) error
	AddStep(ctx context.Context, sagaID, step, status, detail string) error
}

// ErrSagaExists is returned when a saga id is started twice.
var ErrSagaExists = errors.New("saga already started")

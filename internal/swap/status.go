package swap

import (
	"errors"
	"fmt"
)

// Status is the coordinator's view of a swap, shared by every direction.
type Status string

const (
	// Success path.
	StatusPending        Status = "pending"
	StatusClientFunded   Status = "clientfunded"
	StatusServerFunded   Status = "serverfunded"
	StatusClientRedeemed Status = "clientredeemed"
	StatusServerRedeemed Status = "serverredeemed"

	// Refund and error branches.
	StatusExpired                      Status = "expired"
	StatusClientRefunded               Status = "clientrefunded"
	StatusClientFundedServerRefunded   Status = "clientfundedserverrefunded"
	StatusClientRefundedServerFunded   Status = "clientrefundedserverfunded"
	StatusClientRefundedServerRefunded Status = "clientrefundedserverrefunded"
	StatusClientInvalidFunded          Status = "clientinvalidfunded"
	StatusClientFundedTooLate          Status = "clientfundedtoolate"
)

// transitions lists the legal next statuses of each status. A status with
// no entry is terminal.
var transitions = map[Status][]Status{
	StatusPending: {
		StatusClientFunded,
		StatusExpired,
	},
	StatusClientFunded: {
		StatusServerFunded,
		StatusClientRefunded,
		StatusClientInvalidFunded,
		StatusClientFundedTooLate,
	},
	StatusServerFunded: {
		StatusClientRedeemed,
		StatusClientFundedServerRefunded,
	},
	StatusClientRedeemed: {
		StatusServerRedeemed,
	},
	StatusClientRefunded: {
		// Protocol violation: the server locked funds after we refunded.
		StatusClientRefundedServerFunded,
	},
	StatusClientRefundedServerFunded: {
		StatusClientRefundedServerRefunded,
	},
	StatusClientInvalidFunded: {
		StatusClientRefunded,
	},
	StatusClientFundedTooLate: {
		StatusClientRefunded,
	},
}

var allStatuses = []Status{
	StatusPending, StatusClientFunded, StatusServerFunded, StatusClientRedeemed,
	StatusServerRedeemed, StatusExpired, StatusClientRefunded,
	StatusClientFundedServerRefunded, StatusClientRefundedServerFunded,
	StatusClientRefundedServerRefunded, StatusClientInvalidFunded, StatusClientFundedTooLate,
}

// ErrUnknownStatus is returned by ParseStatus.
var ErrUnknownStatus = errors.New("unknown swap status")

// ParseStatus validates a status string received from the coordinator.
func ParseStatus(s string) (Status, error) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// Statuses returns every known status.
func Statuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// Next returns the legal successors of s.
func (s Status) Next() []Status {
	return append([]Status(nil), transitions[s]...)
}

// CanTransition reports whether to is a legal successor of s.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further status can follow s.
func (s Status) IsTerminal() bool {
	_, ok := transitions[s]
	return !ok
}

// IsAnomaly reports whether s itself signals counterparty misbehavior.
func (s Status) IsAnomaly() bool {
	return s == StatusClientRefundedServerFunded
}

// NeedsRefund reports whether in s the client's locked funds can only come
// back through a refund.
func (s Status) NeedsRefund() bool {
	switch s {
	case StatusExpired,
		StatusClientInvalidFunded,
		StatusClientFundedTooLate,
		StatusClientFundedServerRefunded:
		return true
	}
	return false
}

// IsSuccess reports whether the swap completed.
func (s Status) IsSuccess() bool {
	return s == StatusClientRedeemed || s == StatusServerRedeemed
}

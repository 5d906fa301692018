// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package identity

type CallbackStatus string

const (
	// CallbackAbsent means the location carried no callback parameters.
	CallbackAbsent CallbackStatus = "absent"
	// CallbackPresent means a callback was consumed and a session stored.
	CallbackPresent CallbackStatus = "present"
	// CallbackInvalid means callback parameters were there but unusable.
	CallbackInvalid CallbackStatus = "invalid"
)

type CallbackResult struct {
	Status CallbackStatus
	// Reason is set for CallbackInvalid.
	Reason error
}

func (r CallbackResult) Present() bool {
	return r.Status == CallbackPresent
}

func absentCallback() CallbackResult {
	return CallbackResult{Status: CallbackAbsent}
}

func presentCallback() CallbackResult {
	return CallbackResult{Status: CallbackPresent}
}

func invalidCallback(reason error) CallbackResult {
	return CallbackResult{Status: CallbackInvalid, Reason: reason}
}

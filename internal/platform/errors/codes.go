// Package errors provides structured errors for the realtime client.
//
// Codes are grouped into three classes that callers act on differently:
// connection errors are retried by the connection manager, protocol errors
// are logged and routed to the catch-all kind, and action errors are shown
// to the user once and never retried.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

// Class groups codes by how the client reacts to them.
type Class string

const (
	ClassUnknown    Class = "UNKNOWN"
	ClassConnection Class = "CONNECTION"
	ClassProtocol   Class = "PROTOCOL"
	ClassAction     Class = "ACTION"
)

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Connection errors
	CodeConnectionFailed      Code = "CONNECTION_FAILED"
	CodeConnectionClosed      Code = "CONNECTION_CLOSED"
	CodeConnectionIDsRequired Code = "CONNECTION_IDS_REQUIRED"

	// Protocol errors
	CodeProtocolMalformed    Code = "PROTOCOL_MALFORMED"
	CodeProtocolUnknownKind  Code = "PROTOCOL_UNKNOWN_KIND"
	CodeProtocolInvalidState Code = "PROTOCOL_INVALID_STATE"

	// Action errors returned by the game backend
	CodeActionRejected     Code = "ACTION_REJECTED"
	CodeActionUnauthorized Code = "ACTION_UNAUTHORIZED"
	CodeActionForbidden    Code = "ACTION_FORBIDDEN"
	CodeActionConflict     Code = "ACTION_CONFLICT"
	CodeActionServerError  Code = "ACTION_SERVER_ERROR"
	CodeNotFound           Code = "NOT_FOUND"

	// Action errors raised before any request is sent
	CodeCombatNotActive     Code = "COMBAT_NOT_ACTIVE"
	CodeCombatAlreadyActive Code = "COMBAT_ALREADY_ACTIVE"
	CodeEncounterNotCombat  Code = "ENCOUNTER_NOT_COMBAT"
	CodeEncounterCompleted  Code = "ENCOUNTER_COMPLETED"
	CodeEncounterMissing    Code = "ENCOUNTER_MISSING"
	CodeInitiativeEmpty     Code = "INITIATIVE_EMPTY"
	CodeInitiativeDuplicate Code = "INITIATIVE_DUPLICATE"
	CodeActionActorMissing  Code = "ACTION_ACTOR_MISSING"

	// Token errors
	CodeTokenInvalid Code = "TOKEN_INVALID"
	CodeTokenExpired Code = "TOKEN_EXPIRED"
)

// Class maps a code to its taxonomy class.
func (c Code) Class() Class {
	switch c {
	case CodeConnectionFailed,
		CodeConnectionClosed,
		CodeConnectionIDsRequired,
		CodeTokenInvalid,
		CodeTokenExpired:
		return ClassConnection

	case CodeProtocolMalformed,
		CodeProtocolUnknownKind,
		CodeProtocolInvalidState:
		return ClassProtocol

	case CodeActionRejected,
		CodeActionUnauthorized,
		CodeActionForbidden,
		CodeActionConflict,
		CodeActionServerError,
		CodeNotFound,
		CodeCombatNotActive,
		CodeCombatAlreadyActive,
		CodeEncounterNotCombat,
		CodeEncounterCompleted,
		CodeEncounterMissing,
		CodeInitiativeEmpty,
		CodeInitiativeDuplicate,
		CodeActionActorMissing:
		return ClassAction

	default:
		return ClassUnknown
	}
}

// HTTPStatus maps domain codes to the HTTP status the reference backend
// answers with.
func (c Code) HTTPStatus() int {
	switch c {
	// BadRequest - validation failures, bad input
	case CodeActionRejected,
		CodeInitiativeEmpty,
		CodeInitiativeDuplicate,
		CodeActionActorMissing,
		CodeEncounterNotCombat,
		CodeProtocolMalformed:
		return http.StatusBadRequest

	// Conflict - state doesn't allow operation
	case CodeActionConflict,
		CodeCombatNotActive,
		CodeCombatAlreadyActive,
		CodeEncounterCompleted:
		return http.StatusConflict

	case CodeActionUnauthorized, CodeTokenInvalid, CodeTokenExpired:
		return http.StatusUnauthorized

	case CodeActionForbidden:
		return http.StatusForbidden

	case CodeNotFound, CodeEncounterMissing:
		return http.StatusNotFound

	default:
		return http.StatusInternalServerError
	}
}

// CodeFromHTTPStatus maps a backend status to an action code.
func CodeFromHTTPStatus(status int) Code {
	switch {
	case status == http.StatusUnauthorized:
		return CodeActionUnauthorized
	case status == http.StatusForbidden:
		return CodeActionForbidden
	case status == http.StatusNotFound:
		return CodeNotFound
	case status == http.StatusConflict:
		return CodeActionConflict
	case status >= 400 && status < 500:
		return CodeActionRejected
	default:
		return CodeActionServerError
	}
}

package resolver

import "github.com/askdb/askdb/internal/backend"

type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailure  Outcome = "failure"
)

// ErrorKind tags a non-success outcome.
type ErrorKind string

const (
	KindNone            ErrorKind = ""
	KindConnection      ErrorKind = "connection_error"
	KindUnsafe          ErrorKind = "unsafe_statement"
	KindTranslation     ErrorKind = "translation_failure"
	KindNotTranslatable ErrorKind = "not_translatable"
	KindExecution       ErrorKind = "execution_error"
	KindEmptyInput      ErrorKind = "empty_input"
	KindCancelled       ErrorKind = "cancelled"
)

type State string

const (
	StateIdle                  State = "idle"
	StateSafetyCheckDirect     State = "safety_check_direct"
	StateRejected              State = "rejected"
	StateDirectExecute         State = "direct_execute_attempt"
	StateExecutionSuccess      State = "execution_success"
	StateExecutionFailure      State = "execution_failure"
	StateAITranslate           State = "ai_translate"
	StateTranslationFailure    State = "translation_failure"
	StateNotSQL                State = "not_sql"
	StateSafetyCheckTranslated State = "safety_check_translated"
	StateExecuteTranslated     State = "execute_translated"
	StateSuccess               State = "success"
	StateFailure               State = "failure"
)

// Messages shown to users. Titles match the dialogs of the desktop client.
const (
	ForbiddenReason  = "forbidden command"
	ForbiddenTitle   = "Forbidden"
	ForbiddenMessage = "You must not execute this dangerous command"
	InvalidSQLTitle  = "Invalid SQL Command"
	ErrorTitle       = "Error"
)

// Result is the tagged outcome of one resolution. Table is populated only on
// success.
type Result struct {
	Outcome    Outcome
	Kind       ErrorKind
	Table      backend.Result
	SQL        string
	Translated bool
	Title      string
	Reason     string
	Detail     string
	Err        error
	States     []State
}

func (r Result) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// Message is the text to show for a non-success outcome.
func (r Result) Message() string {
	if r.Detail != "" {
		return r.Detail
	}
	return r.Reason
}

package models

/************************************************
/**** MARK: ANSWER KINDS ****/
/************************************************/
const ANSWER_KIND_ANSWER = "answer"
const ANSWER_KIND_MESSAGE = "message"
const ANSWER_KIND_EMPTY = "empty"
const ANSWER_KIND_TIMEOUT = "timeout"
const ANSWER_KIND_HTTP_ERROR = "http_error"
const ANSWER_KIND_TRANSPORT_ERROR = "transport_error"
const ANSWER_KIND_UNEXPECTED = "unexpected"
const ANSWER_KIND_SYSTEM_ERROR = "system_error"

// Answer is what the AI gateway hands back for one query.
// Text is never empty: failures carry their fallback text and a Kind other
// than ANSWER_KIND_ANSWER / ANSWER_KIND_MESSAGE.
type Answer struct {
	Text string
	Kind string
}

// Fallback reports whether the answer is a substituted fallback text.
func (a Answer) Fallback() bool {
	return a.Kind != ANSWER_KIND_ANSWER && a.Kind != ANSWER_KIND_MESSAGE
}

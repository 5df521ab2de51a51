package ctc

import "errors"

// Error kinds returned by decoders. Match them with [errors.Is]; errors from
// a language model additionally wrap the model's own error.
var (
	// ErrInvalidInput reports a malformed log-probability matrix. It is
	// returned before any decoding work starts.
	ErrInvalidInput = errors.New("ctc: invalid input")

	// ErrInvalidConfiguration reports unusable decoder options.
	ErrInvalidConfiguration = errors.New("ctc: invalid configuration")

	// ErrLanguageModel reports a failed language-model call. The decode that
	// issued the call is aborted.
	ErrLanguageModel = errors.New("ctc: language model failure")

	// ErrStreamClosed is returned by a [Stream] that has already been
	// finished or aborted.
	ErrStreamClosed = errors.New("ctc: stream closed")
)

package scraper

import (
	"errors"
	"fmt"
)

// ErrNotFound signals that a requested store record does not exist.
var ErrNotFound = errors.New("not found")

// ErrQueueClosed signals that the submission queue has shut down and no
// further submissions will arrive. Workers treat it as a stop signal.
var ErrQueueClosed = errors.New("queue closed")

// FetchError wraps a failed fetch attempt. StatusCode is zero when the
// failure happened before a response arrived.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// UnsupportedContentError records a fetched page whose MIME type no
// registered pipeline claims. It is per-page and never aborts a crawl.
type UnsupportedContentError struct {
	URL      string
	MimeType string
}

func (e *UnsupportedContentError) Error() string {
	return fmt.Sprintf("no pipeline for content type %q at %s", e.MimeType, e.URL)
}

// StageError wraps a failure raised by a named pipeline stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// DispatchProtocolError records a stage misusing the dispatch contract,
// such as reusing its proceed continuation. The message is the reason
// verbatim so callers can match on it.
type DispatchProtocolError struct {
	Reason string
}

func (e *DispatchProtocolError) Error() string { return e.Reason }

// SplitError wraps a structural failure inside the content splitter.
type SplitError struct {
	Reason string
	Err    error
}

func (e *SplitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("split: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("split: %s", e.Reason)
}

func (e *SplitError) Unwrap() error { return e.Err }

// MinimumChunkSizeError means a single atomic unit (a table row with its
// decoration, or a JSON member with its enclosing brackets) cannot fit the
// chunk budget even alone. It is a configuration error.
type MinimumChunkSizeError struct {
	Unit   string
	Need   int
	Budget int
}

func (e *MinimumChunkSizeError) Error() string {
	return fmt.Sprintf("minimum chunk size: %s needs %d bytes, budget is %d", e.Unit, e.Need, e.Budget)
}

// InvalidPatternError reports an include/exclude pattern that failed to
// compile at filter construction time.
type InvalidPatternError struct {
	Pattern string
	Err     error
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid pattern %q: %v", e.Pattern, e.Err)
}

func (e *InvalidPatternError) Unwrap() error { return e.Err }

// ErrorStrings flattens an error list into messages for serialization.
func ErrorStrings(errs []error) []string {
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, 0, len(errs))
	for _, err := range errs {
		if err == nil {
			continue
		}
		out = append(out, err.Error())
	}
	return out
}

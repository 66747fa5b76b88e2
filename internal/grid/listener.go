package grid

import "github.com/noah-isme/gridkit/internal/models"

// Listener receives controller notifications. Callbacks run on the goroutine
// that handles completions and must not block it for long.
type Listener interface {
	OnPageChanged(page models.Page, requestID uint64, appended bool)
	OnLoadingChanged(loading bool)
	OnError(message string)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	PageChanged    func(page models.Page, requestID uint64, appended bool)
	LoadingChanged func(loading bool)
	Error          func(message string)
}

// OnPageChanged implements Listener.
func (l ListenerFuncs) OnPageChanged(page models.Page, requestID uint64, appended bool) {
	if l.PageChanged != nil {
		l.PageChanged(page, requestID, appended)
	}
}

// OnLoadingChanged implements Listener.
func (l ListenerFuncs) OnLoadingChanged(loading bool) {
	if l.LoadingChanged != nil {
		l.LoadingChanged(loading)
	}
}

// OnError implements Listener.
func (l ListenerFuncs) OnError(message string) {
	if l.Error != nil {
		l.Error(message)
	}
}

type nopListener struct{}

func (nopListener) OnPageChanged(models.Page, uint64, bool) {}
func (nopListener) OnLoadingChanged(bool)                   {}
func (nopListener) OnError(string)                          {}

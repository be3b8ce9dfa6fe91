package dircache

import "dirlister/internal/location"

// Observer receives deliveries for a Lister. Calls happen on the lister's own
// dispatch goroutine, one at a time and in order, never while the cache lock
// is held, so an observer may call back into the cache.
type Observer interface {
	ItemsAdded(dir location.Location, items []ItemRef)
	ItemsRemoved(dir location.Location, items []ItemRef)
	ItemsRefreshed(dir location.Location, items []Refresh)
	Completed(dir location.Location)
	Canceled(dir location.Location)
	Failed(dir location.Location, err error)
	Redirected(from, to location.Location)
}

// NopObserver ignores every delivery. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) ItemsAdded(location.Location, []ItemRef)         {}
func (NopObserver) ItemsRemoved(location.Location, []ItemRef)       {}
func (NopObserver) ItemsRefreshed(location.Location, []Refresh)     {}
func (NopObserver) Completed(location.Location)                     {}
func (NopObserver) Canceled(location.Location)                      {}
func (NopObserver) Failed(location.Location, error)                 {}
func (NopObserver) Redirected(location.Location, location.Location) {}

// ObserverFuncs adapts closures; nil fields are skipped.
type ObserverFuncs struct {
	OnItemsAdded     func(dir location.Location, items []ItemRef)
	OnItemsRemoved   func(dir location.Location, items []ItemRef)
	OnItemsRefreshed func(dir location.Location, items []Refresh)
	OnCompleted      func(dir location.Location)
	OnCanceled       func(dir location.Location)
	OnFailed         func(dir location.Location, err error)
	OnRedirected     func(from, to location.Location)
}

func (funcs ObserverFuncs) ItemsAdded(dir location.Location, items []ItemRef) {
	if funcs.OnItemsAdded != nil {
		funcs.OnItemsAdded(dir, items)
	}
}

func (funcs ObserverFuncs) ItemsRemoved(dir location.Location, items []ItemRef) {
	if funcs.OnItemsRemoved != nil {
		funcs.OnItemsRemoved(dir, items)
	}
}

func (funcs ObserverFuncs) ItemsRefreshed(dir location.Location, items []Refresh) {
	if funcs.OnItemsRefreshed != nil {
		funcs.OnItemsRefreshed(dir, items)
	}
}

func (funcs ObserverFuncs) Completed(dir location.Location) {
	if funcs.OnCompleted != nil {
		funcs.OnCompleted(dir)
	}
}

func (funcs ObserverFuncs) Canceled(dir location.Location) {
	if funcs.OnCanceled != nil {
		funcs.OnCanceled(dir)
	}
}

func (funcs ObserverFuncs) Failed(dir location.Location, err error) {
	if funcs.OnFailed != nil {
		funcs.OnFailed(dir, err)
	}
}

func (funcs ObserverFuncs) Redirected(from, to location.Location) {
	if funcs.OnRedirected != nil {
		funcs.OnRedirected(from, to)
	}
}

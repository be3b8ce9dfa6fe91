package notify

import (
	"testing"

	"dirlister/internal/event"
	"dirlister/internal/location"

	"github.com/stretchr/testify/mock"
)

type mockTarget struct {
	mock.Mock
}

func (target *mockTarget) FilesAdded(dir location.Location) {
	target.Called(dir)
}

func (target *mockTarget) FilesRemoved(locs []location.Location) {
	target.Called(locs)
}

func (target *mockTarget) FilesChanged(locs []location.Location) {
	target.Called(locs)
}

func (target *mockTarget) FileRenamed(src, dst location.Location) {
	target.Called(src, dst)
}

func TestApplyDispatchesByType(t *testing.T) {
	dir := location.MustParse("s3://bucket/docs")
	a, b := dir.Join("a.txt"), dir.Join("b.txt")

	target := &mockTarget{}
	target.On("FilesAdded", dir).Once()
	target.On("FilesRemoved", []location.Location{a}).Once()
	target.On("FilesChanged", []location.Location{a, b}).Once()
	target.On("FileRenamed", a, b).Once()

	events := []event.DirEvent{
		event.NewDirEvent(event.TypeDirEntered, dir.String()),
		event.NewDirEvent(event.TypeFilesAdded, dir.String()),
		event.NewDirEvent(event.TypeFilesRemoved, "", a.String()),
		event.NewDirEvent(event.TypeFilesChanged, "", a.String(), b.String()),
		event.NewRenameEvent(a.String(), b.String()),
		event.NewDirEvent(event.TypeDirLeft, dir.String()),
	}
	for _, dirEvent := range events {
		if err := Apply(target, dirEvent); err != nil {
			t.Fatalf("apply %s: %v", dirEvent.Type(), err)
		}
	}
	target.AssertExpectations(t)
}

func TestApplyRejectsMalformedEvents(t *testing.T) {
	cases := []event.DirEvent{
		{EventType: "bogus"},
		{EventType: event.TypeFilesAdded, Dir: ""},
		{EventType: event.TypeFilesRemoved},
		{EventType: event.TypeFilesChanged, Paths: []string{"relative/path"}},
		{EventType: event.TypeFileRenamed, From: "/a"},
	}
	target := &mockTarget{}
	for _, dirEvent := range cases {
		if err := Apply(target, dirEvent); err == nil {
			t.Fatalf("expected error for %+v", dirEvent)
		}
	}
	target.AssertNotCalled(t, "FilesAdded", mock.Anything)
	target.AssertNotCalled(t, "FileRenamed", mock.Anything, mock.Anything)
}

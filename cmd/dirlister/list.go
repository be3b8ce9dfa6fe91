package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"text/tabwriter"

	"dirlister/internal/cli"
	"dirlister/internal/dircache"
	"dirlister/internal/fileitem"
	"dirlister/internal/location"
)

// listing collects one location's items until the listing settles.
type listing struct {
	dircache.NopObserver

	mu    sync.Mutex
	items map[dircache.Handle]fileitem.Item
	err   error
	done  chan struct{}
	once  sync.Once
}

func newListing() *listing {
	return &listing{
		items: make(map[dircache.Handle]fileitem.Item),
		done:  make(chan struct{}),
	}
}

func (l *listing) ItemsAdded(_ location.Location, items []dircache.ItemRef) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ref := range items {
		l.items[ref.Handle] = ref.Item
	}
}

func (l *listing) ItemsRemoved(_ location.Location, items []dircache.ItemRef) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ref := range items {
		delete(l.items, ref.Handle)
	}
}

func (l *listing) ItemsRefreshed(_ location.Location, items []dircache.Refresh) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, refresh := range items {
		l.items[refresh.Handle] = refresh.New
	}
}

func (l *listing) Completed(location.Location) {
	l.finish(nil)
}

func (l *listing) Canceled(dir location.Location) {
	l.finish(fmt.Errorf("%w: %s", dircache.ErrCanceled, dir))
}

func (l *listing) Failed(_ location.Location, err error) {
	l.finish(err)
}

func (l *listing) finish(err error) {
	l.once.Do(func() {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		close(l.done)
	})
}

func (l *listing) sorted() []fileitem.Item {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := make([]fileitem.Item, 0, len(l.items))
	for _, item := range l.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Name < items[j].Name
	})
	return items
}

func runList(args []string, out io.Writer, errOut io.Writer) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)
	return listWithContext(ctx, cancel, signalCh, args, out, errOut)
}

func listWithContext(ctx context.Context, cancel context.CancelFunc, signalCh <-chan os.Signal, args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("dirlister list", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := cli.AddConfigFlag(fs)
	reload := fs.Bool("reload", false, "Re-enumerate even when a cached listing exists")
	filtering := addFilterFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitCodeSuccess
		}
		return exitCodeUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "list expects exactly one location")
		return exitCodeUsage
	}
	loc, err := location.Parse(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(errOut, err)
		return exitCodeUsage
	}
	filter, err := filtering.filter()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return exitCodeUsage
	}

	settings, err := loadSettings(*configPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return exitCodeFailure
	}
	// One-shot listings never need change notifications.
	settings.Watch.Enabled = false

	rt, err := newRuntime(ctx, settings, errOut)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return exitCodeFailure
	}
	defer rt.close()
	stopSignals := watchShutdownSignals(rt.logger, cancel, signalCh)
	defer stopSignals()

	result := newListing()
	lister := rt.cache.NewLister(result, dircache.WithFilter(filter))
	defer lister.Close()
	if _, err := lister.Open(loc, false, *reload); err != nil {
		fmt.Fprintln(errOut, err)
		return exitCodeFailure
	}

	select {
	case <-result.done:
	case <-ctx.Done():
		lister.Stop()
		fmt.Fprintln(errOut, "interrupted")
		return exitCodeFailure
	}
	if result.err != nil {
		fmt.Fprintln(errOut, result.err)
		return exitCodeFailure
	}
	return printItems(out, result.sorted())
}

func printItems(out io.Writer, items []fileitem.Item) int {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, item := range items {
		fmt.Fprintf(writer, "%s\t%d\t%s\n", item.Kind, item.Size, item.Name)
	}
	if err := writer.Flush(); err != nil {
		return exitCodeFailure
	}
	return exitCodeSuccess
}

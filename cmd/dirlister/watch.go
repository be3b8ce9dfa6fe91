package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"dirlister/internal/cli"
	"dirlister/internal/dircache"
	"dirlister/internal/location"
)

// deltaPrinter writes one line per delivered change. The first column is
// "+" for added, "-" removed, "~" refreshed, "=" complete, "!" failed,
// "x" canceled and ">" redirected.
type deltaPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *deltaPrinter) line(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *deltaPrinter) ItemsAdded(dir location.Location, items []dircache.ItemRef) {
	for _, ref := range items {
		p.line("+ %s", dir.Join(ref.Item.Name))
	}
}

func (p *deltaPrinter) ItemsRemoved(dir location.Location, items []dircache.ItemRef) {
	for _, ref := range items {
		p.line("- %s", dir.Join(ref.Item.Name))
	}
}

func (p *deltaPrinter) ItemsRefreshed(dir location.Location, items []dircache.Refresh) {
	for _, refresh := range items {
		if refresh.Old.Name != refresh.New.Name {
			p.line("~ %s -> %s", dir.Join(refresh.Old.Name), dir.Join(refresh.New.Name))
			continue
		}
		p.line("~ %s", dir.Join(refresh.New.Name))
	}
}

func (p *deltaPrinter) Completed(dir location.Location) {
	p.line("= %s", dir)
}

func (p *deltaPrinter) Canceled(dir location.Location) {
	p.line("x %s", dir)
}

func (p *deltaPrinter) Failed(dir location.Location, err error) {
	p.line("! %s: %v", dir, err)
}

func (p *deltaPrinter) Redirected(from, to location.Location) {
	p.line("> %s -> %s", from, to)
}

func runWatch(args []string, out io.Writer, errOut io.Writer) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)
	return watchWithContext(ctx, cancel, signalCh, args, out, errOut)
}

func watchWithContext(ctx context.Context, cancel context.CancelFunc, signalCh <-chan os.Signal, args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("dirlister watch", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := cli.AddConfigFlag(fs)
	relayURL := fs.String("relay", "", "Relay websocket URL to exchange change notices with")
	filtering := addFilterFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitCodeSuccess
		}
		return exitCodeUsage
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(errOut, "watch expects at least one location")
		return exitCodeUsage
	}
	locs := make([]location.Location, 0, fs.NArg())
	for _, raw := range fs.Args() {
		loc, err := location.Parse(raw)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return exitCodeUsage
		}
		locs = append(locs, loc)
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
	if *relayURL != "" {
		settings.Relay.URL = *relayURL
	}

	rt, err := newRuntime(ctx, settings, errOut)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return exitCodeFailure
	}
	defer rt.close()
	stopSignals := watchShutdownSignals(rt.logger, cancel, signalCh)
	defer stopSignals()

	var peerDone <-chan struct{}
	if settings.Relay.URL != "" {
		peerDone, err = rt.startPeer(ctx, settings.Relay.URL)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return exitCodeFailure
		}
	}

	lister := rt.cache.NewLister(&deltaPrinter{out: out}, dircache.WithAutoUpdate(), dircache.WithFilter(filter))
	for _, loc := range locs {
		if _, err := lister.Open(loc, true, false); err != nil {
			lister.Close()
			fmt.Fprintln(errOut, err)
			return exitCodeFailure
		}
	}

	code := rt.wait(ctx, errOut)
	lister.Close()
	// A failure leaves ctx running; the peer only stops once it ends.
	cancel()
	if peerDone != nil {
		<-peerDone
	}
	return code
}

package dircache

import "sync"

type delivery struct {
	epoch uint64
	call  func(Observer)
}

// dispatcher runs a lister's observer callbacks on one goroutine in FIFO
// order. The queue is unbounded so the cache never blocks on a slow observer.
type dispatcher struct {
	observer Observer
	mutex    sync.Mutex
	cond     *sync.Cond
	queue    []delivery
	live     map[uint64]struct{}
	closed   bool
	done     chan struct{}
}

func newDispatcher(observer Observer) *dispatcher {
	if observer == nil {
		observer = NopObserver{}
	}
	d := &dispatcher{
		observer: observer,
		live:     make(map[uint64]struct{}),
		done:     make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mutex)
	go d.run()
	return d
}

func (d *dispatcher) admit(epoch uint64) {
	d.mutex.Lock()
	d.live[epoch] = struct{}{}
	d.mutex.Unlock()
}

func (d *dispatcher) retire(epoch uint64) {
	d.mutex.Lock()
	delete(d.live, epoch)
	d.mutex.Unlock()
}

// enqueue adds a delivery. Epoch zero is always delivered.
func (d *dispatcher) enqueue(epoch uint64, call func(Observer)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.closed {
		return
	}
	d.queue = append(d.queue, delivery{epoch: epoch, call: call})
	d.cond.Signal()
}

func (d *dispatcher) close() {
	d.mutex.Lock()
	if d.closed {
		d.mutex.Unlock()
		return
	}
	d.closed = true
	d.queue = nil
	d.cond.Broadcast()
	d.mutex.Unlock()
}

// pending reports queued deliveries, for tests.
func (d *dispatcher) pending() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return len(d.queue)
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mutex.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if d.closed {
			d.mutex.Unlock()
			return
		}
		next := d.queue[0]
		d.queue[0] = delivery{}
		d.queue = d.queue[1:]
		_, live := d.live[next.epoch]
		d.mutex.Unlock()

		if next.epoch == 0 || live {
			next.call(d.observer)
		}
	}
}

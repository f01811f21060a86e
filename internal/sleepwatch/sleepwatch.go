// Package sleepwatch tells the gauge when the system suspends and for how
// long it slept, using logind's PrepareForSleep signal.
package sleepwatch

import (
	"context"
	"log"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	login1Dest      = "org.freedesktop.login1"
	login1Path      = dbus.ObjectPath("/org/freedesktop/login1")
	login1Manager   = "org.freedesktop.login1.Manager"
	prepareForSleep = login1Manager + ".PrepareForSleep"
)

// Sleeper is notified around system sleep.
type Sleeper interface {
	OnSuspend()
	OnResume(elapsed time.Duration) error
}

// Clock reads one clock that keeps running during suspend and one that
// stops.
type Clock interface {
	Boottime() time.Duration
	Monotonic() time.Duration
}

type unixClock struct{}

func (unixClock) Boottime() time.Duration  { return clock(unix.CLOCK_BOOTTIME) }
func (unixClock) Monotonic() time.Duration { return clock(unix.CLOCK_MONOTONIC) }

func clock(id int32) time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(id, &ts); err != nil {
		return 0
	}
	return time.Duration(ts.Nano())
}

// tracker measures time spent asleep between a suspend and the next resume.
type tracker struct {
	clock     Clock
	sleeper   Sleeper
	boot      time.Duration
	mono      time.Duration
	suspended bool
}

func (t *tracker) suspend() {
	t.boot, t.mono = t.clock.Boottime(), t.clock.Monotonic()
	t.suspended = true
	t.sleeper.OnSuspend()
}

// resume reports false when no suspend was seen before it.
func (t *tracker) resume() (time.Duration, bool, error) {
	if !t.suspended {
		return 0, false, nil
	}
	t.suspended = false
	slept := (t.clock.Boottime() - t.boot) - (t.clock.Monotonic() - t.mono)
	if slept < 0 {
		slept = 0
	}
	return slept, true, t.sleeper.OnResume(slept)
}

type Watcher struct {
	conn    *dbus.Conn
	t       tracker
	log     *log.Logger
	lock    dbus.UnixFD
	locked  bool
	inhibit func() error
	release func()
}

// New connects to the system bus and subscribes to PrepareForSleep.
func New(s Sleeper, logger *log.Logger) (*Watcher, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, errors.Wrap(err, "sleepwatch: system bus")
	}
	err = conn.AddMatchSignal(
		dbus.WithMatchObjectPath(login1Path),
		dbus.WithMatchInterface(login1Manager),
		dbus.WithMatchMember("PrepareForSleep"),
	)
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "sleepwatch: add match")
	}
	w := &Watcher{
		conn: conn,
		t:    tracker{clock: unixClock{}, sleeper: s},
		log:  logger,
	}
	w.inhibit = w.takeDelayLock
	w.release = w.dropDelayLock
	return w, nil
}

// Run handles sleep signals until ctx is done. A delay inhibitor lock is held
// while awake so OnSuspend completes before the system sleeps.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.conn.Close()
	if err := w.inhibit(); err != nil {
		w.log.Printf("SleepWatch: no delay lock, suspend may race the gauge: %v", err)
	}
	defer w.release()

	ch := make(chan *dbus.Signal, 4)
	w.conn.Signal(ch)
	defer w.conn.RemoveSignal(ch)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-ch:
			if !ok {
				return errors.New("sleepwatch: bus connection closed")
			}
			w.handle(sig)
		}
	}
}

func (w *Watcher) handle(sig *dbus.Signal) {
	if sig.Name != prepareForSleep || len(sig.Body) != 1 {
		return
	}
	sleeping, ok := sig.Body[0].(bool)
	if !ok {
		return
	}
	if sleeping {
		w.log.Println("SleepWatch: suspending")
		w.t.suspend()
		w.release()
		return
	}
	slept, seen, err := w.t.resume()
	switch {
	case err != nil:
		w.log.Printf("SleepWatch: resume after %s: %v", slept, err)
	case seen:
		w.log.Printf("SleepWatch: resumed after %s", slept.Round(time.Second))
	}
	if err := w.inhibit(); err != nil {
		w.log.Printf("SleepWatch: retake delay lock: %v", err)
	}
}

func (w *Watcher) takeDelayLock() error {
	if w.locked {
		return nil
	}
	obj := w.conn.Object(login1Dest, login1Path)
	call := obj.Call(login1Manager+".Inhibit", 0, "sleep", "ozgauged", "Saving battery gauge state", "delay")
	if err := call.Store(&w.lock); err != nil {
		return errors.Wrap(err, "sleepwatch: inhibit")
	}
	w.locked = true
	return nil
}

func (w *Watcher) dropDelayLock() {
	if !w.locked {
		return
	}
	unix.Close(int(w.lock))
	w.locked = false
}

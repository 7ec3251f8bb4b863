package monitor

import (
	"sync"
	"time"
)

// Task is a scheduled callback that can be cancelled. Cancel is idempotent.
type Task interface {
	Cancel()
}

// Scheduler runs callbacks after a delay or on a fixed period.
type Scheduler interface {
	After(d time.Duration, fn func()) Task
	Every(d time.Duration, fn func()) Task
}

// RealScheduler schedules on the wall clock.
type RealScheduler struct{}

// After runs fn once, d from now, on its own goroutine.
func (RealScheduler) After(d time.Duration, fn func()) Task {
	return timerTask{time.AfterFunc(d, fn)}
}

// Every runs fn every d until the task is cancelled.
func (RealScheduler) Every(d time.Duration, fn func()) Task {
	t := &tickerTask{done: make(chan struct{})}
	ticker := time.NewTicker(d)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-t.done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	return t
}

type timerTask struct {
	t *time.Timer
}

func (t timerTask) Cancel() { t.t.Stop() }

type tickerTask struct {
	once sync.Once
	done chan struct{}
}

func (t *tickerTask) Cancel() {
	t.once.Do(func() { close(t.done) })
}

package filestore

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// keyedLocker hands out one exclusive slot per key; distinct keys never contend.
type keyedLocker struct {
	mutex sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	token   chan struct{}
	holders int
}

func newKeyedLocker() *keyedLocker {
	return &keyedLocker{slots: make(map[string]*lockSlot)}
}

// acquire blocks until the key is free or ctx is done.
func (locker *keyedLocker) acquire(ctx context.Context, key string) (func(), error) {
	locker.mutex.Lock()
	slot, ok := locker.slots[key]
	if !ok {
		slot = &lockSlot{token: make(chan struct{}, 1)}
		locker.slots[key] = slot
	}
	slot.holders++
	locker.mutex.Unlock()

	select {
	case slot.token <- struct{}{}:
	case <-ctx.Done():
		locker.drop(key, slot)
		return nil, ctx.Err()
	}
	return func() {
		<-slot.token
		locker.drop(key, slot)
	}, nil
}

func (locker *keyedLocker) drop(key string, slot *lockSlot) {
	locker.mutex.Lock()
	defer locker.mutex.Unlock()
	slot.holders--
	if slot.holders == 0 {
		delete(locker.slots, key)
	}
}

// lockFile takes an exclusive advisory lock on an open file.
func lockFile(file *os.File) error {
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("flock %s: %w", file.Name(), err)
	}
	return nil
}

func unlockFile(file *os.File) error {
	if err := unix.Flock(int(file.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("funlock %s: %w", file.Name(), err)
	}
	return nil
}

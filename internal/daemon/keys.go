package daemon

import (
	"context"
	"fmt"

	"github.com/eiannone/keyboard"
	"golang.org/x/sync/errgroup"
)

// KeySource opens a stream of key presses. The returned func releases the
// terminal and must be called once reading is done.
type KeySource func() (<-chan keyboard.KeyEvent, func() error, error)

// TerminalKeys reads raw key presses from the controlling terminal
func TerminalKeys() (<-chan keyboard.KeyEvent, func() error, error) {
	events, err := keyboard.GetKeys(10)
	if err != nil {
		return nil, nil, err
	}
	return events, keyboard.Close, nil
}

type keyAction int

const (
	keyIgnore keyAction = iota
	keySync
	keyBackup
	keyQuit
)

func actionForKey(ch rune, key keyboard.Key) keyAction {
	switch key {
	case keyboard.KeyEsc, keyboard.KeyCtrlC:
		return keyQuit
	}
	switch ch {
	case 's', 'S':
		return keySync
	case 'b', 'B':
		return keyBackup
	case 'q', 'Q':
		return keyQuit
	}
	return keyIgnore
}

// RunInteractive runs r and listens for keys alongside it. Pressing q or Esc
// stops the runner. It returns once both the runner and the key listener are
// done, so the terminal is restored before the caller exits.
func RunInteractive(ctx context.Context, r *Runner, keys KeySource) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		defer cancel()
		return r.Run(ctx)
	})
	g.Go(func() error {
		if err := ListenKeys(ctx, r, keys, cancel); err != nil {
			r.logger.Warn("interactive keys unavailable", "error", err)
		}
		return nil
	})
	return g.Wait()
}

// ListenKeys reads single key presses and turns them into runner triggers:
// s syncs now, b forces a backup, q or Esc calls quit. It returns when ctx is
// done or the key stream ends.
func ListenKeys(ctx context.Context, r *Runner, keys KeySource, quit func()) error {
	events, closeKeys, err := keys()
	if err != nil {
		return fmt.Errorf("failed to open keyboard: %w", err)
	}
	defer func() {
		_ = closeKeys()
	}()

	r.logger.Info("interactive mode: press s to sync, b to back up, q to quit")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Err != nil {
				return ev.Err
			}
			dispatchKey(r, actionForKey(ev.Rune, ev.Key), quit)
		}
	}
}

func dispatchKey(r *Runner, action keyAction, quit func()) {
	switch action {
	case keySync:
		if !r.Trigger(TriggerSync) {
			r.logger.Warn("trigger queue full, ignoring key")
		}
	case keyBackup:
		if !r.Trigger(TriggerBackup) {
			r.logger.Warn("trigger queue full, ignoring key")
		}
	case keyQuit:
		quit()
	}
}

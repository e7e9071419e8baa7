// Copyright 2024 The Erigon Authors
// (original work)
// Copyright 2026 The Merge Recovery Authors
// (modifications)
// This file is part of Merge Recovery.
//
// Merge Recovery is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Merge Recovery is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Merge Recovery. If not, see <http://www.gnu.org/licenses/>.

//go:build linux

package cluster

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// maskWorkerSignals locks the calling goroutine to its OS thread and blocks
// SIGINT/SIGTERM on it, so interrupt delivery is left entirely to the
// orchestrator goroutine that calls signal.Notify (spec.md §4.6, §5:
// "workers must block or ignore interrupt signals so only the orchestrator
// handles cancellation").
func maskWorkerSignals() func() {
	runtime.LockOSThread()
	var old unix.Sigset_t
	set := unix.Sigset_t{}
	addSignal(&set, unix.SIGINT)
	addSignal(&set, unix.SIGTERM)
	_ = unix.PthreadSigmask(unix.SIG_BLOCK, &set, &old)
	return func() {
		_ = unix.PthreadSigmask(unix.SIG_SETMASK, &old, nil)
		runtime.UnlockOSThread()
	}
}

func addSignal(set *unix.Sigset_t, sig unix.Signal) {
	set.Val[0] |= 1 << (uint(sig) - 1)
}

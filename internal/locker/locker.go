// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package locker gives every lock in this core a place to assert its
// invariants on release, matching the teacher's syncutil.InvariantMutex
// pattern. Invariant checking is controlled by a global switch so tests can
// leave it on and production can turn it off without call sites changing.
package locker

import (
	"sync"

	"github.com/jacobsa/syncutil"
)

var invariantsEnabled = true

// EnableInvariantsCheck turns on invariant checking for all lockers created
// after this call (and toggles it for existing ones). Checking is on by
// default, so a broken invariant panics immediately instead of corrupting
// state silently.
func EnableInvariantsCheck() {
	invariantsEnabled = true
}

// DisableInvariantsCheck turns invariant checking off, e.g. for benchmarks.
func DisableInvariantsCheck() {
	invariantsEnabled = false
}

// InvariantsEnabled reports the current global setting.
func InvariantsEnabled() bool {
	return invariantsEnabled
}

// Locker is a mutex paired with a function that panics if some structural
// invariant of the guarded data no longer holds. Lock/Unlock always take and
// release the underlying mutex; the invariant function runs on Unlock only
// when the global switch is on.
type Locker struct {
	mu syncutil.InvariantMutex
}

// New returns a Locker that checks invariants by calling checkInvariants
// whenever invariant checking is enabled. checkInvariants must panic on
// violation; it must not assume the lock is held (syncutil takes care of
// that).
func New(checkInvariants func()) *Locker {
	l := &Locker{}
	l.mu = syncutil.NewInvariantMutex(func() {
		if invariantsEnabled {
			checkInvariants()
		}
	})
	return l
}

func (l *Locker) Lock()   { l.mu.Lock() }
func (l *Locker) Unlock() { l.mu.Unlock() }

var _ sync.Locker = &Locker{}

// Copyright (c) 2024 The Lens Authors. All rights reserved.
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

package poller

import (
	"os"
	"os/signal"
	"sync"
)

// Interrupter is what the process-wide SIGINT handler notifies.
type Interrupter interface {
	Interrupt()
}

var interruptReg struct {
	sync.Mutex
	owner Interrupter
	sigCh chan os.Signal
	done  chan struct{}
}

// InstallInterruptHandler makes h the receiver of the next SIGINT. Only one
// owner can be installed at a time, it returns false when another one is.
//
// The first SIGINT calls h.Interrupt and restores the default action, so a
// second SIGINT terminates the process.
func InstallInterruptHandler(h Interrupter) bool {
	interruptReg.Lock()
	defer interruptReg.Unlock()
	if interruptReg.owner != nil {
		return false
	}
	sigCh := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigCh, os.Interrupt)
	interruptReg.owner, interruptReg.sigCh, interruptReg.done = h, sigCh, done
	go forwardInterrupt(sigCh, done)
	return true
}

// UninstallInterruptHandler releases the handler if h owns it.
func UninstallInterruptHandler(h Interrupter) bool {
	interruptReg.Lock()
	defer interruptReg.Unlock()
	if interruptReg.owner == nil || interruptReg.owner != h {
		return false
	}
	signal.Stop(interruptReg.sigCh)
	close(interruptReg.done)
	interruptReg.owner, interruptReg.sigCh, interruptReg.done = nil, nil, nil
	return true
}

func forwardInterrupt(sigCh chan os.Signal, done chan struct{}) {
	select {
	case <-sigCh:
	case <-done:
		return
	}
	signal.Reset(os.Interrupt)

	var h Interrupter
	interruptReg.Lock()
	if interruptReg.sigCh == sigCh {
		h = interruptReg.owner
	}
	interruptReg.Unlock()
	if h != nil {
		h.Interrupt()
	}
}

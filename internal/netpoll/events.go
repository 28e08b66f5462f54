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

//go:build linux || darwin || freebsd || dragonfly
// +build linux darwin freebsd dragonfly

package netpoll

const (
	// InitPollEventsCap represents the initial capacity of the kernel event-list.
	InitPollEventsCap = 128
	// MaxPollEventsCap is the maximum limitation of events that the poller can process.
	MaxPollEventsCap = 1024
	// MinPollEventsCap is the minimum limitation of events that the poller can process.
	MinPollEventsCap = 32
)

// eventList is the buffer receiving kernel events, it doubles when a wait
// fills it and halves when less than half of it was used.
type eventList[E any] struct {
	size   int
	events []E
}

func newEventList[E any](size int) *eventList[E] {
	return &eventList[E]{size, make([]E, size)}
}

func (el *eventList[E]) adjust(n int) {
	if n == el.size && el.size<<1 <= MaxPollEventsCap {
		el.size <<= 1
		el.events = make([]E, el.size)
	} else if n < el.size>>1 && el.size>>1 >= MinPollEventsCap {
		el.size >>= 1
		el.events = make([]E, el.size)
	}
}

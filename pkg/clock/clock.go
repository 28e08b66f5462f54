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

// Package clock exposes the monotonic time base shared by the poller and its
// callers: deadlines handed to Poll are expressed in Elapsed seconds.
package clock

import "time"

// Elapsed returns the monotonic clock in seconds. The origin is arbitrary,
// only differences are meaningful.
func Elapsed() float64 {
	return elapsed()
}

// Since returns the duration elapsed after start, start being an Elapsed value.
func Since(start float64) time.Duration {
	return Seconds(Elapsed() - start)
}

// Seconds converts a number of seconds into a time.Duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// MilliSleep sleeps for ms milliseconds and returns the number of milliseconds
// left when the sleep was cut short by a signal, 0 otherwise.
func MilliSleep(ms float64) float64 {
	if ms <= 0 {
		return 0
	}
	return milliSleep(ms)
}

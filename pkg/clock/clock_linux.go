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

package clock

import "golang.org/x/sys/unix"

func milliSleep(ms float64) float64 {
	ns := int64(ms * 1e6)
	req := unix.NsecToTimespec(ns)
	var rem unix.Timespec
	if err := unix.Nanosleep(&req, &rem); err == unix.EINTR {
		return float64(rem.Sec)*1e3 + float64(rem.Nsec)/1e6
	}
	return 0
}

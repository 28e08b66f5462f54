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

// Package goroutine wraps the ants worker pool used to run blocking kernel
// waits off the calling goroutine.
package goroutine

import (
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/panjf2000/lens/pkg/logging"
)

const (
	// ExpiryDuration is the interval time to clean up those expired workers.
	// Waits may block for a long time, the single worker is kept around for
	// much longer than that.
	ExpiryDuration = time.Hour

	// MaxBlockingTasks bounds the submitters parked on a busy worker. The
	// worker returns to the pool only after the wait hands its result over,
	// so the next wait of the same poller may have to queue for a moment.
	MaxBlockingTasks = 1
)

func init() {
	// It releases the default pool from ants.
	ants.Release()
}

// Pool is the alias of ants.Pool.
type Pool = ants.Pool

// NewWaitPool creates a pool with a single worker, so consecutive waits of one
// poller always run on the same goroutine.
func NewWaitPool(logger logging.Logger) (*Pool, error) {
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	options := ants.Options{
		ExpiryDuration:   ExpiryDuration,
		MaxBlockingTasks: MaxBlockingTasks,
		PanicHandler: func(v interface{}) {
			logger.Errorf("background wait panicked: %v", v)
		},
	}
	return ants.NewPool(1, ants.WithOptions(options))
}

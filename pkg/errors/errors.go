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

// Package errors defines common errors for lens.
package errors

import "errors"

var (
	// ErrInvalidHandle occurs when a handle was never issued or lies outside the table.
	ErrInvalidHandle = errors.New("lens: invalid handle")
	// ErrHandleRemoved occurs when removing a handle that is not in use, e.g. removing it twice.
	ErrHandleRemoved = errors.New("lens: handle is not in use")
	// ErrInvalidFilter occurs when the filter is not one of Read, Write or VNode.
	ErrInvalidFilter = errors.New("lens: invalid filter")
	// ErrUnsupportedFilter occurs when the poller backend cannot watch the requested filter.
	ErrUnsupportedFilter = errors.New("lens: filter is not supported by this poller backend")
	// ErrUnsupportedBackend occurs when asking for a poller backend that is not available on this platform.
	ErrUnsupportedBackend = errors.New("lens: unsupported poller backend")
	// ErrPollerClosed occurs when using a poller after Close.
	ErrPollerClosed = errors.New("lens: poller is closed")
	// ErrClosed occurs when operating on a closed channel.
	ErrClosed = errors.New("lens: use of closed channel")
	// ErrIncompatibleMode occurs when reading from a write-only channel or vice versa.
	ErrIncompatibleMode = errors.New("lens: operation not permitted by channel mode")
	// ErrInvalidMode occurs when the open mode is not valid for the resource.
	ErrInvalidMode = errors.New("lens: invalid mode")
	// ErrUnsupportedMode occurs when the open mode is not supported on this platform.
	ErrUnsupportedMode = errors.New("lens: mode is not supported on this platform")
	// ErrNotBound occurs when calling Listen before Bind.
	ErrNotBound = errors.New("lens: listen called before bind")
	// ErrDatagramSocket occurs when calling a stream-only operation on a UDP socket.
	ErrDatagramSocket = errors.New("lens: operation not supported on datagram socket")
	// ErrNoRemote occurs when sending on a UDP socket without a remote endpoint.
	ErrNoRemote = errors.New("lens: remote endpoint is not set")
	// ErrConnectNotStarted occurs when calling ConnectFinish without a pending connect.
	ErrConnectNotStarted = errors.New("lens: connect was not started")
	// ErrUnsupportedOp occurs when calling some methods that are either not supported or have not been implemented yet.
	ErrUnsupportedOp = errors.New("lens: unsupported operation")
	// ErrNoAddress occurs when host resolution yields no usable address.
	ErrNoAddress = errors.New("lens: no suitable address found")
)

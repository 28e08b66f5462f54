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

//go:build linux || netbsd || openbsd
// +build linux netbsd openbsd

package file

import (
	"fmt"

	"github.com/panjf2000/lens/pkg/channel"
	errorx "github.com/panjf2000/lens/pkg/errors"
)

// The native pollers of these platforms cannot watch filesystem changes.
func eventsFlags() (int, error) {
	return 0, fmt.Errorf("%w: %d", errorx.ErrUnsupportedMode, channel.Events)
}

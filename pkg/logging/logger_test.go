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

package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFromEnv(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"", InfoLevel, false},
		{"-1", DebugLevel, false},
		{"2", ErrorLevel, false},
		{"5", FatalLevel, false},
		{"9", InfoLevel, true},
		{"debug", InfoLevel, true},
	}
	for _, tc := range tests {
		lvl, err := levelFromEnv(tc.in)
		if tc.wantErr {
			assert.Errorf(t, err, "input %q", tc.in)
			continue
		}
		require.NoErrorf(t, err, "input %q", tc.in)
		assert.EqualValuesf(t, tc.want, lvl, "input %q", tc.in)
	}
}

func TestCreateLoggerAsLocalFile(t *testing.T) {
	_, _, err := CreateLoggerAsLocalFile("", InfoLevel)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "lens.log")
	logger, flush, err := CreateLoggerAsLocalFile(path, InfoLevel)
	require.NoError(t, err)
	logger.Debugf("hidden %d", 1)
	logger.Infof("poller opened with %s backend", "poll")
	require.NoError(t, flush())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.True(t, strings.HasPrefix(out, logPrefix+" "), out)
	assert.Contains(t, out, "poller opened with poll backend")
	assert.NotContains(t, out, "hidden")
}

func TestDefaultLogger(t *testing.T) {
	assert.NotNil(t, GetDefaultLogger())
	assert.NotEmpty(t, LogLevel())
	Error(nil)
	NewNopLogger().Errorf("discarded %v", "message")
}

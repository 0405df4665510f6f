// Copyright 2024 The Cockroach Authors
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

package workload

import (
	"bytes"
	"testing"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("workload", &buf)
	l.Debugf("hidden %d", 1)
	l.Infof("shown %d", 2)
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "INFO  | workload        | shown 2")

	buf.Reset()
	l.SetLevel(logger.DEBUG)
	l.Debugf("now %s", "visible")
	require.Contains(t, buf.String(), "DEBUG | workload        | now visible")

	buf.Reset()
	l.SetLevel(logger.ERROR)
	l.Warningf("quiet")
	l.Errorf("loud")
	require.NotContains(t, buf.String(), "quiet")
	require.Contains(t, buf.String(), "ERROR | workload        | loud")
}

func TestParseLogLevel(t *testing.T) {
	testCases := []struct {
		s        string
		expected logger.LogLevel
	}{
		{"debug", logger.DEBUG},
		{"INFO", logger.INFO},
		{"warn", logger.WARNING},
		{"warning", logger.WARNING},
		{"error", logger.ERROR},
	}
	for _, c := range testCases {
		l, err := ParseLogLevel(c.s)
		require.NoError(t, err)
		require.Equal(t, c.expected, l)
	}
	_, err := ParseLogLevel("loud")
	require.ErrorContains(t, err, "invalid log level")
}

/*
 * Copyright 2025 Pipit Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package pipit

import (
	"fmt"
	"strconv"
	"time"
)

// Forever is the parsed form of an infinite duration.
const Forever time.Duration = 0

// ParseDuration parses the --duration literal: a Go duration ("10s", "1m"),
// bare seconds ("2", "0.5"), or infinity ("inf", "infinity").
func ParseDuration(s string) (time.Duration, error) {
	switch s {
	case "", "inf", "infinity":
		return Forever, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("pipit: duration must be positive, got %q", s)
		}
		return d, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("pipit: duration must be positive, got %q", s)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("pipit: malformed duration %q", s)
}

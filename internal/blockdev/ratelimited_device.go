// Copyright 2025 Google LLC
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

package blockdev

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Device and caps the rate of its sector operations
// (cmd/pintosfs's run applies it to the file-system device). One token is
// consumed per sector operation.
type RateLimited struct {
	Device
	limiter *rate.Limiter
}

// NewRateLimited caps sector operations at sectorsPerSecond, bursting up to
// burst operations. A nil or non-positive sectorsPerSecond disables
// limiting (the limiter is simply never consulted).
func NewRateLimited(d Device, sectorsPerSecond float64, burst int) *RateLimited {
	if sectorsPerSecond <= 0 {
		return &RateLimited{Device: d, limiter: nil}
	}
	return &RateLimited{Device: d, limiter: rate.NewLimiter(rate.Limit(sectorsPerSecond), burst)}
}

func (d *RateLimited) Read(sn SectorNum, buf []byte) error {
	if d.limiter != nil {
		if err := d.limiter.Wait(context.Background()); err != nil {
			return err
		}
	}
	return d.Device.Read(sn, buf)
}

func (d *RateLimited) Write(sn SectorNum, buf []byte) error {
	if d.limiter != nil {
		if err := d.limiter.Wait(context.Background()); err != nil {
			return err
		}
	}
	return d.Device.Write(sn, buf)
}

// Copyright The PagePool Authors. All Rights Reserved.
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

package pagepool

import (
	"fmt"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"

	cfgapi "github.com/containers/pagepool/pkg/apis/config/v1alpha1/pool"
)

const (
	// DefaultCleanPasses is the default number of batches a dynamic
	// pool's cleaner drains per wakeup.
	DefaultCleanPasses = 4
	// DefaultCleanBatch is the default number of runs zeroed per batch.
	DefaultCleanBatch = 32
)

var (
	cleanPasses atomic.Int32
	cleanBatch  atomic.Int32
)

func init() {
	cleanPasses.Store(DefaultCleanPasses)
	cleanBatch.Store(DefaultCleanBatch)
}

// Configure applies a runtime configuration update to the subsystem
// tunables. Invalid settings are collected and reported together; the
// valid ones still take effect.
func Configure(cfg *cfgapi.Config) error {
	if cfg == nil {
		return nil
	}

	log.Info("configuration update %+v", cfg)

	var errs *multierror.Error

	if cfg.MaxPoolPages != nil {
		if *cfg.MaxPoolPages < 0 {
			errs = multierror.Append(errs,
				fmt.Errorf("pagepool: invalid maxPoolPages %d", *cfg.MaxPoolPages))
		} else {
			SetMaxPoolPages(*cfg.MaxPoolPages)
		}
	}

	if cfg.CleanPasses != 0 {
		if cfg.CleanPasses < 0 {
			errs = multierror.Append(errs,
				fmt.Errorf("pagepool: invalid cleanPasses %d", cfg.CleanPasses))
		} else {
			cleanPasses.Store(int32(cfg.CleanPasses))
		}
	}

	if cfg.CleanBatch != 0 {
		if cfg.CleanBatch < 0 {
			errs = multierror.Append(errs,
				fmt.Errorf("pagepool: invalid cleanBatch %d", cfg.CleanBatch))
		} else {
			cleanBatch.Store(int32(cfg.CleanBatch))
		}
	}

	return errs.ErrorOrNil()
}

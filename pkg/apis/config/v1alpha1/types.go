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

package v1alpha1

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/containers/pagepool/pkg/apis/config/v1alpha1/instrumentation"
	logapi "github.com/containers/pagepool/pkg/apis/config/v1alpha1/log"
	"github.com/containers/pagepool/pkg/apis/config/v1alpha1/pool"
)

// Config is the top-level runtime configuration.
type Config struct {
	// Pool configures the page-pool subsystem.
	// +optional
	Pool pool.Config `json:"pool,omitempty"`
	// Instrumentation configures tracing, metrics and the HTTP endpoint.
	// +optional
	Instrumentation instrumentation.Config `json:"instrumentation,omitempty"`
	// Log configures logging.
	// +optional
	Log logapi.Config `json:"log,omitempty"`
}

// ReadConfigFile reads a configuration from the given YAML file.
func ReadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	return cfg, nil
}

// Duration is a time.Duration which (un)marshals as a duration string.
type Duration struct {
	time.Duration `json:"-"`
}

// MarshalJSON implements the json.Marshaler interface.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(str)
	if err != nil {
		return err
	}

	d.Duration = parsed
	return nil
}

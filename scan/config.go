// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

package scan

import (
	"fmt"
	"os"
	"runtime"

	"sigs.k8s.io/yaml"
)

// Config holds the scan node's tunables. Zero
// values are replaced with defaults by NewNode.
type Config struct {
	// Parallelism bounds the number of concurrently
	// active scanners.
	Parallelism int `json:"parallelism,omitempty"`
	// MaxMaterializedRowBatches bounds the
	// free-order batch queue.
	MaxMaterializedRowBatches int `json:"max_materialized_row_batches,omitempty"`
	// BatchCapacity is the row capacity of each
	// batch.
	BatchCapacity int `json:"batch_capacity,omitempty"`
	// IndexStride is the granule size used by the
	// segment write path.
	IndexStride uint32 `json:"index_stride,omitempty"`
	// DictionaryThreshold selects dictionary
	// string encoding on the write path.
	DictionaryThreshold float64 `json:"dictionary_threshold,omitempty"`
	// MaxScanKeyCount caps the fixed-value cross
	// product of the scan key builder.
	MaxScanKeyCount int `json:"max_scan_key_count,omitempty"`
}

// LoadConfig reads a YAML or JSON config file.
func LoadConfig(path string) (Config, error) {
	var c Config
	buf, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(buf, &c); err != nil {
		return c, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

func (c Config) withDefaults() Config {
	if c.Parallelism <= 0 {
		c.Parallelism = runtime.GOMAXPROCS(0)
	}
	if c.MaxMaterializedRowBatches <= 0 {
		c.MaxMaterializedRowBatches = defaultMaxBatches()
	}
	if c.BatchCapacity <= 0 {
		c.BatchCapacity = 1024
	}
	if c.IndexStride == 0 {
		c.IndexStride = 1024
	}
	if c.MaxScanKeyCount <= 0 {
		c.MaxScanKeyCount = DefaultMaxScanKeys
	}
	return c
}

// memTotal is the total usable DRAM. On Linux it
// is read from /proc/meminfo; elsewhere it stays
// zero and defaults fall back to a fixed queue
// depth.
var memTotal int64

func init() {
	if runtime.GOOS != "linux" {
		return
	}
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return
	}
	defer f.Close()
	for {
		n, err := fmt.Fscanf(f, "MemTotal: %d kB\n", &memTotal)
		if err != nil {
			return
		}
		if n > 0 {
			memTotal *= 1024
			return
		}
	}
}

func defaultMaxBatches() int {
	// roughly 1/64th of DRAM at the default batch
	// geometry, clamped to a sane window
	if memTotal <= 0 {
		return 128
	}
	n := int(memTotal / 64 / (1 << 20))
	if n < 16 {
		n = 16
	}
	if n > 1024 {
		n = 1024
	}
	return n
}

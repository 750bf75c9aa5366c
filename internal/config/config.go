// Package config loads watermark and buffer-pool tuning from YAML (§6
// Environment). These values are read once at boot; nothing in trunkrouter
// needs them to change without a restart, so there is no file watcher.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/trunkline/trunkrouter/internal/buffer"
	"github.com/trunkline/trunkrouter/internal/delivery"
	"github.com/trunkline/trunkrouter/internal/flowcontrol"
)

// Watermarks mirrors flowcontrol.Watermarks with YAML tags (§4.5).
type Watermarks struct {
	Q2Lower int `yaml:"q2_lower"`
	Q2Upper int `yaml:"q2_upper"`
	Q3Lower int `yaml:"q3_lower"`
	Q3Upper int `yaml:"q3_upper"`
}

func (w Watermarks) toFlowcontrol() flowcontrol.Watermarks {
	return flowcontrol.Watermarks{
		Q2Lower: w.Q2Lower,
		Q2Upper: w.Q2Upper,
		Q3Lower: w.Q3Lower,
		Q3Upper: w.Q3Upper,
	}
}

// BufferPool mirrors buffer.Tuning with YAML tags (§4.1).
type BufferPool struct {
	TransferBatchSize int `yaml:"transfer_batch_size"`
	LocalFreeListMax  int `yaml:"local_free_list_max"`
	GlobalFreeListMax int `yaml:"global_free_list_max"`
	RebalanceRateHz   int `yaml:"rebalance_rate_hz"`
}

func (b BufferPool) toBuffer() buffer.Tuning {
	return buffer.Tuning{
		TransferBatchSize: b.TransferBatchSize,
		LocalFreeListMax:  b.LocalFreeListMax,
		GlobalFreeListMax: b.GlobalFreeListMax,
		RebalanceRateHz:   b.RebalanceRateHz,
	}
}

// StuckThresholds mirrors delivery.StuckThresholds with YAML tags (§4.8).
type StuckThresholds struct {
	ZeroCreditTicks      uint64 `yaml:"zero_credit_ticks"`
	DelayedDeliveryTicks uint64 `yaml:"delayed_delivery_ticks"`
}

func (s StuckThresholds) toDelivery() delivery.StuckThresholds {
	return delivery.StuckThresholds{
		ZeroCreditTicks:      s.ZeroCreditTicks,
		DelayedDeliveryTicks: s.DelayedDeliveryTicks,
	}
}

// Config is trunkrouter's on-disk tuning surface. Everything else about a
// listener (address, TLS, virtual address) stays a flag or Config field in
// pkg/router, not YAML: flags identify the process, files tune it.
type Config struct {
	Watermarks      Watermarks      `yaml:"watermarks"`
	BufferPool      BufferPool      `yaml:"buffer_pool"`
	StuckThresholds StuckThresholds `yaml:"stuck_thresholds"`
}

// DefaultConfig returns the tuning defaults used when no file is loaded.
func DefaultConfig() *Config {
	w := flowcontrol.DefaultWatermarks()
	b := buffer.DefaultTuning()
	s := delivery.DefaultStuckThresholds()
	return &Config{
		Watermarks: Watermarks{
			Q2Lower: w.Q2Lower, Q2Upper: w.Q2Upper,
			Q3Lower: w.Q3Lower, Q3Upper: w.Q3Upper,
		},
		BufferPool: BufferPool{
			TransferBatchSize: b.TransferBatchSize,
			LocalFreeListMax:  b.LocalFreeListMax,
			GlobalFreeListMax: b.GlobalFreeListMax,
			RebalanceRateHz:   b.RebalanceRateHz,
		},
		StuckThresholds: StuckThresholds{
			ZeroCreditTicks:      s.ZeroCreditTicks,
			DelayedDeliveryTicks: s.DelayedDeliveryTicks,
		},
	}
}

// Load reads and parses a YAML tuning file, applying it on top of the
// defaults so a file overriding only one section leaves the rest intact.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects tuning values that would make flow control or buffer
// pooling nonsensical.
func (c *Config) Validate() error {
	if c.Watermarks.Q2Lower > c.Watermarks.Q2Upper {
		return fmt.Errorf("watermarks.q2_lower must not exceed q2_upper")
	}
	if c.Watermarks.Q3Lower > c.Watermarks.Q3Upper {
		return fmt.Errorf("watermarks.q3_lower must not exceed q3_upper")
	}
	if c.BufferPool.TransferBatchSize <= 0 {
		return fmt.Errorf("buffer_pool.transfer_batch_size must be positive")
	}
	if c.BufferPool.GlobalFreeListMax <= 0 {
		return fmt.Errorf("buffer_pool.global_free_list_max must be positive")
	}
	return nil
}

// Flowcontrol returns the loaded watermarks as flowcontrol.Watermarks.
func (c *Config) Flowcontrol() flowcontrol.Watermarks { return c.Watermarks.toFlowcontrol() }

// Buffer returns the loaded buffer-pool tuning as buffer.Tuning.
func (c *Config) Buffer() buffer.Tuning { return c.BufferPool.toBuffer() }

// Delivery returns the loaded stuck thresholds as delivery.StuckThresholds.
func (c *Config) Delivery() delivery.StuckThresholds { return c.StuckThresholds.toDelivery() }

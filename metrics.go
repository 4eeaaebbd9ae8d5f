package readstore

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/readstore/model"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordAppend is called after each append.
	// class is the density class chosen for the fragment.
	RecordAppend(class model.Class, duration time.Duration, err error)

	// RecordGet is called after each fragment read.
	RecordGet(duration time.Duration, err error)

	// RecordSet is called after each in-place record update.
	RecordSet(duration time.Duration, err error)

	// RecordDelete is called after each delete.
	RecordDelete(duration time.Duration, err error)

	// RecordRangeUpdate is called after each clear-range write.
	RecordRangeUpdate(kind model.Kind, err error)

	// RecordPartitionBuild is called once per partition build.
	// fragments is the number of fragments copied into partitions.
	RecordPartitionBuild(partitions, fragments int, duration time.Duration, err error)

	// RecordMapGrowth is called when the UID map grows to a new capacity.
	RecordMapGrowth(capacity int)

	// RecordTransfer is called once per partition publish or fetch with the
	// number of file bytes moved.
	RecordTransfer(op string, bytes int64, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAppend(model.Class, time.Duration, error)      {}
func (NoopMetricsCollector) RecordGet(time.Duration, error)                      {}
func (NoopMetricsCollector) RecordSet(time.Duration, error)                      {}
func (NoopMetricsCollector) RecordDelete(time.Duration, error)                   {}
func (NoopMetricsCollector) RecordRangeUpdate(model.Kind, error)                 {}
func (NoopMetricsCollector) RecordPartitionBuild(int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordMapGrowth(int)                                 {}
func (NoopMetricsCollector) RecordTransfer(string, int64, time.Duration, error)  {}

// BasicMetricsCollector provides simple in-memory metrics collection.
type BasicMetricsCollector struct {
	AppendCount      atomic.Int64
	AppendErrors     atomic.Int64
	AppendTotalNanos atomic.Int64
	PackedAppends    atomic.Int64
	NormalAppends    atomic.Int64
	StrobeAppends    atomic.Int64
	GetCount         atomic.Int64
	GetErrors        atomic.Int64
	GetTotalNanos    atomic.Int64
	SetCount         atomic.Int64
	SetErrors        atomic.Int64
	DeleteCount      atomic.Int64
	DeleteErrors     atomic.Int64
	RangeUpdates     atomic.Int64
	RangeErrors      atomic.Int64
	PartitionBuilds  atomic.Int64
	PartitionErrors  atomic.Int64
	PartitionCopied  atomic.Int64
	MapGrowths       atomic.Int64
	MapCapacity      atomic.Int64
	Transfers        atomic.Int64
	TransferErrors   atomic.Int64
	TransferBytes    atomic.Int64
}

// RecordAppend implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAppend(class model.Class, duration time.Duration, err error) {
	b.AppendCount.Add(1)
	b.AppendTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.AppendErrors.Add(1)
		return
	}
	switch class {
	case model.ClassPacked:
		b.PackedAppends.Add(1)
	case model.ClassNormal:
		b.NormalAppends.Add(1)
	case model.ClassStrobe:
		b.StrobeAppends.Add(1)
	}
}

// RecordGet implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGet(duration time.Duration, err error) {
	b.GetCount.Add(1)
	b.GetTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.GetErrors.Add(1)
	}
}

// RecordSet implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSet(_ time.Duration, err error) {
	b.SetCount.Add(1)
	if err != nil {
		b.SetErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(_ time.Duration, err error) {
	b.DeleteCount.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordRangeUpdate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRangeUpdate(_ model.Kind, err error) {
	b.RangeUpdates.Add(1)
	if err != nil {
		b.RangeErrors.Add(1)
	}
}

// RecordPartitionBuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPartitionBuild(_ int, fragments int, _ time.Duration, err error) {
	b.PartitionBuilds.Add(1)
	if err != nil {
		b.PartitionErrors.Add(1)
		return
	}
	b.PartitionCopied.Add(int64(fragments))
}

// RecordMapGrowth implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMapGrowth(capacity int) {
	b.MapGrowths.Add(1)
	b.MapCapacity.Store(int64(capacity))
}

// RecordTransfer implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTransfer(_ string, bytes int64, _ time.Duration, err error) {
	b.Transfers.Add(1)
	b.TransferBytes.Add(bytes)
	if err != nil {
		b.TransferErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		AppendCount:     b.AppendCount.Load(),
		AppendErrors:    b.AppendErrors.Load(),
		AppendAvgNanos:  avg(b.AppendTotalNanos.Load(), b.AppendCount.Load()),
		PackedAppends:   b.PackedAppends.Load(),
		NormalAppends:   b.NormalAppends.Load(),
		StrobeAppends:   b.StrobeAppends.Load(),
		GetCount:        b.GetCount.Load(),
		GetErrors:       b.GetErrors.Load(),
		GetAvgNanos:     avg(b.GetTotalNanos.Load(), b.GetCount.Load()),
		SetCount:        b.SetCount.Load(),
		SetErrors:       b.SetErrors.Load(),
		DeleteCount:     b.DeleteCount.Load(),
		DeleteErrors:    b.DeleteErrors.Load(),
		RangeUpdates:    b.RangeUpdates.Load(),
		RangeErrors:     b.RangeErrors.Load(),
		PartitionBuilds: b.PartitionBuilds.Load(),
		PartitionErrors: b.PartitionErrors.Load(),
		PartitionCopied: b.PartitionCopied.Load(),
		MapGrowths:      b.MapGrowths.Load(),
		MapCapacity:     b.MapCapacity.Load(),
		Transfers:       b.Transfers.Load(),
		TransferErrors:  b.TransferErrors.Load(),
		TransferBytes:   b.TransferBytes.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	AppendCount     int64
	AppendErrors    int64
	AppendAvgNanos  int64
	PackedAppends   int64
	NormalAppends   int64
	StrobeAppends   int64
	GetCount        int64
	GetErrors       int64
	GetAvgNanos     int64
	SetCount        int64
	SetErrors       int64
	DeleteCount     int64
	DeleteErrors    int64
	RangeUpdates    int64
	RangeErrors     int64
	PartitionBuilds int64
	PartitionErrors int64
	PartitionCopied int64
	MapGrowths      int64
	MapCapacity     int64
	Transfers       int64
	TransferErrors  int64
	TransferBytes   int64
}

// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

package registry

import (
	"testing"

	"github.com/nessorch/orchestrator/internal/pkg/errors"
	"github.com/nessorch/orchestrator/internal/pkg/logger"
	"github.com/nessorch/orchestrator/internal/scanner"
	fakescanner "github.com/nessorch/orchestrator/internal/scanner/fake"
)

func fakeFactory(ic InstanceConfig) scanner.Backend {
	return fakescanner.New()
}

func TestSelectLeastLoaded(t *testing.T) {
	r := New(fakeFactory, logger.NewNoop())
	err := r.Load([]PoolConfig{
		{
			Name:          "default",
			MaxConcurrent: 10,
			Instances: []InstanceConfig{
				{ID: "a", Pool: "default", Enabled: true, MaxConcurrent: 2},
				{ID: "b", Pool: "default", Enabled: true, MaxConcurrent: 2},
			},
		},
	})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	inst, err := r.Select("default", "")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if !inst.Reserve() {
		t.Fatal("expected reservation to succeed")
	}

	inst2, err := r.Select("default", "")
	if err != nil {
		t.Fatalf("second select failed: %v", err)
	}
	if inst2.ID == inst.ID {
		t.Errorf("expected least-loaded selection to pick the other instance, got %s twice", inst.ID)
	}
}

func TestSelectSaturatedPool(t *testing.T) {
	r := New(fakeFactory, logger.NewNoop())
	r.Load([]PoolConfig{
		{Name: "p", Instances: []InstanceConfig{{ID: "a", Pool: "p", Enabled: true, MaxConcurrent: 1}}},
	})

	inst, err := r.Select("p", "")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if !inst.Reserve() {
		t.Fatal("expected reservation")
	}

	_, err = r.Select("p", "")
	if err != errors.ErrPoolSaturated {
		t.Errorf("expected ErrPoolSaturated, got %v", err)
	}

	inst.Release()
	if _, err = r.Select("p", ""); err != nil {
		t.Errorf("expected select to succeed after release, got %v", err)
	}
}

func TestReservePreservedAcrossReload(t *testing.T) {
	r := New(fakeFactory, logger.NewNoop())
	pools := []PoolConfig{
		{Name: "p", Instances: []InstanceConfig{{ID: "a", Pool: "p", Enabled: true, MaxConcurrent: 2}}},
	}
	r.Load(pools)
	inst, _ := r.Select("p", "")
	inst.Reserve()

	r.Load(pools)
	snaps, err := r.SnapshotPool("p")
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if len(snaps) != 1 || snaps[0].ActiveScans != 1 {
		t.Errorf("expected active scan count to survive reload, got %+v", snaps)
	}
}

func TestSelectPoolNotFound(t *testing.T) {
	r := New(fakeFactory, logger.NewNoop())
	r.Load(nil)
	if _, err := r.Select("missing", ""); err != errors.ErrPoolNotFound {
		t.Errorf("expected ErrPoolNotFound, got %v", err)
	}
}

func TestSelectInstancePin(t *testing.T) {
	r := New(fakeFactory, logger.NewNoop())
	r.Load([]PoolConfig{
		{Name: "p", Instances: []InstanceConfig{
			{ID: "a", Pool: "p", Enabled: true, MaxConcurrent: 2},
			{ID: "b", Pool: "p", Enabled: true, MaxConcurrent: 2},
		}},
	})

	inst, err := r.Select("p", "b")
	if err != nil {
		t.Fatalf("pinned select failed: %v", err)
	}
	if inst.ID != "b" {
		t.Errorf("expected pinned instance b, got %s", inst.ID)
	}

	if _, err := r.Select("p", "missing"); err != errors.ErrInstanceNotFound {
		t.Errorf("expected ErrInstanceNotFound, got %v", err)
	}
}

func TestSelectExcludesDisabledInstances(t *testing.T) {
	r := New(fakeFactory, logger.NewNoop())
	r.Load([]PoolConfig{
		{Name: "p", Instances: []InstanceConfig{
			{ID: "a", Pool: "p", Enabled: false, MaxConcurrent: 2},
			{ID: "b", Pool: "p", Enabled: true, MaxConcurrent: 2},
		}},
	})

	inst, err := r.Select("p", "")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if inst.ID != "b" {
		t.Errorf("expected disabled instance a to be skipped, got %s", inst.ID)
	}

	if _, err := r.Select("p", "a"); err != errors.ErrInstanceNotFound {
		t.Errorf("expected pinning a disabled instance to be ErrInstanceNotFound, got %v", err)
	}
}

package health

import (
	"context"
	"errors"
	"testing"
)

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(_ context.Context) error { return m.err }

type mockEmbeddingChecker struct {
	err error
}

func (m *mockEmbeddingChecker) HealthCheck(_ context.Context) error { return m.err }

func TestCheckAllHealthy(t *testing.T) {
	svc := New(&mockPinger{}, &mockEmbeddingChecker{}, &mockPinger{})
	r := svc.Check(context.Background())

	if r.Status != Healthy {
		t.Errorf("status = %q, want %q", r.Status, Healthy)
	}
	for _, component := range []string{"database", "embedding", "cache"} {
		if r.Checks[component] != CheckOK {
			t.Errorf("%s = %q, want %q", component, r.Checks[component], CheckOK)
		}
	}
}

func TestCheckDatabaseDown(t *testing.T) {
	svc := New(&mockPinger{err: errors.New("connection refused")}, &mockEmbeddingChecker{}, nil)
	r := svc.Check(context.Background())

	if r.Status != Degraded {
		t.Errorf("status = %q, want %q", r.Status, Degraded)
	}
	if r.Checks["database"] != CheckError {
		t.Errorf("database = %q, want %q", r.Checks["database"], CheckError)
	}
	if r.Checks["embedding"] != CheckOK {
		t.Errorf("embedding = %q, want %q", r.Checks["embedding"], CheckOK)
	}
}

func TestCheckOptionalComponentsSkipped(t *testing.T) {
	svc := New(&mockPinger{}, nil, nil)
	r := svc.Check(context.Background())

	if r.Status != Healthy {
		t.Errorf("status = %q, want %q", r.Status, Healthy)
	}
	if _, ok := r.Checks["embedding"]; ok {
		t.Error("embedding check present without a checker")
	}
	if _, ok := r.Checks["cache"]; ok {
		t.Error("cache check present without a cache")
	}
}

func TestCheckCacheDownDegrades(t *testing.T) {
	svc := New(&mockPinger{}, &mockEmbeddingChecker{}, &mockPinger{err: errors.New("timeout")})
	r := svc.Check(context.Background())

	if r.Status != Degraded {
		t.Errorf("status = %q, want %q", r.Status, Degraded)
	}
	if r.Checks["cache"] != CheckError {
		t.Errorf("cache = %q, want %q", r.Checks["cache"], CheckError)
	}
}

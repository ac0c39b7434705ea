package system

import (
	"context"
	"errors"
	"testing"

	core "github.com/olavhq/olav/internal/core"
)

type mockService struct {
	name       string
	startCount int
	stopCount  int
	startErr   error
	stopErr    error
	descriptor *core.Descriptor
}

func (m *mockService) Name() string { return m.name }

func (m *mockService) Start(context.Context) error {
	m.startCount++
	return m.startErr
}

func (m *mockService) Stop(context.Context) error {
	m.stopCount++
	return m.stopErr
}

func (m *mockService) Descriptor() core.Descriptor {
	if m.descriptor != nil {
		return *m.descriptor
	}
	return core.Descriptor{Name: m.name}
}

// plainService implements Service but not DescriptorProvider.
type plainService struct{ name string }

func (p *plainService) Name() string                { return p.name }
func (p *plainService) Start(context.Context) error { return nil }
func (p *plainService) Stop(context.Context) error  { return nil }

func TestManager_StartStopOrder(t *testing.T) {
	a := &mockService{name: "a"}
	b := &mockService{name: "b"}
	c := &mockService{name: "c"}
	mgr := NewManager(a, b, c)

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("start manager: %v", err)
	}
	if err := mgr.Stop(context.Background()); err != nil {
		t.Fatalf("stop manager: %v", err)
	}

	for _, svc := range []*mockService{a, b, c} {
		if svc.startCount != 1 {
			t.Fatalf("service %s expected start once, got %d", svc.name, svc.startCount)
		}
		if svc.stopCount != 1 {
			t.Fatalf("service %s expected stop once, got %d", svc.name, svc.stopCount)
		}
	}
}

func TestManager_RollbackOnStartFailure(t *testing.T) {
	good := &mockService{name: "good"}
	bad := &mockService{name: "bad", startErr: errors.New("boom")}
	never := &mockService{name: "never"}
	mgr := NewManager(good, bad, never)

	if err := mgr.Start(context.Background()); err == nil {
		t.Fatal("expected start error")
	}

	if good.stopCount != 1 {
		t.Fatalf("expected the already-started service to be stopped after failure, got %d", good.stopCount)
	}
	if never.startCount != 0 {
		t.Fatal("expected a service after the failing one to never start")
	}
}

func TestManager_StopContinuesPastFailureAndReturnsFirstError(t *testing.T) {
	a := &mockService{name: "a", stopErr: errors.New("a failed to stop")}
	b := &mockService{name: "b"}
	mgr := NewManager(a, b)

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("start manager: %v", err)
	}
	err := mgr.Stop(context.Background())
	if err == nil {
		t.Fatal("expected stop to report the failing service's error")
	}
	if b.stopCount != 1 {
		t.Fatal("expected the service after the failing one to still be stopped")
	}
}

func TestManager_DescriptorsSortedByLayerThenName(t *testing.T) {
	a := &mockService{name: "zzz", descriptor: &core.Descriptor{Name: "zzz", Layer: core.LayerFleet}}
	b := &mockService{name: "aaa", descriptor: &core.Descriptor{Name: "aaa", Layer: core.LayerFleet}}
	noDescriptor := &plainService{name: "plain"}
	mgr := NewManager(a, b, noDescriptor)

	got := mgr.Descriptors()
	if len(got) != 2 {
		t.Fatalf("expected 2 descriptors (the non-provider service skipped), got %d", len(got))
	}
	if got[0].Name != "aaa" || got[1].Name != "zzz" {
		t.Fatalf("expected descriptors sorted by name within layer, got %+v", got)
	}
}

package system

import (
	"testing"

	core "github.com/olavhq/olav/internal/core"
)

type mockProvider struct{ desc core.Descriptor }

func (m mockProvider) Descriptor() core.Descriptor { return m.desc }

func TestCollectDescriptors(t *testing.T) {
	providers := []DescriptorProvider{
		mockProvider{desc: core.Descriptor{Name: "inspection", Layer: core.LayerInspection}},
		mockProvider{desc: core.Descriptor{Name: "capability", Layer: core.LayerCapability}},
		mockProvider{desc: core.Descriptor{Name: "fleet", Layer: core.LayerFleet}},
		nil,
	}

	descr := CollectDescriptors(providers)

	if len(descr) != 3 {
		t.Fatalf("expected 3 descriptors, got %d", len(descr))
	}
	if descr[0].Name != "capability" || descr[1].Name != "fleet" || descr[2].Name != "inspection" {
		t.Fatalf("unexpected order: %#v", descr)
	}
}

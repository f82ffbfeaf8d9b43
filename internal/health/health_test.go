package health

import (
	"context"
	"testing"

	"github.com/hugr-lab/go-mssql-core/catalog"
)

func TestCheck_NoContextsIsHealthy(t *testing.T) {
	checker := NewChecker("instance-1", &catalog.Manager{}, nil)
	report := checker.Check(context.Background())
	if report.Status != StatusHealthy {
		t.Errorf("got status %q, want %q", report.Status, StatusHealthy)
	}
	if len(report.Components) != 0 {
		t.Errorf("got %d components, want 0", len(report.Components))
	}
	if report.InstanceID != "instance-1" {
		t.Errorf("got InstanceID %q, want instance-1", report.InstanceID)
	}
}

func TestCheck_UnattachedContextIsUnhealthy(t *testing.T) {
	checker := NewChecker("instance-1", &catalog.Manager{}, []string{"warehouse"})
	report := checker.Check(context.Background())
	if report.Status != StatusUnhealthy {
		t.Errorf("got status %q, want %q", report.Status, StatusUnhealthy)
	}
	if len(report.Components) != 1 {
		t.Fatalf("got %d components, want 1", len(report.Components))
	}
	comp := report.Components[0]
	if comp.Name != "warehouse" || comp.Status != StatusUnhealthy {
		t.Errorf("got %+v, want unhealthy warehouse", comp)
	}
}

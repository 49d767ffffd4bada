package metrics

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestDashboardTemplateIsValidJSON(t *testing.T) {
	if !json.Valid([]byte(dashboardTemplate)) {
		t.Fatal("embedded dashboard template is not valid JSON")
	}
}

func TestRenderDashboardSubstitutes(t *testing.T) {
	body, err := renderDashboard("SerumFlowStaging", "ap-south-1")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(body, `"SerumFlow"`) || strings.Contains(body, `"us-east-1"`) {
		t.Fatalf("placeholders left in dashboard: %s", body)
	}
	if !strings.Contains(body, `"SerumFlowStaging"`) || !strings.Contains(body, `"ap-south-1"`) {
		t.Fatalf("substitutions missing: %s", body)
	}
}

func TestCreateDashboardWithoutClient(t *testing.T) {
	if err := CreateDashboardFromTemplate(context.Background(), "SerumFlow"); err != nil {
		t.Fatalf("expected no-op without client, got %v", err)
	}
}

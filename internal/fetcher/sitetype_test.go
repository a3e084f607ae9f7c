package fetcher

import (
	"testing"

	"campwatch/internal/model"
)

func TestInferSiteType(t *testing.T) {
	tests := []struct {
		fields []string
		want   model.SiteType
	}{
		{[]string{"STANDARD NONELECTRIC"}, model.SiteTent},
		{[]string{"Tent Only"}, model.SiteTent},
		{[]string{"STANDARD ELECTRIC"}, model.SiteRV},
		{[]string{"Standard", "RV", "Trailer"}, model.SiteRV},
		{[]string{"Yurt"}, model.SiteCabin},
		{[]string{"Cabin with electric hookups"}, model.SiteCabin},
		{[]string{"GROUP STANDARD NONELECTRIC"}, model.SiteGroup},
		{[]string{"Driveway"}, model.SiteTent},
		{nil, model.SiteTent},
	}
	for _, tt := range tests {
		if got := InferSiteType(tt.fields...); got != tt.want {
			t.Errorf("InferSiteType(%q) = %s, want %s", tt.fields, got, tt.want)
		}
	}
}

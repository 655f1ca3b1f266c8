package village

import "testing"

func TestResidentsEqualsSum(t *testing.T) {
	cases := []Demographics{
		{},
		{Children: 1},
		{Children: 120, Mature: 850, Old: 230},
		{Children: 0, Mature: 0, Old: 7},
	}
	for _, d := range cases {
		if got, want := d.Residents(), d.Children+d.Mature+d.Old; got != want {
			t.Errorf("Residents() = %d, want %d for %+v", got, want, d)
		}
	}
}

func TestResidentsIncrementalUpdateLaw(t *testing.T) {
	d := Demographics{Children: 10, Mature: 20, Old: 30}
	before := d.Residents()

	// 修改单个分段后，总数等于旧总数减旧值加新值。
	old := d.Children
	d.Children = 25
	if got, want := d.Residents(), before-old+d.Children; got != want {
		t.Fatalf("incremental law violated: got %d want %d", got, want)
	}
	// 重复推导不改变结果。
	if d.Residents() != d.Residents() {
		t.Fatal("derivation is not idempotent")
	}
}

func TestDemographicsValid(t *testing.T) {
	if !(Demographics{Children: 0, Mature: 0, Old: 0}).Valid() {
		t.Error("zero counts should be valid")
	}
	if (Demographics{Children: -1}).Valid() {
		t.Error("negative count should be invalid")
	}
}

func TestResolveImageAction(t *testing.T) {
	tests := []struct {
		name    string
		hasFile bool
		field   string
		want    ImageAction
	}{
		{"file wins", true, "null", ImageReplace},
		{"sentinel removes", false, "null", ImageRemove},
		{"empty keeps", false, "", ImageKeep},
		{"url keeps", false, "http://assets/village-profile/x.png", ImageKeep},
	}
	for _, tt := range tests {
		if got := ResolveImageAction(tt.hasFile, tt.field); got != tt.want {
			t.Errorf("%s: ResolveImageAction(%v, %q) = %v, want %v", tt.name, tt.hasFile, tt.field, got, tt.want)
		}
	}
}

func TestImageTypeAllowed(t *testing.T) {
	for _, ct := range AllowedImageTypes {
		if !ImageTypeAllowed(ct) {
			t.Errorf("%s should be allowed", ct)
		}
	}
	for _, ct := range []string{"image/gif", "application/pdf", ""} {
		if ImageTypeAllowed(ct) {
			t.Errorf("%s should be rejected", ct)
		}
	}
}

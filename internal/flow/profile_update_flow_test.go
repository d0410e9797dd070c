package flow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/NutriNest/internal/models"
)

type savedProfiles struct {
	calls []*models.BabyProfile
}

func (s *savedProfiles) save(ctx context.Context, phone string, p *models.BabyProfile) error {
	s.calls = append(s.calls, p.Clone())
	return nil
}

func newTestUpdateFlow() (*ProfileUpdateFlow, *savedProfiles) {
	saved := &savedProfiles{}
	return NewProfileUpdateFlow(NewMockStateManager(), saved.save, fixedClock(2024, time.July, 14)), saved
}

func TestProfileUpdateFlow_FullSession(t *testing.T) {
	ctx := context.Background()
	f, saved := newTestUpdateFlow()
	phone := "+15550001"

	reply, err := f.Start(ctx, phone, fiveMonthOld())
	if err != nil || reply != UpdateStartedMessage {
		t.Fatalf("unexpected start reply %q err=%v", reply, err)
	}
	if active, _ := f.Active(ctx, phone); !active {
		t.Fatal("expected active session")
	}

	reply, cont, err := f.HandleInput(ctx, phone, "10")
	if err != nil || !cont || reply != "Enter current weight in kg (e.g. 7.5):" {
		t.Fatalf("unexpected field prompt %q cont=%v err=%v", reply, cont, err)
	}

	reply, cont, err = f.HandleInput(ctx, phone, "80")
	if err != nil || !cont {
		t.Fatalf("unexpected error %v", err)
	}
	if reply != "Weight should be between 0 and 50 kg\n\nEnter current weight in kg (e.g. 7.5):" {
		t.Errorf("unexpected validation reply %q", reply)
	}
	if len(saved.calls) != 0 {
		t.Error("invalid value must not save")
	}

	for _, bad := range []string{"nan", "Inf"} {
		reply, cont, err = f.HandleInput(ctx, phone, bad)
		if err != nil || !cont || reply != "Enter a number (e.g. 7.5)\n\nEnter current weight in kg (e.g. 7.5):" {
			t.Errorf("HandleInput(%q) = %q cont=%v err=%v, want re-prompt", bad, reply, cont, err)
		}
	}
	if len(saved.calls) != 0 {
		t.Error("non-finite value must not save")
	}

	reply, cont, err = f.HandleInput(ctx, phone, "7,5")
	if err != nil || !cont {
		t.Fatalf("unexpected error %v", err)
	}
	if !strings.HasPrefix(reply, "Updated. Update another? Reply 1-11 or 0 when done.\n\n") {
		t.Errorf("unexpected success reply %q", reply)
	}
	if len(saved.calls) != 1 || saved.calls[0].CurrentWeightKg == nil || *saved.calls[0].CurrentWeightKg != 7.5 {
		t.Fatalf("expected weight saved, got %+v", saved.calls)
	}

	// Foods are merged, never replaced.
	f.HandleInput(ctx, phone, "8")
	f.HandleInput(ctx, phone, "dal, Rice, carrot")
	last := saved.calls[len(saved.calls)-1]
	if strings.Join(last.FoodsIntroduced, ",") != "rice,dal,carrot" {
		t.Errorf("expected merged foods, got %v", last.FoodsIntroduced)
	}
	if last.CurrentWeightKg == nil || *last.CurrentWeightKg != 7.5 {
		t.Error("earlier edits must carry through the working copy")
	}

	reply, cont, err = f.HandleInput(ctx, phone, "0")
	if err != nil || cont || reply != UpdateDoneMessage {
		t.Errorf("unexpected exit %q cont=%v err=%v", reply, cont, err)
	}
	if active, _ := f.Active(ctx, phone); active {
		t.Error("session must end on 0")
	}
	reply, cont, _ = f.HandleInput(ctx, phone, "1")
	if reply != NoUpdateMessage || cont {
		t.Errorf("expected no-session reply, got %q", reply)
	}
}

func TestProfileUpdateFlow_UnknownChoiceAndSkip(t *testing.T) {
	ctx := context.Background()
	f, saved := newTestUpdateFlow()
	f.Start(ctx, "+1", fiveMonthOld())

	reply, cont, _ := f.HandleInput(ctx, "+1", "42")
	if reply != "Reply with a number 0-11.\n\n"+UpdateMenu || !cont {
		t.Errorf("unexpected reply %q", reply)
	}

	f.HandleInput(ctx, "+1", "1")
	reply, _, _ = f.HandleInput(ctx, "+1", "skip")
	if !strings.HasPrefix(reply, "Skipped. Update another?") {
		t.Errorf("expected skip acknowledgement, got %q", reply)
	}
	if len(saved.calls) != 1 {
		t.Errorf("skip still saves the working copy, got %d saves", len(saved.calls))
	}
}

func TestProfileUpdateFlow_CancelAndSurvivesNewInstance(t *testing.T) {
	ctx := context.Background()
	sm := NewMockStateManager()
	saved := &savedProfiles{}
	f := NewProfileUpdateFlow(sm, saved.save, nil)
	f.Start(ctx, "+1", fiveMonthOld())
	f.HandleInput(ctx, "+1", "1")

	// A second flow over the same state store continues the session.
	g := NewProfileUpdateFlow(sm, saved.save, nil)
	reply, _, err := g.HandleInput(ctx, "+1", "Meera")
	if err != nil || !strings.HasPrefix(reply, "Updated.") {
		t.Fatalf("expected session to resume, got %q err=%v", reply, err)
	}
	if saved.calls[0].Name != "Meera" {
		t.Errorf("expected name saved, got %q", saved.calls[0].Name)
	}

	if err := g.Cancel(ctx, "+1"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if active, _ := f.Active(ctx, "+1"); active {
		t.Error("expected no session after cancel")
	}
}

func TestApplyField(t *testing.T) {
	now := time.Date(2024, 7, 14, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		key     FieldKey
		value   string
		wantErr string
		check   func(p *models.BabyProfile) bool
	}{
		{FieldDOB, "2024-02-30", "Invalid date", nil},
		{FieldDOB, "15/02/2024", "Use YYYY-MM-DD (e.g. 2024-05-15)", nil},
		{FieldDOB, "2024-07-15", "Date cannot be in the future", nil},
		{FieldDOB, "2024-7-14", "", func(p *models.BabyProfile) bool { return p.DOB.Equal(now) }},
		{FieldGender, "Girl", "", func(p *models.BabyProfile) bool { return p.Gender == models.GenderFemale }},
		{FieldGender, "unknown", "Use: male, female, or other", nil},
		{FieldBirthWeight, "10", "Birth weight should be between 0 and 10 kg", nil},
		{FieldBirthWeight, "abc", "Enter a number (e.g. 2.8)", nil},
		{FieldBirthWeight, "2,8", "", func(p *models.BabyProfile) bool { return *p.BirthWeightKg == 2.8 }},
		{FieldFeeding, "BF", "", func(p *models.BabyProfile) bool { return p.FeedingType == models.FeedingBreastfed }},
		{FieldFeeding, "both", "", func(p *models.BabyProfile) bool { return p.FeedingType == models.FeedingMixed }},
		{FieldFeeding, "solids", "Use: breastfed, formula, or mixed", nil},
		{FieldPreferences, "eggs. Veg, veg non-veg", "", func(p *models.BabyProfile) bool {
			return len(p.Preferences) == 3 && p.Preferences[0] == models.PreferenceEgg && p.Preferences[2] == models.PreferenceNonVeg
		}},
		{FieldPreferences, "vegan", "Use: veg, egg, non_veg (comma-separated)", nil},
		{FieldAllergies, "None", "", func(p *models.BabyProfile) bool { return len(p.Allergies) == 0 }},
		{FieldAllergies, "egg, , milk", "", func(p *models.BabyProfile) bool { return len(p.Allergies) == 2 && p.Allergies[1] == "milk" }},
		{FieldHeight, "150", "Height should be between 0 and 150 cm", nil},
		{FieldHeight, "68", "", func(p *models.BabyProfile) bool { return *p.HeightCm == 68 }},
		{FieldWeight, "0", "Weight should be between 0 and 50 kg", nil},
		{FieldWeight, "NaN", "Enter a number (e.g. 7.5)", nil},
		{FieldWeight, "nan", "Enter a number (e.g. 7.5)", nil},
		{FieldHeight, "Inf", "Enter a number (e.g. 68)", nil},
		{FieldBirthWeight, "-inf", "Enter a number (e.g. 2.8)", nil},
		{FieldLocation, "Pune", "", func(p *models.BabyProfile) bool { return p.Location == "Pune" }},
		{FieldHeight, "—", "", func(p *models.BabyProfile) bool { return p.HeightCm == nil }},
	}
	for _, tt := range tests {
		p := fiveMonthOld()
		_, err := ApplyField(p, tt.key, tt.value, now)
		if tt.wantErr != "" {
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("ApplyField(%s, %q) error = %v, want %q", tt.key, tt.value, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Errorf("ApplyField(%s, %q) unexpected error %v", tt.key, tt.value, err)
			continue
		}
		if !tt.check(p) {
			t.Errorf("ApplyField(%s, %q) did not apply as expected: %+v", tt.key, tt.value, p)
		}
	}
}

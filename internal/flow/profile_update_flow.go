package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/NutriNest/internal/models"
)

// UpdateMenu lists the editable fields by number.
const UpdateMenu = "Reply with a number:\n" +
	"1. Baby name\n" +
	"2. Date of birth\n" +
	"3. Gender\n" +
	"4. Birth weight (kg)\n" +
	"5. Feeding type\n" +
	"6. Diet preferences\n" +
	"7. Allergies\n" +
	"8. Foods introduced\n" +
	"9. Location\n" +
	"10. Current weight (kg)\n" +
	"11. Height (cm)\n" +
	"0. Done"

// Replies of the update flow.
const (
	UpdateStartedMessage  = "Update profile.\n\n" + UpdateMenu
	UpdateDoneMessage     = "Profile updated. Send PROFILE to view."
	NoUpdateMessage       = "No update in progress. Send UPDATE to start."
	updateUnknownChoice   = "Reply with a number 0-11.\n\n" + UpdateMenu
	updateAnotherTemplate = "%s. Update another? Reply 1-11 or 0 when done.\n\n" + UpdateMenu
)

var menuFields = map[string]FieldKey{
	"1":  FieldBabyName,
	"2":  FieldDOB,
	"3":  FieldGender,
	"4":  FieldBirthWeight,
	"5":  FieldFeeding,
	"6":  FieldPreferences,
	"7":  FieldAllergies,
	"8":  FieldFoods,
	"9":  FieldLocation,
	"10": FieldWeight,
	"11": FieldHeight,
}

// SaveFunc persists a profile for a phone.
type SaveFunc func(ctx context.Context, phone string, p *models.BabyProfile) error

// ProfileUpdateFlow is the numbered-menu profile editor. Session state lives
// in the StateManager so it survives restarts.
type ProfileUpdateFlow struct {
	state StateManager
	save  SaveFunc
	now   Clock
}

// NewProfileUpdateFlow creates the flow. save is called after every accepted value.
func NewProfileUpdateFlow(state StateManager, save SaveFunc, now Clock) *ProfileUpdateFlow {
	if now == nil {
		now = time.Now
	}
	return &ProfileUpdateFlow{state: state, save: save, now: now}
}

// Active reports whether phone has an update session.
func (f *ProfileUpdateFlow) Active(ctx context.Context, phone string) (bool, error) {
	st, err := f.state.GetCurrentState(ctx, phone, models.FlowTypeProfileUpdate)
	if err != nil {
		return false, err
	}
	return st != "", nil
}

// Start opens a session on a working copy of p and returns the menu.
func (f *ProfileUpdateFlow) Start(ctx context.Context, phone string, p *models.BabyProfile) (string, error) {
	if err := f.state.ResetState(ctx, phone, models.FlowTypeProfileUpdate); err != nil {
		return "", err
	}
	if err := f.storeWorking(ctx, phone, p); err != nil {
		return "", err
	}
	if err := f.state.SetCurrentState(ctx, phone, models.FlowTypeProfileUpdate, models.StateMenu); err != nil {
		return "", err
	}
	slog.Debug("ProfileUpdateFlow.Start: session opened", "phone", phone)
	return UpdateStartedMessage, nil
}

// Cancel ends the session without saving anything further.
func (f *ProfileUpdateFlow) Cancel(ctx context.Context, phone string) error {
	return f.state.ResetState(ctx, phone, models.FlowTypeProfileUpdate)
}

// HandleInput advances the session with one message. It returns the reply
// and whether the session is still open.
func (f *ProfileUpdateFlow) HandleInput(ctx context.Context, phone, text string) (string, bool, error) {
	step, err := f.state.GetCurrentState(ctx, phone, models.FlowTypeProfileUpdate)
	if err != nil {
		return "", false, err
	}
	if step == "" {
		return NoUpdateMessage, false, nil
	}

	if step == models.StateAwaiting {
		key, err := f.state.GetStateData(ctx, phone, models.FlowTypeProfileUpdate, models.DataKeyFieldKey)
		if err != nil {
			return "", false, err
		}
		if key != "" {
			return f.applyValue(ctx, phone, FieldKey(key), text)
		}
	}

	choice := strings.TrimSpace(text)
	if choice == "0" {
		if err := f.Cancel(ctx, phone); err != nil {
			return "", false, err
		}
		return UpdateDoneMessage, false, nil
	}
	key, ok := menuFields[choice]
	if !ok {
		return updateUnknownChoice, true, nil
	}
	if err := f.state.SetStateData(ctx, phone, models.FlowTypeProfileUpdate, models.DataKeyFieldKey, string(key)); err != nil {
		return "", false, err
	}
	if err := f.state.SetCurrentState(ctx, phone, models.FlowTypeProfileUpdate, models.StateAwaiting); err != nil {
		return "", false, err
	}
	return FieldPrompt(key), true, nil
}

func (f *ProfileUpdateFlow) applyValue(ctx context.Context, phone string, key FieldKey, text string) (string, bool, error) {
	working, err := f.loadWorking(ctx, phone)
	if err != nil {
		return "", false, err
	}
	msg, err := ApplyField(working, key, text, f.now())
	var fe *FieldError
	if errors.As(err, &fe) {
		return fe.Message + "\n\n" + FieldPrompt(key), true, nil
	}
	if err != nil {
		return "", false, err
	}

	if f.save != nil {
		if err := f.save(ctx, phone, working); err != nil {
			slog.Error("ProfileUpdateFlow.applyValue: save failed", "phone", phone, "field", key, "error", err)
			return "", false, err
		}
	}
	if err := f.storeWorking(ctx, phone, working); err != nil {
		return "", false, err
	}
	if err := f.state.SetStateData(ctx, phone, models.FlowTypeProfileUpdate, models.DataKeyFieldKey, ""); err != nil {
		return "", false, err
	}
	if err := f.state.TransitionState(ctx, phone, models.FlowTypeProfileUpdate, models.StateAwaiting, models.StateMenu); err != nil {
		return "", false, err
	}
	slog.Info("ProfileUpdateFlow.applyValue: field applied", "phone", phone, "field", key, "result", msg)
	return fmt.Sprintf(updateAnotherTemplate, msg), true, nil
}

func (f *ProfileUpdateFlow) loadWorking(ctx context.Context, phone string) (*models.BabyProfile, error) {
	raw, err := f.state.GetStateData(ctx, phone, models.FlowTypeProfileUpdate, models.DataKeyWorkingProfile)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, fmt.Errorf("update session for %s has no working profile", phone)
	}
	var p models.BabyProfile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("failed to decode working profile: %w", err)
	}
	return &p, nil
}

func (f *ProfileUpdateFlow) storeWorking(ctx context.Context, phone string, p *models.BabyProfile) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode working profile: %w", err)
	}
	return f.state.SetStateData(ctx, phone, models.FlowTypeProfileUpdate, models.DataKeyWorkingProfile, string(b))
}

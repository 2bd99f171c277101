package settings

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cjeanneret/JogGo/internal/logic/encoder"
)

func TestNewStore_Defaults(t *testing.T) {
	s := NewStore(2)
	for slot := 0; slot < 2; slot++ {
		want := map[int]float64{
			FieldMode:              0,
			FieldCPR:               400,
			FieldCPD:               4,
			FieldDoubleClickWindow: 500,
		}
		for field, v := range want {
			got, err := s.Get(ID(slot, field))
			if err != nil || got != v {
				t.Errorf("slot %d field %d = %v, %v; want %v", slot, field, got, err, v)
			}
		}
	}
}

func TestSet_Valid(t *testing.T) {
	cases := []struct {
		name  string
		id    int
		value float64
	}{
		{"mode_mpg_x", 400, float64(encoder.MPGX)},
		{"mode_max_input", 400, float64(encoder.MPGC)},
		{"cpr", 401, 1024},
		{"cpd", 402, 2},
		{"window_min", 403, 100},
		{"window_max", 403, 900},
		{"second_slot", 413, 250},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewStore(2)
			if err := s.Set(tc.id, tc.value); err != nil {
				t.Fatalf("Set: %v", err)
			}
			got, _ := s.Get(tc.id)
			if got != tc.value {
				t.Errorf("Get = %v, want %v", got, tc.value)
			}
		})
	}
}

func TestSet_InvalidKeepsPriorValue(t *testing.T) {
	cases := []struct {
		name  string
		id    int
		value float64
	}{
		{"window_below_range", 403, 50},
		{"window_above_range", 403, 901},
		{"window_fractional", 403, 150.5},
		{"window_nan", 403, math.NaN()},
		{"mode_output_only", 400, float64(encoder.SpindlePosition)},
		{"mode_negative", 400, -1},
		{"cpr_zero", 401, 0},
		{"cpd_zero", 402, 0},
		{"cpr_infinite", 401, math.Inf(1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewStore(1)
			before, _ := s.Get(tc.id)
			err := s.Set(tc.id, tc.value)
			if !errors.Is(err, encoder.ErrInvalidConfiguration) {
				t.Fatalf("err = %v, want ErrInvalidConfiguration", err)
			}
			after, _ := s.Get(tc.id)
			if after != before {
				t.Errorf("value changed from %v to %v", before, after)
			}
		})
	}
}

func TestSet_Unhandled(t *testing.T) {
	s := NewStore(2)
	for _, id := range []int{399, 404, 409, 420, 0} {
		if err := s.Set(id, 1); !errors.Is(err, ErrUnhandled) {
			t.Errorf("Set($%d) err = %v, want ErrUnhandled", id, err)
		}
		if _, err := s.Get(id); !errors.Is(err, ErrUnhandled) {
			t.Errorf("Get($%d) err = %v, want ErrUnhandled", id, err)
		}
	}
}

func TestRestore(t *testing.T) {
	s := NewStore(2)
	_ = s.Set(400, float64(encoder.MPG))
	_ = s.Set(411, 2000)
	s.Restore()
	for _, c := range s.Configs() {
		if c != encoder.DefaultConfig() {
			t.Errorf("config = %+v, want defaults", c)
		}
	}
}

func TestReport(t *testing.T) {
	s := NewStore(2)
	_ = s.Set(410, float64(encoder.MPGZ))
	var buf bytes.Buffer
	if err := s.Report(&buf); err != nil {
		t.Fatalf("Report: %v", err)
	}
	want := strings.Join([]string{
		"$400=0", "$401=400", "$402=4", "$403=500",
		"$410=7", "$411=400", "$412=4", "$413=500",
	}, "\n") + "\n"
	if buf.String() != want {
		t.Errorf("report =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encoders.yaml")
	s := NewStore(2)
	_ = s.Set(400, float64(encoder.MPG))
	_ = s.Set(413, 700)
	if err := s.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := NewStore(2)
	if err := loaded.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := loaded.Configs()
	if got[0].Mode != encoder.MPG || got[1].DoubleClickWindow != 700 {
		t.Errorf("loaded = %+v", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	s := NewStore(1)
	err := s.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
}

func TestLoad_InvalidEntryRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encoders.yaml")
	content := "encoders:\n  - mode: 4\n    cpr: 400\n    cpd: 4\n    dbl_click_window_ms: 20\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(1)
	if err := s.Load(path); !errors.Is(err, encoder.ErrInvalidConfiguration) {
		t.Errorf("err = %v, want ErrInvalidConfiguration", err)
	}
	if s.Configs()[0] != encoder.DefaultConfig() {
		t.Error("store modified by rejected load")
	}
}

func TestSet_RejectsBindingConflicts(t *testing.T) {
	s := NewStore(2)
	s.SetAxes(3)
	if err := s.Set(400, float64(encoder.MPGX)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	cases := []struct {
		name  string
		value encoder.Mode
		want  error
	}{
		{"same_axis", encoder.MPGX, encoder.ErrInvalidConfiguration},
		{"shared_over_dedicated", encoder.MPG, encoder.ErrInvalidConfiguration},
		{"axis_beyond_machine", encoder.MPGA, encoder.ErrUnassignedAxis},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := s.Set(410, float64(tc.value)); !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
			if got, _ := s.Get(410); got != float64(encoder.Universal) {
				t.Errorf("$410 = %v, want unchanged", got)
			}
		})
	}

	// Whatever the store accepts must bind at the next start.
	if _, err := encoder.NewRegistry(s.Configs(), 3); err != nil {
		t.Errorf("stored settings do not bind: %v", err)
	}
}

func TestRestore_DefaultsBind(t *testing.T) {
	s := NewStore(3)
	s.Restore()
	if _, err := encoder.NewRegistry(s.Configs(), 3); err != nil {
		t.Errorf("factory defaults do not bind: %v", err)
	}
}

func TestLoad_BindingConflictRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encoders.yaml")
	content := "encoders:\n  - {mode: mpg_y, cpr: 400, cpd: 4, dbl_click_window_ms: 500}\n" +
		"  - {mode: mpg_y, cpr: 400, cpd: 4, dbl_click_window_ms: 500}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(2)
	if err := s.Load(path); !errors.Is(err, encoder.ErrInvalidConfiguration) {
		t.Errorf("err = %v, want ErrInvalidConfiguration", err)
	}
	if s.Configs()[0] != encoder.DefaultConfig() {
		t.Error("store modified by rejected load")
	}
}

package regstore

import (
	"errors"
	"testing"
)

func TestMemStoreValues(t *testing.T) {
	s := NewMemStore()
	s.PutString(`USB\VID_1234\001`, "FriendlyName", "Test Device")
	s.PutDWord(`USB\VID_1234\001\Device Parameters`, "EnhancedPowerManagementEnabled", 1)

	name, err := s.GetString(`USB\VID_1234\001`, "FriendlyName")
	if err != nil {
		t.Fatalf("GetString: %v", err)
	}
	if name != "Test Device" {
		t.Errorf("got %q", name)
	}

	v, err := s.GetDWord(`USB\VID_1234\001\Device Parameters`, "EnhancedPowerManagementEnabled")
	if err != nil {
		t.Fatalf("GetDWord: %v", err)
	}
	if v != 1 {
		t.Errorf("got %d, want 1", v)
	}
}

func TestMemStoreCaseInsensitive(t *testing.T) {
	s := NewMemStore()
	s.PutDWord(`USB\VID_1234\001\Device Parameters`, "EnhancedPowerManagementEnabled", 0)

	v, err := s.GetDWord(`usb\vid_1234\001\DEVICE PARAMETERS`, "enhancedpowermanagementenabled")
	if err != nil {
		t.Fatalf("case-insensitive GetDWord: %v", err)
	}
	if v != 0 {
		t.Errorf("got %d, want 0", v)
	}
}

func TestMemStoreMissing(t *testing.T) {
	s := NewMemStore()
	s.CreateKey(`USB\VID_1234\001`)

	if _, err := s.GetString(`USB\nope`, "FriendlyName"); !errors.Is(err, ErrNotExist) {
		t.Errorf("missing key: got %v, want ErrNotExist", err)
	}
	if _, err := s.GetString(`USB\VID_1234\001`, "FriendlyName"); !errors.Is(err, ErrNotExist) {
		t.Errorf("missing value: got %v, want ErrNotExist", err)
	}
	if err := s.SetDWord(`USB\nope`, "X", 1); !errors.Is(err, ErrNotExist) {
		t.Errorf("write to missing key: got %v, want ErrNotExist", err)
	}
}

func TestMemStoreSubkeys(t *testing.T) {
	s := NewMemStore()
	s.CreateKey(`USB\VID_1234\001\Device Parameters`)
	s.CreateKey(`USB\VID_1234\002`)
	s.CreateKey(`USB\VID_5678\abc`)

	names, err := s.Subkeys(`USB`)
	if err != nil {
		t.Fatalf("Subkeys: %v", err)
	}
	if len(names) != 2 || names[0] != "VID_1234" || names[1] != "VID_5678" {
		t.Errorf("unexpected subkeys %v", names)
	}

	names, err = s.Subkeys(`USB\VID_1234`)
	if err != nil {
		t.Fatalf("Subkeys: %v", err)
	}
	// "Device Parameters" is a grandchild, not a direct child
	if len(names) != 2 || names[0] != "001" || names[1] != "002" {
		t.Errorf("unexpected subkeys %v", names)
	}
}

func TestMemStoreAccessDenied(t *testing.T) {
	s := NewMemStore()
	s.CreateKey(`USB\locked`)
	s.DenyRead(`USB\locked`)
	s.DenyWrite(`USB\locked`)

	if _, err := s.Subkeys(`USB\locked`); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("Subkeys: got %v, want ErrAccessDenied", err)
	}
	if err := s.SetDWord(`USB\locked`, "X", 1); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("SetDWord: got %v, want ErrAccessDenied", err)
	}

	s.AllowWrite(`USB\locked`)
	if err := s.SetDWord(`USB\locked`, "X", 1); err != nil {
		t.Errorf("SetDWord after AllowWrite: %v", err)
	}
}

func TestMemStoreSwallowedWrite(t *testing.T) {
	s := NewMemStore()
	s.PutDWord(`USB\sticky`, "EnhancedPowerManagementEnabled", 1)
	s.SwallowWrites(`USB\sticky`)

	if err := s.SetDWord(`USB\sticky`, "EnhancedPowerManagementEnabled", 0); err != nil {
		t.Fatalf("swallowed write should report success: %v", err)
	}

	v, err := s.GetDWord(`USB\sticky`, "EnhancedPowerManagementEnabled")
	if err != nil {
		t.Fatalf("GetDWord: %v", err)
	}
	if v != 1 {
		t.Errorf("swallowed write must not change value: got %d", v)
	}
}

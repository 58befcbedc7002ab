package config

import (
	"io/ioutil"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadConfigMissingFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yml")
	c, err := LoadConfig(p)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(c, Default()) {
		t.Fatalf("expected %+v, got %+v", Default(), c)
	}
	if c.Symbolizer != "addr2line" || c.Kernel != "target/bin/kernel" || c.Backend != "addr2line" {
		t.Fatalf("unexpected defaults %+v", c)
	}
	if c.LabelColor == nil || *c.LabelColor != DefaultLabelColor {
		t.Fatalf("expected label color %d, got %v", DefaultLabelColor, c.LabelColor)
	}
}

func TestLoadConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yml")
	data := `symbolizer: "llvm-addr2line --demangle"
kernel: build/kernel.elf
label-color: 0
`
	if err := ioutil.WriteFile(p, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}
	c, err := LoadConfig(p)
	if err != nil {
		t.Fatal(err)
	}
	if c.Symbolizer != "llvm-addr2line --demangle" {
		t.Errorf("expected symbolizer %q, got %q", "llvm-addr2line --demangle", c.Symbolizer)
	}
	if c.Kernel != "build/kernel.elf" {
		t.Errorf("expected kernel %q, got %q", "build/kernel.elf", c.Kernel)
	}
	if c.Backend != DefaultBackend {
		t.Errorf("expected backend %q, got %q", DefaultBackend, c.Backend)
	}
	if c.LabelColor == nil || *c.LabelColor != 0 {
		t.Errorf("expected label color to be disabled, got %v", c.LabelColor)
	}
	if c.NativeCacheSize != DefaultNativeCacheSize {
		t.Errorf("expected cache size %d, got %d", DefaultNativeCacheSize, c.NativeCacheSize)
	}
}

func TestLoadConfigMalformed(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yml")
	if err := ioutil.WriteFile(p, []byte("kernel: [unterminated\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(p); err == nil {
		t.Fatal("expected an error decoding a malformed file")
	}
}

func TestSymbolizerArgv(t *testing.T) {
	testCases := []struct {
		in     string
		exe    string
		args   []string
		tgterr bool
	}{
		{"addr2line", "addr2line", []string{}, false},
		{"llvm-addr2line --demangle -f", "llvm-addr2line", []string{"--demangle", "-f"}, false},
		{`"/opt/cross tools/bin/x86_64-elf-addr2line" -C`, "/opt/cross tools/bin/x86_64-elf-addr2line", []string{"-C"}, false},
		{"addr2line `which kernel`", "", nil, true},
		{"", "", nil, true},
	}

	for _, tc := range testCases {
		c := &Config{Symbolizer: tc.in}
		exe, args, err := c.SymbolizerArgv()
		if tc.tgterr {
			if err == nil {
				t.Errorf("%q: expected error, got %q %q", tc.in, exe, args)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error %v", tc.in, err)
			continue
		}
		if exe != tc.exe {
			t.Errorf("%q: expected executable %q, got %q", tc.in, tc.exe, exe)
		}
		if len(args) != len(tc.args) {
			t.Errorf("%q: expected args %q, got %q", tc.in, tc.args, args)
			continue
		}
		for i := range args {
			if args[i] != tc.args[i] {
				t.Errorf("%q: expected args %q, got %q (mismatch at %d)", tc.in, tc.args, args, i)
				break
			}
		}
	}
}

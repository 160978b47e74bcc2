package cli

import (
	"path/filepath"
	"testing"
)

func TestPaths(t *testing.T) {
	p := &Paths{AppName: "recallctl", HomeDir: "/home/test"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"BaseDir", p.BaseDir(), "/home/test/.memrecall"},
		{"AppDir", p.AppDir(), "/home/test/.memrecall/recallctl"},
		{"ConfigFile", p.ConfigFile(), "/home/test/.memrecall/recallctl/config.yaml"},
		{"DataDir", p.DataDir(), "/home/test/.memrecall/recallctl/data"},
		{"StoreDir", p.StoreDir("sf"), "/home/test/.memrecall/recallctl/data/sf"},
		{"StoreDir default", p.StoreDir(""), "/home/test/.memrecall/recallctl/data/default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != filepath.FromSlash(tt.want) {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestPaths_EnsureDataDir(t *testing.T) {
	p := &Paths{AppName: "recallctl", HomeDir: t.TempDir()}
	if err := p.EnsureDataDir(); err != nil {
		t.Fatalf("EnsureDataDir() error = %v", err)
	}
	if err := p.EnsureDataDir(); err != nil {
		t.Fatalf("second EnsureDataDir() error = %v", err)
	}
}

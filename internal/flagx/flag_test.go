package flagx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		allowed []string
		want    []string
	}{
		{
			name:    "short flag with separate value",
			args:    []string{"-d", "/data", "-x", "1"},
			allowed: []string{"-d", "-p"},
			want:    []string{"-d", "/data"},
		},
		{
			name:    "equals form",
			args:    []string{"-p=participant1", "-x", "1"},
			allowed: []string{"-d", "-p"},
			want:    []string{"-p=participant1"},
		},
		{
			name:    "order preserved across forms",
			args:    []string{"-p=a", "-d", "/data", "-q"},
			allowed: []string{"-d", "-p"},
			want:    []string{"-p=a", "-d", "/data"},
		},
		{
			name:    "unknown flags and positionals ignored",
			args:    []string{"-x", "1", "--y=2", "positional"},
			allowed: []string{"-d"},
			want:    []string{},
		},
		{
			name:    "flag at end without value",
			args:    []string{"-d"},
			allowed: []string{"-d"},
			want:    []string{"-d"},
		},
		{
			name:    "next argument is another flag",
			args:    []string{"-d", "-p", "x"},
			allowed: []string{"-d"},
			want:    []string{"-d"},
		},
		{
			name:    "nil args",
			args:    nil,
			allowed: []string{"-d"},
			want:    []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterArgs(tt.args, tt.allowed)
			assert.NotNil(t, got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfigPath(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"short", []string{"-c", "a.json"}, "a.json"},
		{"long", []string{"-config", "b.json", "-d", "/x"}, "b.json"},
		{"equals", []string{"-config=c.json"}, "c.json"},
		{"absent", []string{"-d", "/x"}, ""},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConfigPath(tt.args))
		})
	}
}

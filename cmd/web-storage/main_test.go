package main

import (
	"testing"
)

func TestHashPassword_Usage(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
	}{
		{"no args", nil, 2},
		{"empty password", []string{""}, 2},
		{"extra args", []string{"a", "b"}, 2},
		{"ok", []string{"changeme123"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := hashPassword(tt.args); code != tt.code {
				t.Errorf("ожидался код %d, получен %d", tt.code, code)
			}
		})
	}
}

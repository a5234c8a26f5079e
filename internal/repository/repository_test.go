package repository

import (
	"testing"

	"github.com/sakif/hypest/internal/model"
)

func TestCredentialColumn(t *testing.T) {
	tests := []struct {
		field   model.CredentialField
		want    string
		wantErr bool
	}{
		{model.FieldNickname, "nick", false},
		{model.FieldEmail, "email", false},
		{model.FieldPassword, "password", false},
		{"salt", "", true},
		{"id", "", true},
		{"nick; DROP TABLE users", "", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.field), func(t *testing.T) {
			got, err := CredentialColumn(tt.field)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CredentialColumn(%q) error = %v, wantErr %v", tt.field, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("CredentialColumn(%q) = %q, want %q", tt.field, got, tt.want)
			}
		})
	}
}

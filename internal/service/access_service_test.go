package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pdf-pipeline-server/internal/apperr"
	"pdf-pipeline-server/internal/model"
	srv "pdf-pipeline-server/internal/service"
)

func TestAccessControlService_CanAccessFile(t *testing.T) {
	owner := "user-123"
	ownedFile := &model.File{UUID: "file-1", OwnerUUID: &owner}
	guestFile := &model.File{UUID: "file-2", Metadata: model.Metadata{"guest_ip": "203.0.113.7"}}

	tests := []struct {
		name        string
		uc          *model.UserContext
		file        *model.File
		expectDeny  bool
		expectAudit bool
	}{
		{
			name: "владелец",
			uc:   &model.UserContext{UserUUID: "user-123"},
			file: ownedFile,
		},
		{
			name: "админ видит всё",
			uc:   &model.UserContext{UserUUID: "admin-1", IsAdmin: true},
			file: ownedFile,
		},
		{
			name:        "чужой пользователь",
			uc:          &model.UserContext{UserUUID: "user-999"},
			file:        ownedFile,
			expectDeny:  true,
			expectAudit: true,
		},
		{
			name: "гость со своим IP",
			uc:   &model.UserContext{GuestIP: "203.0.113.7", Tier: model.TierGuest},
			file: guestFile,
		},
		{
			name:        "гость с чужим IP",
			uc:          &model.UserContext{GuestIP: "198.51.100.1", Tier: model.TierGuest},
			file:        guestFile,
			expectDeny:  true,
			expectAudit: true,
		},
		{
			name:        "гость к файлу пользователя",
			uc:          &model.UserContext{GuestIP: "203.0.113.7", Tier: model.TierGuest},
			file:        ownedFile,
			expectDeny:  true,
			expectAudit: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			audit := new(MockAuditService)
			service := srv.NewAccessControlService(audit)

			if tt.expectAudit {
				audit.On("Log", mock.Anything, model.AuditSecurityAlert, mock.Anything,
					"file", tt.file.UUID, mock.Anything, mock.Anything).Return(nil)
			}

			err := service.CanAccessFile(context.Background(), tt.uc, tt.file)

			if tt.expectDeny {
				require.Error(t, err)
				var se *apperr.SecurityError
				assert.ErrorAs(t, err, &se)
			} else {
				assert.NoError(t, err)
			}
			audit.AssertExpectations(t)
		})
	}
}

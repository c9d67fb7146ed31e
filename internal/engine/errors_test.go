package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/sitesync/internal/store"
	"github.com/roach88/sitesync/internal/transport"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want SyncErrorCode
	}{
		{"auth", &transport.Error{Kind: transport.KindAuth}, ErrCodeAuth},
		{"site", &transport.Error{Kind: transport.KindSiteNotAuthorised}, ErrCodeSiteNotAuthorised},
		{"network", &transport.Error{Kind: transport.KindTransport}, ErrCodeConnection},
		{"rejected", &transport.Error{Kind: transport.KindRejected}, ErrCodeRejected},
		{"protocol", &transport.Error{Kind: transport.KindProtocol}, ErrCodeProtocol},
		{"storage", fmt.Errorf("stage: %w", &store.StorageError{Op: "stage", Err: errors.New("disk I/O error")}), ErrCodeStorage},
		{"cancelled", &transport.Error{Kind: transport.KindTransport, Err: context.Canceled}, ErrCodeCancelled},
		{"deadline", context.DeadlineExceeded, ErrCodeCancelled},
		{"other", errors.New("boom"), ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			se := classify(PhasePulling, tt.err)
			assert.Equal(t, tt.want, se.Code)
			assert.Equal(t, PhasePulling, se.Phase)
			assert.ErrorIs(t, se, tt.err)
		})
	}
}

func TestClassify_KeepsSyncError(t *testing.T) {
	orig := &SyncError{Code: ErrCodeBusy}
	assert.Same(t, orig, classify(PhasePushing, fmt.Errorf("wrapped: %w", orig)))
}

func TestSyncError_RequiresReconfiguration(t *testing.T) {
	assert.True(t, (&SyncError{Code: ErrCodeAuth}).RequiresReconfiguration())
	assert.True(t, (&SyncError{Code: ErrCodeSiteNotAuthorised}).RequiresReconfiguration())
	assert.True(t, (&SyncError{Code: ErrCodeNotConfigured}).RequiresReconfiguration())
	assert.False(t, (&SyncError{Code: ErrCodeConnection}).RequiresReconfiguration())
}

func TestSyncError_Message(t *testing.T) {
	err := &SyncError{Code: ErrCodeConnection, Phase: PhasePulling, Err: errors.New("dial tcp: refused")}
	assert.Equal(t, "CONNECTION_ERROR during pulling: dial tcp: refused", err.Error())
	assert.True(t, IsSyncError(fmt.Errorf("cycle: %w", err)))
	assert.Equal(t, SyncErrorCode(""), CodeOf(errors.New("plain")))
}

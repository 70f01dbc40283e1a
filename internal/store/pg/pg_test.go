package pg

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"assignbot/internal/store"
)

func TestTranslateAssignErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "user unique violation",
			err:  &pq.Error{Code: "23505", Constraint: constraintAssignmentsUserKey},
			want: store.ErrUserAlreadyManager,
		},
		{
			name: "group pk violation",
			err:  &pq.Error{Code: "23505", Constraint: constraintAssignmentsPK},
			want: store.ErrAlreadyAssigned,
		},
		{
			name: "wrapped pq error",
			err:  fmt.Errorf("exec: %w", &pq.Error{Code: "23505", Constraint: constraintAssignmentsUserKey}),
			want: store.ErrUserAlreadyManager,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateAssignErr(tt.err)
			assert.ErrorIs(t, got, tt.want)
		})
	}
}

func TestTranslateAssignErrPassthrough(t *testing.T) {
	plain := errors.New("connection reset")
	got := translateAssignErr(plain)
	assert.ErrorIs(t, got, plain)
	assert.NotErrorIs(t, got, store.ErrAlreadyAssigned)
	assert.NotErrorIs(t, got, store.ErrUserAlreadyManager)
}

func TestTranslateAssignErrOtherConstraint(t *testing.T) {
	err := &pq.Error{Code: "23503", Constraint: "assignments_user_id_fkey"}
	got := translateAssignErr(err)
	assert.NotErrorIs(t, got, store.ErrAlreadyAssigned)
	assert.NotErrorIs(t, got, store.ErrUserAlreadyManager)
}

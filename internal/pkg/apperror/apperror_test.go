package apperror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/cmlabs-hris/fieldshift/internal/pkg/validator"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	errBusy := New(KindInfrastructure, "BUSY", "busy")
	wrapped := fmt.Errorf("acquire lock: %w", errBusy)

	assert.Equal(t, KindInfrastructure, KindOf(errBusy))
	assert.Equal(t, KindInfrastructure, KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, errBusy))
	assert.Equal(t, "BUSY", CodeOf(wrapped))

	assert.Equal(t, KindValidation, KindOf(validator.ValidationErrors{{Field: "f", Message: "m"}}))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, "", CodeOf(errors.New("boom")))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "policy", KindPolicy.String())
	assert.Equal(t, "state", KindState.String())
	assert.Equal(t, "internal", Kind(99).String())
}

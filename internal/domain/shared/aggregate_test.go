package shared

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestBaseAggregateRoot_Versioning(t *testing.T) {
	a := NewBaseAggregateRoot()
	assert.Equal(t, 1, a.Version)
	assert.Zero(t, a.PersistedVersion(), "never saved")

	a.MarkPersisted()
	before := a.UpdatedAt
	a.Changed()
	a.Changed()
	assert.Equal(t, 3, a.Version)
	assert.Equal(t, 1, a.PersistedVersion(), "a save must still match the loaded row")
	assert.False(t, a.UpdatedAt.Before(before))

	a.MarkPersisted()
	assert.Equal(t, 3, a.PersistedVersion())
}

func TestRestoreAggregateRoot(t *testing.T) {
	e := NewBaseEntityWithID(uuid.New())
	a := RestoreAggregateRoot(e, 7)
	assert.Equal(t, e.ID, a.ID)
	assert.Equal(t, 7, a.Version)
	assert.Equal(t, 7, a.PersistedVersion())
}

package shared

// BaseAggregateRoot versions an entity for optimistic locking.
//
// Version starts at 1 and grows by one per mutation. The persisted version is the
// one storage last confirmed; a conditional update must find exactly that version
// in the row, which rejects a writer that loaded the aggregate before someone else
// saved it.
type BaseAggregateRoot struct {
	BaseEntity
	Version   int
	persisted int
}

// NewBaseAggregateRoot creates an unsaved aggregate at version 1
func NewBaseAggregateRoot() BaseAggregateRoot {
	return BaseAggregateRoot{BaseEntity: NewBaseEntity(), Version: 1}
}

// RestoreAggregateRoot rebuilds an aggregate read from storage at version
func RestoreAggregateRoot(e BaseEntity, version int) BaseAggregateRoot {
	return BaseAggregateRoot{BaseEntity: e, Version: version, persisted: version}
}

// Changed records one mutation
func (a *BaseAggregateRoot) Changed() {
	a.Version++
	a.Touch()
}

// PersistedVersion is the version a conditional update expects to overwrite
func (a *BaseAggregateRoot) PersistedVersion() int {
	return a.persisted
}

// MarkPersisted records that storage holds the current version
func (a *BaseAggregateRoot) MarkPersisted() {
	a.persisted = a.Version
}

package postgres

// Reader composes the unit and result repositories into the read model
// behind the status API.
type Reader struct {
	*UnitRepository
	*ResultRepository
}

func NewReader(units *UnitRepository, results *ResultRepository) *Reader {
	return &Reader{UnitRepository: units, ResultRepository: results}
}
